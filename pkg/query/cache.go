package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultGCGrace is how long an unobserved entry survives before it is
// collected.
const DefaultGCGrace = 5 * time.Second

// Refetch intervals used by the polling views.
const (
	RefetchQueue     = 5 * time.Second
	RefetchQueueRun  = 1 * time.Second
	RefetchGithubBot = 30 * time.Second
)

// Fetcher loads the value for a key.
type Fetcher func(ctx context.Context) (any, error)

// Options configures a Cache.
type Options struct {
	// GCGrace delays collection of entries nobody observes. Zero means
	// DefaultGCGrace.
	GCGrace time.Duration
	// StaleTime is how long a fetched value stays fresh. Zero means fresh
	// until invalidated.
	StaleTime time.Duration
}

// Cache stores fetched values by Key.
type Cache interface {
	// Get returns the cached value when fresh, otherwise fetches it. Only
	// one fetch per key is in flight at a time; concurrent callers share
	// its result. If ctx ends first the caller gets ctx.Err() while the
	// fetch completes in the background and still populates the cache.
	Get(ctx context.Context, key Key, fetch Fetcher) (any, error)

	// Peek returns the cached value without fetching.
	Peek(key Key) (value any, ok bool)

	// Invalidate marks stale every entry selected by prefix and refetches
	// those with subscribers. It returns the number of entries marked.
	Invalidate(prefix Key) int

	// Subscribe observes key, fetching it now if needed and then every
	// opts.RefetchInterval. Close the subscription to release the entry.
	Subscribe(key Key, fetch Fetcher, opts SubscribeOptions) *Subscription

	// Len returns the number of live entries.
	Len() int

	// Stop cancels background refetching and pending collection.
	Stop()
}

// Compile-time interface check.
var _ Cache = (*cache)(nil)

type cache struct {
	log   logrus.FieldLogger
	opts  Options
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry

	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	key         Key
	value       any
	hasValue    bool
	err         error
	lastFetched time.Time
	stale       bool
	// gen increments on every invalidation so a fetch that started before
	// it cannot mark the entry fresh.
	gen         uint64
	subscribers map[*Subscription]struct{}
	fetch       Fetcher
	gcTimer     *time.Timer
}

// NewCache creates an empty cache.
func NewCache(log logrus.FieldLogger, opts Options) Cache {
	if opts.GCGrace <= 0 {
		opts.GCGrace = DefaultGCGrace
	}

	return &cache{
		log:     log.WithField("component", "query-cache"),
		opts:    opts,
		entries: make(map[string]*entry, 32),
		done:    make(chan struct{}),
	}
}

// Get fetches key through c and asserts the result to T.
func Get[T any](ctx context.Context, c Cache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %s has type %T, want %T", key, v, zero)
	}

	return typed, nil
}

// Get implements Cache.
func (c *cache) Get(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	id := key.String()

	c.mu.Lock()

	e := c.entryLocked(key)
	if e.hasValue && c.freshLocked(e) {
		v := e.value
		c.mu.Unlock()

		return v, nil
	}

	c.mu.Unlock()

	ch := c.group.DoChan(id, func() (any, error) {
		return c.run(context.WithoutCancel(ctx), key, fetch)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Peek implements Cache.
func (c *cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok || !e.hasValue {
		return nil, false
	}

	return e.value, true
}

// Invalidate implements Cache.
func (c *cache) Invalidate(prefix Key) int {
	type refetch struct {
		key   Key
		fetch Fetcher
	}

	var (
		marked  int
		pending []refetch
	)

	c.mu.Lock()

	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}

		e.stale = true
		e.gen++
		marked++

		if len(e.subscribers) > 0 && e.fetch != nil {
			pending = append(pending, refetch{key: e.key, fetch: e.fetch})
		}
	}

	c.mu.Unlock()

	for _, r := range pending {
		go c.refresh(r.key, r.fetch)
	}

	c.log.WithFields(logrus.Fields{
		"prefix":    prefix.String(),
		"marked":    marked,
		"refetched": len(pending),
	}).Debug("Invalidated cache entries")

	return marked
}

// Len implements Cache.
func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stop implements Cache.
func (c *cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		for _, e := range c.entries {
			if e.gcTimer != nil {
				e.gcTimer.Stop()
			}
		}
	})
}

// refresh triggers a shared fetch and discards the result; subscribers
// are notified by run.
func (c *cache) refresh(key Key, fetch Fetcher) {
	_, _, _ = c.group.Do(key.String(), func() (any, error) {
		return c.run(context.Background(), key, fetch)
	})
}

// run performs one fetch and stores its outcome.
func (c *cache) run(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	id := key.String()

	c.mu.Lock()
	gen := c.entryLocked(key).gen
	c.mu.Unlock()

	start := time.Now()
	v, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The entry may have been collected while the fetch was running.
	e := c.entryLocked(key)

	if err != nil {
		e.err = err
		e.stale = true
	} else {
		e.value = v
		e.hasValue = true
		e.err = nil
		e.lastFetched = time.Now()
		e.stale = e.gen != gen
	}

	if e.fetch == nil {
		e.fetch = fetch
	}

	c.log.WithFields(logrus.Fields{
		"key":      id,
		"duration": time.Since(start),
		"error":    err,
	}).Debug("Fetched cache entry")

	res := Result{Value: e.value, Err: err, FetchedAt: e.lastFetched}
	for sub := range e.subscribers {
		sub.deliver(res)
	}

	if len(e.subscribers) == 0 {
		c.scheduleGCLocked(id, e)
	}

	return v, err
}

// entryLocked returns the entry for key, creating it if needed. c.mu must
// be held.
func (c *cache) entryLocked(key Key) *entry {
	id := key.String()

	if e, ok := c.entries[id]; ok {
		return e
	}

	e := &entry{
		key:         key,
		subscribers: make(map[*Subscription]struct{}, 1),
	}
	c.entries[id] = e
	c.scheduleGCLocked(id, e)

	return e
}

func (c *cache) freshLocked(e *entry) bool {
	if e.stale {
		return false
	}

	if c.opts.StaleTime <= 0 {
		return true
	}

	return time.Since(e.lastFetched) < c.opts.StaleTime
}

func (c *cache) scheduleGCLocked(id string, e *entry) {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
	}

	e.gcTimer = time.AfterFunc(c.opts.GCGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if current, ok := c.entries[id]; ok && current == e && len(e.subscribers) == 0 {
			delete(c.entries, id)
		}
	})
}
