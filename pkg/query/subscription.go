package query

import (
	"sync"
	"time"
)

// Result is the outcome of one fetch as seen by a subscriber. Value holds
// the last successful value even when Err is set.
type Result struct {
	Value     any
	Err       error
	FetchedAt time.Time
}

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	// RefetchInterval polls the key while subscribed. Zero disables polling.
	RefetchInterval time.Duration
}

// Subscription observes one cache entry. Updates only ever holds the most
// recent result; slow readers skip intermediate ones.
type Subscription struct {
	cache   *cache
	id      string
	updates chan Result
	done    chan struct{}
	once    sync.Once
}

// Subscribe implements Cache.
func (c *cache) Subscribe(key Key, fetch Fetcher, opts SubscribeOptions) *Subscription {
	sub := &Subscription{
		cache:   c,
		id:      key.String(),
		updates: make(chan Result, 1),
		done:    make(chan struct{}),
	}

	c.mu.Lock()

	e := c.entryLocked(key)
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}

	e.subscribers[sub] = struct{}{}
	e.fetch = fetch

	fetchNow := !e.hasValue || !c.freshLocked(e)

	if e.hasValue {
		sub.deliver(Result{Value: e.value, FetchedAt: e.lastFetched})
	}

	c.mu.Unlock()

	go sub.loop(key, fetch, opts.RefetchInterval, fetchNow)

	return sub
}

// Updates delivers fetch results. It is closed by Close.
func (s *Subscription) Updates() <-chan Result {
	return s.updates
}

// Close releases the subscription. When the entry has no subscribers left
// it is collected after the grace delay.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)

		c := s.cache

		c.mu.Lock()
		defer c.mu.Unlock()

		if e, ok := c.entries[s.id]; ok {
			delete(e.subscribers, s)

			if len(e.subscribers) == 0 {
				c.scheduleGCLocked(s.id, e)
			}
		}

		close(s.updates)
	})
}

func (s *Subscription) loop(key Key, fetch Fetcher, interval time.Duration, fetchNow bool) {
	if fetchNow {
		s.cache.refresh(key, fetch)
	}

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.cache.done:
			return
		case <-ticker.C:
			select {
			case <-s.done:
				return
			default:
			}

			s.cache.refresh(key, fetch)
		}
	}
}

// deliver replaces any unread result with res. The cache mutex must be
// held.
func (s *Subscription) deliver(res Result) {
	select {
	case s.updates <- res:
		return
	default:
	}

	select {
	case <-s.updates:
	default:
	}

	select {
	case s.updates <- res:
	default:
	}
}
