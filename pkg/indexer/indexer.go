// Package indexer periodically classifies recent commits and stores their
// significance summaries.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/format"
	"github.com/leanprover/radar/pkg/indexstore"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/significance"
)

// Source is the subset of the radar API the indexer reads. Both
// client.Client and *client.Queries implement it.
type Source interface {
	Repos(ctx context.Context) (*model.ReposResponse, error)
	History(ctx context.Context, repo string, q client.HistoryQuery) (*model.HistoryResponse, error)
	Compare(ctx context.Context, repo, first, second string) (*model.CompareResponse, error)
}

// Indexer is a background service that periodically fetches recent
// history and upserts a significance summary per commit.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error

	// RunPass indexes every configured repo once.
	RunPass(ctx context.Context) error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log    logrus.FieldLogger
	store  indexstore.Store
	source Source
	cfg    *config.IndexingConfig
	now    func() time.Time

	concurrency int
	depth       int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dbMu     sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	source Source,
	cfg *config.IndexingConfig,
) Indexer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultIndexingConcurrency
	}

	depth := cfg.Depth
	if depth <= 0 {
		depth = config.DefaultIndexingDepth
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		source:      source,
		cfg:         cfg,
		now:         time.Now,
		concurrency: concurrency,
		depth:       depth,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval.
func (idx *indexer) Start(ctx context.Context) error {
	interval := idx.cfg.IntervalDuration()

	idx.log.WithFields(logrus.Fields{
		"interval":    interval.String(),
		"concurrency": idx.concurrency,
		"depth":       idx.depth,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.logPass(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.logPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	idx.stopOnce.Do(func() { close(idx.done) })
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

func (idx *indexer) logPass(ctx context.Context) {
	if err := idx.RunPass(ctx); err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")
	}
}

// RunPass implements Indexer. Failures of single repos are logged and do
// not abort the pass.
func (idx *indexer) RunPass(ctx context.Context) error {
	start := time.Now()

	repos, err := idx.repos(ctx)
	if err != nil {
		return err
	}

	idx.log.WithField("repos", len(repos)).Info("Indexing pass started")

	for _, repo := range repos {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idx.done:
			return nil
		default:
		}

		if err := idx.indexRepo(ctx, repo); err != nil {
			idx.log.WithError(err).
				WithField("repo", repo).
				Warn("Indexing pass failed for repo")
		}
	}

	idx.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Info("Indexing pass completed")

	return nil
}

func (idx *indexer) repos(ctx context.Context) ([]string, error) {
	if len(idx.cfg.Repos) > 0 {
		return idx.cfg.Repos, nil
	}

	resp, err := idx.source.Repos(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}

	repos := make([]string, 0, len(resp.Repos))
	for _, repo := range resp.Repos {
		repos = append(repos, repo.Name)
	}

	return repos, nil
}

// indexRepo indexes new commits of the most recent history page and
// re-indexes commits whose comparison was not available before.
func (idx *indexer) indexRepo(ctx context.Context, repo string) error {
	history, err := idx.source.History(ctx, repo, client.HistoryQuery{N: idx.depth})
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	indexed, err := idx.store.ListChashes(ctx, repo)
	if err != nil {
		return fmt.Errorf("listing indexed chashes: %w", err)
	}

	incomplete, err := idx.store.ListIncompleteChashes(ctx, repo)
	if err != nil {
		return fmt.Errorf("listing incomplete chashes: %w", err)
	}

	indexedSet := make(map[string]struct{}, len(indexed))
	for _, chash := range indexed {
		indexedSet[chash] = struct{}{}
	}

	incompleteSet := make(map[string]struct{}, len(incomplete))
	for _, chash := range incomplete {
		incompleteSet[chash] = struct{}{}
	}

	type commitTask struct {
		commit         model.Commit
		alreadyIndexed bool
	}

	var tasks []commitTask

	for _, commit := range history.Commits {
		_, alreadyIndexed := indexedSet[commit.Chash]
		_, isIncomplete := incompleteSet[commit.Chash]

		if alreadyIndexed && !isIncomplete {
			continue
		}

		tasks = append(tasks, commitTask{commit: commit, alreadyIndexed: alreadyIndexed})
	}

	repoLog := idx.log.WithField("repo", repo)

	repoLog.WithFields(logrus.Fields{
		"history":    len(history.Commits),
		"indexed":    len(indexed),
		"incomplete": len(incomplete),
		"tasks":      len(tasks),
	}).Info("Scanning repo")

	if len(tasks) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var count atomic.Int64

	for _, task := range tasks {
		task := task

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexCommit(gCtx, repo, task.commit, task.alreadyIndexed); err != nil {
				repoLog.WithError(err).
					WithField("chash", task.commit.Chash).
					Warn("Failed to index commit")

				return nil //nolint:nilerr // log and continue
			}

			count.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing commits: %w", err)
	}

	if n := count.Load(); n > 0 {
		repoLog.WithField("count", n).Info("Repo indexing complete")
	}

	return nil
}

// indexCommit compares commit against its parent and upserts the result.
// A missing comparison is stored as incomplete so the next pass retries.
func (idx *indexer) indexCommit(ctx context.Context, repo string, commit model.Commit, isReindex bool) error {
	now := idx.now().UTC()

	summary := &indexstore.CommitSummary{
		Repo:        repo,
		Chash:       commit.Chash,
		Title:       commit.Title,
		CommittedAt: commit.Committer.Time.Time,
		IndexedAt:   now,
	}

	if isReindex {
		summary.ReindexedAt = &now
	}

	resp, err := idx.source.Compare(ctx, repo, client.CompareParent, commit.Chash)

	switch {
	case client.IsNotFound(err):
		summary.Complete = false
	case err != nil:
		return fmt.Errorf("fetching comparison: %w", err)
	default:
		classified := significance.Classify(&resp.Comparison)

		messages, mErr := json.Marshal(classified)
		if mErr != nil {
			return fmt.Errorf("encoding messages: %w", mErr)
		}

		summary.Complete = true
		summary.ParentChash = resp.ChashFirst.OrElse("")
		summary.Significant = resp.Comparison.Significant
		summary.MajorCount = classified.MajorCount
		summary.MinorCount = classified.MinorCount
		summary.Headline = significance.Render(Headline(classified), format.New()).String()
		summary.MessagesJSON = string(messages)
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.store.UpsertSummary(ctx, summary); err != nil {
		return fmt.Errorf("upserting summary: %w", err)
	}

	return nil
}

// Headline describes a classified comparison in one message, e.g.
// "3 significant changes (1 major)". It is bad when any message is bad and
// good when at least one message is good and none is bad.
func Headline(s significance.Summary) model.Message {
	b := significance.NewMessage()

	total := s.MajorCount + s.MinorCount
	if total == 0 {
		return b.AddText("No significant changes").Build()
	}

	var all []model.Message

	all = append(all, s.RunMessages...)
	all = append(all, s.MajorMetricMessages...)
	all = append(all, s.MinorMetricMessages...)

	good, bad, _ := significance.Count(all)

	switch {
	case bad > 0:
		b.SetGoodness(model.Bad)
	case good > 0:
		b.SetGoodness(model.Good)
	}

	noun := "changes"
	if total == 1 {
		noun = "change"
	}

	b.AddText(fmt.Sprintf("%d significant %s", total, noun))

	if s.MajorCount > 0 {
		b.AddText(fmt.Sprintf(" (%d major)", s.MajorCount))
	}

	return b.Build()
}
