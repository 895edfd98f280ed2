package client

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/query"
)

// Cache key entities, one per endpoint.
const (
	EntityRepos        = "repos"
	EntityHistory      = "history"
	EntityMetrics      = "metrics"
	EntityGraph        = "graph"
	EntityGithubBot    = "github-bot"
	EntityCommit       = "commit"
	EntityCommitRun    = "commit-run"
	EntityCompare      = "compare"
	EntityRuns         = "runs"
	EntityQueue        = "queue"
	EntityQueueRun     = "queue-run"
	EntityAdminMetrics = "admin-metrics"
)

type repoParams struct {
	Repo string `mapstructure:"repo"`
}

type historyParams struct {
	Repo   string `mapstructure:"repo"`
	N      int    `mapstructure:"n"`
	Skip   int    `mapstructure:"skip"`
	Search string `mapstructure:"s"`
}

type graphParams struct {
	Repo    string `mapstructure:"repo"`
	N       int    `mapstructure:"n"`
	Metrics string `mapstructure:"m"`
}

type commitParams struct {
	Repo  string `mapstructure:"repo"`
	Chash string `mapstructure:"chash"`
}

type runParams struct {
	Repo  string `mapstructure:"repo"`
	Chash string `mapstructure:"chash"`
	Run   string `mapstructure:"run"`
}

type compareParams struct {
	Repo   string `mapstructure:"repo"`
	First  string `mapstructure:"first"`
	Second string `mapstructure:"second"`
}

// RepoKey selects every entry of entity for repo.
func RepoKey(entity, repo string) query.Key {
	return query.MustKey(entity, repoParams{Repo: repo})
}

// HistoryKey is the cache key of a history page.
func HistoryKey(repo string, q HistoryQuery) query.Key {
	return query.MustKey(EntityHistory, historyParams{
		Repo:   repo,
		N:      HistoryN.Clamp(q.N),
		Skip:   HistorySkip.Clamp(q.Skip),
		Search: q.Search.OrElse(""),
	})
}

// GraphKey is the cache key of a graph query.
func GraphKey(repo string, q GraphQuery) query.Key {
	metrics := append([]string(nil), q.Metrics...)
	sort.Strings(metrics)

	return query.MustKey(EntityGraph, graphParams{
		Repo:    repo,
		N:       GraphN.Clamp(q.N),
		Metrics: strings.Join(metrics, "\x00"),
	})
}

// CommitKey is the cache key of a commit.
func CommitKey(repo, chash string) query.Key {
	return query.MustKey(EntityCommit, commitParams{Repo: repo, Chash: chash})
}

// CommitRunKey is the cache key of a finished run's output.
func CommitRunKey(repo, chash, run string) query.Key {
	return query.MustKey(EntityCommitRun, runParams{Repo: repo, Chash: chash, Run: run})
}

// CompareKey is the cache key of a comparison.
func CompareKey(repo, first, second string) query.Key {
	return query.MustKey(EntityCompare, compareParams{Repo: repo, First: first, Second: second})
}

// RunsKey is the cache key of the runs of a commit.
func RunsKey(repo, chash string) query.Key {
	return query.MustKey(EntityRuns, commitParams{Repo: repo, Chash: chash})
}

// QueueKey is the cache key of the queue.
func QueueKey() query.Key {
	return query.MustKey(EntityQueue, nil)
}

// QueueRunKey is the cache key of an active run's output.
func QueueRunKey(repo, chash, run string) query.Key {
	return query.MustKey(EntityQueueRun, runParams{Repo: repo, Chash: chash, Run: run})
}

// QueueRunResult is the cached outcome of a queue run lookup.
type QueueRunResult struct {
	Run   *model.QueueRunResponse
	Found bool
}

// RefetchIntervals configures polling of the live views.
type RefetchIntervals struct {
	Queue     time.Duration
	QueueRun  time.Duration
	GithubBot time.Duration
}

// DefaultRefetchIntervals returns the standard polling intervals.
func DefaultRefetchIntervals() RefetchIntervals {
	return RefetchIntervals{
		Queue:     query.RefetchQueue,
		QueueRun:  query.RefetchQueueRun,
		GithubBot: query.RefetchGithubBot,
	}
}

// Queries serves endpoint reads through a query.Cache.
type Queries struct {
	client  Client
	cache   query.Cache
	refetch RefetchIntervals
}

// NewQueries wraps c with cache.
func NewQueries(c Client, cache query.Cache, refetch RefetchIntervals) *Queries {
	return &Queries{client: c, cache: cache, refetch: refetch}
}

// Cache returns the underlying cache.
func (q *Queries) Cache() query.Cache {
	return q.cache
}

// Client returns the underlying client.
func (q *Queries) Client() Client {
	return q.client
}

func (q *Queries) Repos(ctx context.Context) (*model.ReposResponse, error) {
	return query.Get(ctx, q.cache, query.MustKey(EntityRepos, nil), q.client.Repos)
}

func (q *Queries) History(ctx context.Context, repo string, hq HistoryQuery) (*model.HistoryResponse, error) {
	return query.Get(ctx, q.cache, HistoryKey(repo, hq), func(ctx context.Context) (*model.HistoryResponse, error) {
		return q.client.History(ctx, repo, hq)
	})
}

func (q *Queries) Metrics(ctx context.Context, repo string) (*model.MetricsResponse, error) {
	return query.Get(ctx, q.cache, RepoKey(EntityMetrics, repo), func(ctx context.Context) (*model.MetricsResponse, error) {
		return q.client.Metrics(ctx, repo)
	})
}

func (q *Queries) Graph(ctx context.Context, repo string, gq GraphQuery) (*model.GraphResponse, error) {
	return query.Get(ctx, q.cache, GraphKey(repo, gq), func(ctx context.Context) (*model.GraphResponse, error) {
		return q.client.Graph(ctx, repo, gq)
	})
}

func (q *Queries) GithubBot(ctx context.Context, repo string) (*model.GithubBotResponse, error) {
	return query.Get(ctx, q.cache, RepoKey(EntityGithubBot, repo), func(ctx context.Context) (*model.GithubBotResponse, error) {
		return q.client.GithubBot(ctx, repo)
	})
}

func (q *Queries) Commit(ctx context.Context, repo, chash string) (*model.CommitResponse, error) {
	return query.Get(ctx, q.cache, CommitKey(repo, chash), func(ctx context.Context) (*model.CommitResponse, error) {
		return q.client.Commit(ctx, repo, chash)
	})
}

func (q *Queries) CommitRun(ctx context.Context, repo, chash, run string) (*model.CommitRunResponse, error) {
	return query.Get(ctx, q.cache, CommitRunKey(repo, chash, run), func(ctx context.Context) (*model.CommitRunResponse, error) {
		return q.client.CommitRun(ctx, repo, chash, run)
	})
}

func (q *Queries) Compare(ctx context.Context, repo, first, second string) (*model.CompareResponse, error) {
	return query.Get(ctx, q.cache, CompareKey(repo, first, second), func(ctx context.Context) (*model.CompareResponse, error) {
		return q.client.Compare(ctx, repo, first, second)
	})
}

func (q *Queries) Runs(ctx context.Context, repo, chash string) (*model.RunsResponse, error) {
	return query.Get(ctx, q.cache, RunsKey(repo, chash), func(ctx context.Context) (*model.RunsResponse, error) {
		return q.client.Runs(ctx, repo, chash)
	})
}

func (q *Queries) Queue(ctx context.Context) (*model.QueueResponse, error) {
	return query.Get(ctx, q.cache, QueueKey(), q.client.Queue)
}

func (q *Queries) QueueRun(ctx context.Context, repo, chash, run string) (QueueRunResult, error) {
	return query.Get(ctx, q.cache, QueueRunKey(repo, chash, run), q.queueRunFetcher(repo, chash, run))
}

func (q *Queries) AdminMetrics(ctx context.Context, repo string) (*model.AdminMetricsResponse, error) {
	return query.Get(ctx, q.cache, RepoKey(EntityAdminMetrics, repo), func(ctx context.Context) (*model.AdminMetricsResponse, error) {
		return q.client.AdminMetrics(ctx, repo)
	})
}

// WatchQueue polls the queue. Values are *model.QueueResponse.
func (q *Queries) WatchQueue() *query.Subscription {
	return q.cache.Subscribe(QueueKey(), func(ctx context.Context) (any, error) {
		return q.client.Queue(ctx)
	}, query.SubscribeOptions{RefetchInterval: q.refetch.Queue})
}

// WatchQueueRun polls an active run. Values are QueueRunResult.
func (q *Queries) WatchQueueRun(repo, chash, run string) *query.Subscription {
	fetch := q.queueRunFetcher(repo, chash, run)

	return q.cache.Subscribe(QueueRunKey(repo, chash, run), func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, query.SubscribeOptions{RefetchInterval: q.refetch.QueueRun})
}

// WatchGithubBot polls the bot commands of repo. Values are
// *model.GithubBotResponse.
func (q *Queries) WatchGithubBot(repo string) *query.Subscription {
	return q.cache.Subscribe(RepoKey(EntityGithubBot, repo), func(ctx context.Context) (any, error) {
		return q.client.GithubBot(ctx, repo)
	}, query.SubscribeOptions{RefetchInterval: q.refetch.GithubBot})
}

func (q *Queries) queueRunFetcher(repo, chash, run string) func(context.Context) (QueueRunResult, error) {
	return func(ctx context.Context) (QueueRunResult, error) {
		resp, found, err := q.client.QueueRun(ctx, repo, chash, run)
		if err != nil {
			return QueueRunResult{}, err
		}

		return QueueRunResult{Run: resp, Found: found}, nil
	}
}

// InvalidateCompare marks every comparison of repo stale.
func (q *Queries) InvalidateCompare(repo string) int {
	return q.cache.Invalidate(RepoKey(EntityCompare, repo))
}

// InvalidateCommit marks every commit of repo stale.
func (q *Queries) InvalidateCommit(repo string) int {
	return q.cache.Invalidate(RepoKey(EntityCommit, repo))
}

// InvalidateAdminRepoMetrics marks the admin metric listing of repo stale.
func (q *Queries) InvalidateAdminRepoMetrics(repo string) int {
	return q.cache.Invalidate(RepoKey(EntityAdminMetrics, repo))
}

// InvalidateRepo marks every repo scoped entry of repo stale.
func (q *Queries) InvalidateRepo(repo string) int {
	var n int

	for _, entity := range []string{
		EntityHistory, EntityMetrics, EntityGraph, EntityGithubBot, EntityCommit,
		EntityCommitRun, EntityCompare, EntityRuns, EntityAdminMetrics,
	} {
		n += q.cache.Invalidate(RepoKey(entity, repo))
	}

	return n
}

// InvalidateQueue marks the queue stale.
func (q *Queries) InvalidateQueue() int {
	return q.cache.Invalidate(QueueKey())
}
