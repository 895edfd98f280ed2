package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/indexstore"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/significance"
)

type fakeSource struct {
	mu       sync.Mutex
	repos    []string
	commits  map[string][]model.Commit
	compares map[string]*model.CompareResponse
	failing  map[string]bool
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		commits:  make(map[string][]model.Commit),
		compares: make(map[string]*model.CompareResponse),
		failing:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (f *fakeSource) Repos(context.Context) (*model.ReposResponse, error) {
	resp := &model.ReposResponse{}
	for _, name := range f.repos {
		resp.Repos = append(resp.Repos, model.Repo{Name: name})
	}

	return resp, nil
}

func (f *fakeSource) History(_ context.Context, repo string, q client.HistoryQuery) (*model.HistoryResponse, error) {
	commits := f.commits[repo]
	if q.N > 0 && len(commits) > q.N {
		commits = commits[:q.N]
	}

	return &model.HistoryResponse{Commits: commits}, nil
}

func (f *fakeSource) Compare(_ context.Context, repo, first, second string) (*model.CompareResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[second]++

	if first != client.CompareParent {
		return nil, errors.New("unexpected first commit")
	}

	if f.failing[second] {
		return nil, &client.HTTPError{URL: "/compare", StatusCode: 502, Status: "502 Bad Gateway"}
	}

	resp, ok := f.compares[repo+"/"+second]
	if !ok {
		return nil, &client.NotFoundError{URL: "/compare/" + repo + "/parent/" + second}
	}

	return resp, nil
}

func (f *fakeSource) callCount(chash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[chash]
}

func commit(chash, title string, at time.Time) model.Commit {
	ident := model.CommitIdent{Name: "dev", Email: "dev@example.com", Time: codec.NewTimestamp(at)}

	return model.Commit{Chash: chash, Title: title, Author: ident, Committer: ident}
}

func significant(sev model.Severity, g model.Goodness, text string) codec.Optional[model.Significance] {
	msg := significance.NewMessage().SetGoodness(g).AddText(text).Build()

	return codec.Some(model.Significance{Severity: sev, Message: msg})
}

func setup(t *testing.T, cfg *config.IndexingConfig) (*indexer, indexstore.Store, *fakeSource) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := indexstore.NewStore(log, &config.DatabaseConfig{
		Driver: config.DatabaseDriverSQLite,
		SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(t.TempDir(), "index.db")},
	})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Stop() })

	source := newFakeSource()

	idx, ok := NewIndexer(log, store, source, cfg).(*indexer)
	require.True(t, ok)

	return idx, store, source
}

func TestRunPass_IndexesHistory(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Repos: []string{"lean4"}})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source.commits["lean4"] = []model.Commit{
		commit("c2", "second", base.Add(time.Hour)),
		commit("c1", "first", base),
	}
	source.compares["lean4/c2"] = &model.CompareResponse{
		ChashFirst:  codec.Some("c1"),
		ChashSecond: codec.Some("c2"),
		Comparison: model.CommitComparison{
			Significant: true,
			Runs: []model.RunAnalysis{
				{Name: "build", ExitCode: 1, Significance: significant(model.SeverityMajor, model.Bad, "build failed")},
			},
			Metrics: []model.MetricComparison{
				{Metric: "instructions", Significance: significant(model.SeverityMinor, model.Good, "faster")},
			},
		},
	}

	require.NoError(t, idx.RunPass(ctx))

	summaries, err := store.ListSummaries(ctx, "lean4", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	second := summaries[0]
	assert.Equal(t, "c2", second.Chash)
	assert.Equal(t, "second", second.Title)
	assert.True(t, second.Complete)
	assert.True(t, second.Significant)
	assert.Equal(t, "c1", second.ParentChash)
	assert.Equal(t, 1, second.MajorCount)
	assert.Equal(t, 1, second.MinorCount)
	assert.Equal(t, "2 significant changes (1 major)", second.Headline)
	assert.Nil(t, second.ReindexedAt)

	var stored significance.Summary
	require.NoError(t, json.Unmarshal([]byte(second.MessagesJSON), &stored))
	require.Len(t, stored.RunMessages, 1)
	assert.Equal(t, model.Bad, stored.RunMessages[0].Goodness)
	require.Len(t, stored.MinorMetricMessages, 1)

	first := summaries[1]
	assert.Equal(t, "c1", first.Chash)
	assert.False(t, first.Complete, "missing comparison stays incomplete")
	assert.Empty(t, first.MessagesJSON)
}

func TestRunPass_SkipsCompleteAndRetriesIncomplete(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Repos: []string{"lean4"}})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source.commits["lean4"] = []model.Commit{
		commit("c2", "second", base.Add(time.Hour)),
		commit("c1", "first", base),
	}
	source.compares["lean4/c2"] = &model.CompareResponse{ChashFirst: codec.Some("c1")}

	require.NoError(t, idx.RunPass(ctx))
	assert.Equal(t, 1, source.callCount("c2"))
	assert.Equal(t, 1, source.callCount("c1"))

	source.compares["lean4/c1"] = &model.CompareResponse{ChashFirst: codec.Some("c0")}

	require.NoError(t, idx.RunPass(ctx))
	assert.Equal(t, 1, source.callCount("c2"), "complete commits are not compared again")
	assert.Equal(t, 2, source.callCount("c1"))

	got, err := store.GetSummary(ctx, "lean4", "c1")
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Equal(t, "c0", got.ParentChash)
	assert.Equal(t, "No significant changes", got.Headline)
	require.NotNil(t, got.ReindexedAt)
}

func TestRunPass_MarkRepoIncompleteForcesReindex(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Repos: []string{"lean4"}})
	ctx := context.Background()

	source.commits["lean4"] = []model.Commit{commit("c1", "first", time.Now())}
	source.compares["lean4/c1"] = &model.CompareResponse{}

	require.NoError(t, idx.RunPass(ctx))

	_, err := store.MarkRepoIncomplete(ctx, "lean4")
	require.NoError(t, err)

	require.NoError(t, idx.RunPass(ctx))
	assert.Equal(t, 2, source.callCount("c1"))
}

func TestRunPass_CommitFailureDoesNotAbort(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Repos: []string{"lean4"}})
	ctx := context.Background()

	base := time.Now()
	source.commits["lean4"] = []model.Commit{
		commit("bad", "broken", base.Add(time.Minute)),
		commit("good", "fine", base),
	}
	source.compares["lean4/good"] = &model.CompareResponse{}
	source.failing["bad"] = true

	require.NoError(t, idx.RunPass(ctx))

	chashes, err := store.ListChashes(ctx, "lean4")
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, chashes)
}

func TestRunPass_DefaultsToServerRepos(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Depth: 1})
	ctx := context.Background()

	base := time.Now()
	source.repos = []string{"lean4", "mathlib"}
	source.commits["lean4"] = []model.Commit{commit("a2", "a2", base), commit("a1", "a1", base.Add(-time.Hour))}
	source.commits["mathlib"] = []model.Commit{commit("b1", "b1", base)}

	require.NoError(t, idx.RunPass(ctx))

	repos, err := store.ListRepos(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lean4", "mathlib"}, repos)

	chashes, err := store.ListChashes(ctx, "lean4")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, chashes, "depth limits the history page")
}

func TestStartStop(t *testing.T) {
	idx, store, source := setup(t, &config.IndexingConfig{Repos: []string{"lean4"}, Interval: "1h"})

	source.commits["lean4"] = []model.Commit{commit("c1", "first", time.Now())}

	require.NoError(t, idx.Start(context.Background()))

	require.Eventually(t, func() bool {
		chashes, err := store.ListChashes(context.Background(), "lean4")

		return err == nil && len(chashes) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, idx.Stop())
	require.NoError(t, idx.Stop(), "stop is idempotent")
}

func TestHeadline(t *testing.T) {
	good := significance.NewMessage().SetGoodness(model.Good).AddText("g").Build()
	bad := significance.NewMessage().SetGoodness(model.Bad).AddText("b").Build()

	tests := []struct {
		name     string
		summary  significance.Summary
		text     string
		goodness model.Goodness
	}{
		{
			name:     "empty",
			summary:  significance.Summary{},
			text:     "No significant changes",
			goodness: model.Neutral,
		},
		{
			name:     "single minor good",
			summary:  significance.Summary{MinorCount: 1, MinorMetricMessages: []model.Message{good}},
			text:     "1 significant change",
			goodness: model.Good,
		},
		{
			name: "bad wins",
			summary: significance.Summary{
				MajorCount:          2,
				MinorCount:          1,
				RunMessages:         []model.Message{good},
				MajorMetricMessages: []model.Message{bad, good},
			},
			text:     "3 significant changes (2 major)",
			goodness: model.Bad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Headline(tt.summary)

			assert.Equal(t, tt.goodness, msg.Goodness)

			var text string
			for _, seg := range msg.Segments {
				text += seg.(model.TextSegment).Text
			}

			assert.Equal(t, tt.text, text)
		})
	}
}
