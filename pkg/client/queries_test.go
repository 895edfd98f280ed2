package client_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/query"
)

const emptyCompare = `{"chashFirst": "aaa", "chashSecond": "bbb",
	"comparison": {"significant": false, "runs": [], "metrics": []}}`

func (fs *fakeServer) count(requestURI string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n int

	for _, r := range fs.requests {
		if r.requestURI == requestURI {
			n++
		}
	}

	return n
}

func newQueries(t *testing.T, serverURL string) *client.Queries {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cache := query.NewCache(log, query.Options{})
	t.Cleanup(cache.Stop)

	return client.NewQueries(newClient(t, serverURL), cache, client.DefaultRefetchIntervals())
}

func TestQueries_CompareIsCached(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/compare/lean4/parent/bbb/", http.StatusOK, emptyCompare)

	q := newQueries(t, srv.URL)

	for i := 0; i < 3; i++ {
		resp, err := q.Compare(context.Background(), "lean4", client.CompareParent, "bbb")
		require.NoError(t, err)
		assert.Equal(t, "aaa", resp.ChashFirst.OrElse(""))
	}

	assert.Equal(t, 1, srv.count("/api/compare/lean4/parent/bbb/"))
}

func TestQueries_InvalidateCompare(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/compare/lean4/parent/bbb/", http.StatusOK, emptyCompare)
	srv.handle("/api/compare/mathlib/parent/bbb/", http.StatusOK, emptyCompare)

	q := newQueries(t, srv.URL)
	ctx := context.Background()

	for _, repo := range []string{"lean4", "mathlib"} {
		_, err := q.Compare(ctx, repo, client.CompareParent, "bbb")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, q.InvalidateCompare("lean4"))
	assert.Equal(t, 0, q.InvalidateCommit("lean4"))

	for _, repo := range []string{"lean4", "mathlib"} {
		_, err := q.Compare(ctx, repo, client.CompareParent, "bbb")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, srv.count("/api/compare/lean4/parent/bbb/"))
	assert.Equal(t, 1, srv.count("/api/compare/mathlib/parent/bbb/"))
}

func TestQueries_QueueRunNotFoundIsCached(t *testing.T) {
	srv := newFakeServer(t)
	q := newQueries(t, srv.URL)

	for i := 0; i < 2; i++ {
		res, err := q.QueueRun(context.Background(), "lean4", "abc", "bench")
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Nil(t, res.Run)
	}

	assert.Equal(t, 1, srv.count("/api/queue/runs/lean4/abc/bench/"))
}

func TestQueries_ErrorsAreNotCached(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/queue/", http.StatusServiceUnavailable, ``)

	q := newQueries(t, srv.URL)

	_, err := q.Queue(context.Background())
	require.Error(t, err)

	srv.handle("/api/queue/", http.StatusOK, `{"runners": [], "tasks": []}`)

	resp, err := q.Queue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resp.Tasks)
}

func TestHistoryKey_DefaultsAreCanonical(t *testing.T) {
	explicit := client.HistoryKey("lean4", client.HistoryQuery{N: 32})
	defaulted := client.HistoryKey("lean4", client.DefaultHistoryQuery())
	searched := client.HistoryKey("lean4", client.HistoryQuery{N: 32, Search: codec.Some("x")})

	assert.True(t, explicit.Equal(defaulted))
	assert.False(t, explicit.Equal(searched))
	assert.True(t, searched.HasPrefix(client.RepoKey(client.EntityHistory, "lean4")))
}

func TestGraphKey_MetricOrderIgnored(t *testing.T) {
	a := client.GraphKey("lean4", client.GraphQuery{N: 10, Metrics: []string{"x", "y"}})
	b := client.GraphKey("lean4", client.GraphQuery{N: 10, Metrics: []string{"y", "x"}})

	assert.True(t, a.Equal(b))
}
