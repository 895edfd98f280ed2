package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
)

type recorded struct {
	method     string
	requestURI string
	user       string
	password   string
	body       string
}

type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{routes: make(map[string]func(w http.ResponseWriter))}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, _ := r.BasicAuth()

		body, _ := io.ReadAll(r.Body)

		fs.mu.Lock()
		fs.requests = append(fs.requests, recorded{
			method:     r.Method,
			requestURI: r.RequestURI,
			user:       user,
			password:   password,
			body:       string(body),
		})
		handler, ok := fs.routes[r.URL.EscapedPath()]
		fs.mu.Unlock()

		if !ok {
			http.NotFound(w, r)

			return
		}

		handler(w)
	}))

	t.Cleanup(fs.Close)

	return fs
}

func (fs *fakeServer) handle(path string, status int, body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.routes[path] = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (fs *fakeServer) last() recorded {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.requests[len(fs.requests)-1]
}

func newClient(t *testing.T, serverURL string) client.Client {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return client.New(log, &config.ServerConfig{URL: serverURL, APIRoot: "/api"})
}

func TestBuildURL(t *testing.T) {
	c := newClient(t, "https://radar.example.com/")

	tests := []struct {
		name     string
		path     string
		params   url.Values
		expected string
		wantErr  bool
	}{
		{name: "no params", path: "/queue/", expected: "https://radar.example.com/api/queue/"},
		{name: "empty params", path: "/queue/", params: url.Values{}, expected: "https://radar.example.com/api/queue/"},
		{name: "one param", path: "/queue/", params: url.Values{"n": {"5"}}, expected: "https://radar.example.com/api/queue/?n=5"},
		{
			name:     "repeated param",
			path:     "/repos/lean4/graph/",
			params:   url.Values{"m": {"a", "b"}, "n": {"10"}},
			expected: "https://radar.example.com/api/repos/lean4/graph/?m=a&m=b&n=10",
		},
		{name: "relative path", path: "queue/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := c.BuildURL(tt.path, tt.params)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
			assert.LessOrEqual(t, strings.Count(u, "?"), 1)
		})
	}
}

func TestFetch_Success(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/repos/", http.StatusOK, `{"repos": [
		{"name": "lean4", "url": "https://github.com/leanprover/lean4", "benchUrl": "https://b", "description": "Lean 4"}
	]}`)

	c := newClient(t, srv.URL)

	resp, err := c.Repos(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Repos, 1)
	assert.Equal(t, "lean4", resp.Repos[0].Name)
	assert.False(t, resp.Repos[0].LakeprofReportURL.IsPresent())
	assert.Equal(t, "/api/repos/", srv.last().requestURI)
}

func TestFetch_NotFound(t *testing.T) {
	srv := newFakeServer(t)
	c := newClient(t, srv.URL)

	_, err := c.Commit(context.Background(), "lean4", "deadbeef")
	require.Error(t, err)

	var nf *client.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, srv.URL+"/api/commits/lean4/deadbeef/", nf.URL)
	assert.True(t, client.IsNotFound(err))
}

func TestFetch_HTTPError(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/queue/", http.StatusBadGateway, `upstream down`)

	c := newClient(t, srv.URL)

	_, err := c.Queue(context.Background())
	require.Error(t, err)

	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "502 Bad Gateway", httpErr.Status)
	assert.Equal(t, srv.URL+"/api/queue/", httpErr.URL)
	assert.Contains(t, err.Error(), srv.URL+"/api/queue/")
	assert.False(t, client.IsNotFound(err))
}

func TestFetch_ValidationError(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/repos/", http.StatusOK, `{"repos": [{"name": "lean4", "url": "u", "benchUrl": "b"}]}`)

	c := newClient(t, srv.URL)

	resp, err := c.Repos(context.Background())
	require.Error(t, err)
	assert.Nil(t, resp)

	var verr *client.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, "repos[0].description", verr.Issues[0].Path)
	assert.Equal(t, "missing", verr.Issues[0].Actual)
	assert.Contains(t, verr.Diff, "-    description: string")
	assert.Equal(t, srv.URL+"/api/repos/", verr.URL)
}

func TestFetch_Generic(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/queue/", http.StatusOK, `{"runners": [{"name": "r1", "connected": true, "lastSeen": 1700000000.5}], "tasks": []}`)

	c := newClient(t, srv.URL)

	queue, err := client.Fetch[model.QueueResponse](context.Background(), c, "/queue/", nil)
	require.NoError(t, err)
	require.Len(t, queue.Runners, 1)

	seen, ok := queue.Runners[0].LastSeen.Get()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000500), seen.UnixMilli())
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	srv := newFakeServer(t)
	c := newClient(t, srv.URL)

	_, _ = c.Compare(context.Background(), "org/repo", client.CompareParent, "a b")
	assert.Equal(t, "/api/compare/org%2Frepo/parent/a%20b/", srv.last().requestURI)

	_, _ = c.CommitRun(context.Background(), "lean4", "abc", "bench?x")
	assert.Equal(t, "/api/commits/lean4/abc/runs/bench%3Fx/", srv.last().requestURI)
}

func TestPathSegments_ReservedCharacters(t *testing.T) {
	srv := newFakeServer(t)
	c := newClient(t, srv.URL)

	tests := []struct {
		run      string
		expected string
	}{
		{run: "a+b", expected: "a%2Bb"},
		{run: "x:y@z", expected: "x%3Ay%40z"},
		{run: "k=v&w=$1", expected: "k%3Dv%26w%3D%241"},
		{run: "a,b;c", expected: "a%2Cb%3Bc"},
		{run: "caf\u00e9", expected: "caf%C3%A9"},
		{run: "keep-_.!~*'()", expected: "keep-_.!~*'()"},
	}

	for _, tt := range tests {
		t.Run(tt.run, func(t *testing.T) {
			_, _ = c.CommitRun(context.Background(), "lean4", "abc", tt.run)
			assert.Equal(t, "/api/commits/lean4/abc/runs/"+tt.expected+"/", srv.last().requestURI)
		})
	}
}

func TestHistory_Query(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/repos/lean4/history/", http.StatusOK, `{"commits": []}`)

	c := newClient(t, srv.URL)

	_, err := c.History(context.Background(), "lean4", client.DefaultHistoryQuery())
	require.NoError(t, err)
	assert.Equal(t, "/api/repos/lean4/history/", srv.last().requestURI)

	_, err = c.History(context.Background(), "lean4", client.HistoryQuery{N: 5, Search: codec.Some("fix")})
	require.NoError(t, err)
	assert.Equal(t, "/api/repos/lean4/history/?n=5&s=fix", srv.last().requestURI)
}

func TestGraph_AlwaysSendsN(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/repos/lean4/graph/", http.StatusOK, `{"chashes": ["a"], "titles": ["t"], "metrics": [
		{"metric": "m", "direction": 1, "measurements": [1.5]},
		{"metric": "k", "direction": -1, "measurements": [null]}
	]}`)

	c := newClient(t, srv.URL)

	resp, err := c.Graph(context.Background(), "lean4", client.GraphQuery{N: 32, Metrics: []string{"m", "k"}})
	require.NoError(t, err)
	assert.Equal(t, "/api/repos/lean4/graph/?m=k&m=m&n=32", srv.last().requestURI)
	assert.False(t, resp.Metrics[1].Measurements[0].IsPresent())
}

func TestQueueRun_NotFoundIsNotAnError(t *testing.T) {
	srv := newFakeServer(t)
	c := newClient(t, srv.URL)

	resp, found, err := c.QueueRun(context.Background(), "lean4", "abc", "bench")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, resp)

	srv.handle("/api/queue/runs/lean4/abc/bench/", http.StatusOK, `{"runner": "r1", "script": "bench.sh"}`)

	resp, found, err = c.QueueRun(context.Background(), "lean4", "abc", "bench")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "r1", resp.Runner)
	assert.False(t, resp.ActiveRun.IsPresent())
}

func TestAdminPosts(t *testing.T) {
	srv := newFakeServer(t)
	for _, path := range []string{
		"/api/admin/enqueue", "/api/admin/maintain/", "/api/admin/recompute-significance/",
		"/api/admin/vacuum/", "/api/admin/repos/lean4/metrics/delete/", "/api/admin/repos/lean4/metrics/rename/",
	} {
		srv.handle(path, http.StatusOK, ``)
	}

	c := newClient(t, srv.URL)
	ctx := context.Background()
	priority := 5

	tests := []struct {
		name string
		call func() error
		uri  string
		body string
	}{
		{
			name: "enqueue",
			call: func() error {
				return c.Enqueue(ctx, "secret", model.EnqueueRequest{Repo: "lean4", Chash: "abc", Priority: &priority})
			},
			uri:  "/api/admin/enqueue",
			body: `{"repo": "lean4", "chash": "abc", "priority": 5}`,
		},
		{
			name: "maintain",
			call: func() error {
				return c.Maintain(ctx, "secret", model.MaintainRequest{Repo: "lean4", Aggressive: true})
			},
			uri:  "/api/admin/maintain/",
			body: `{"repo": "lean4", "aggressive": true}`,
		},
		{
			name: "recompute significance",
			call: func() error { return c.RecomputeSignificance(ctx, "secret", "lean4") },
			uri:  "/api/admin/recompute-significance/",
			body: `{"repo": "lean4"}`,
		},
		{
			name: "vacuum",
			call: func() error { return c.Vacuum(ctx, "secret", "lean4") },
			uri:  "/api/admin/vacuum/",
			body: `{"repo": "lean4"}`,
		},
		{
			name: "delete metrics",
			call: func() error { return c.DeleteMetrics(ctx, "secret", "lean4", []string{"a", "b"}) },
			uri:  "/api/admin/repos/lean4/metrics/delete/",
			body: `{"metrics": ["a", "b"]}`,
		},
		{
			name: "rename metrics",
			call: func() error { return c.RenameMetrics(ctx, "secret", "lean4", map[string]string{"old": "new"}) },
			uri:  "/api/admin/repos/lean4/metrics/rename/",
			body: `{"metrics": {"old": "new"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())

			req := srv.last()
			assert.Equal(t, http.MethodPost, req.method)
			assert.Equal(t, tt.uri, req.requestURI)
			assert.Equal(t, config.DefaultAdminUser, req.user)
			assert.Equal(t, "secret", req.password)
			assert.JSONEq(t, tt.body, req.body)
		})
	}
}

func TestAdminPost_Unauthorized(t *testing.T) {
	srv := newFakeServer(t)
	srv.handle("/api/admin/vacuum/", http.StatusUnauthorized, ``)

	c := newClient(t, srv.URL)

	err := c.Vacuum(context.Background(), "wrong", "lean4")

	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestEnqueueRequest_OmitsPriority(t *testing.T) {
	out, err := json.Marshal(model.EnqueueRequest{Repo: "r", Chash: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"repo": "r", "chash": "c"}`, string(out))
}
