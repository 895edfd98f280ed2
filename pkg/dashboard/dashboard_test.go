package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/indexstore"
	"github.com/leanprover/radar/pkg/query"
)

const (
	reposBody = `{"repos": [{"name": "lean4", "url": "https://github.com/leanprover/lean4",
		"benchUrl": "https://github.com/leanprover/radar-bench", "description": "Lean 4"}]}`

	compareBody = `{
		"chashFirst": "aaa",
		"chashSecond": "bbb",
		"comparison": {
			"significant": true,
			"runs": [{
				"name": "build", "script": "build.sh", "runner": "r1", "exitCode": 1,
				"significance": {"major": true, "message": {"goodness": "BAD", "segments": [
					{"type": "run", "run": "build"},
					{"type": "text", "text": " failed with "},
					{"type": "exitCode", "exitCode": 1, "goodness": "BAD"}
				]}}
			}],
			"metrics": [{
				"metric": "instructions", "first": 100, "second": 90, "direction": -1,
				"significance": {"importance": 1, "message": {"goodness": "GOOD", "segments": [
					{"type": "metric", "metric": "instructions"}
				]}}
			}]
		}
	}`
)

type upstreamRequest struct {
	method     string
	requestURI string
	user       string
	password   string
	body       string
}

type upstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []upstreamRequest
	routes   map[string]struct {
		status int
		body   string
	}
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{routes: make(map[string]struct {
		status int
		body   string
	})}

	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, _ := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)

		u.mu.Lock()
		u.requests = append(u.requests, upstreamRequest{
			method:     r.Method,
			requestURI: r.RequestURI,
			user:       user,
			password:   password,
			body:       string(body),
		})
		route, ok := u.routes[r.URL.EscapedPath()]
		u.mu.Unlock()

		if !ok {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(route.status)
		_, _ = w.Write([]byte(route.body))
	}))

	t.Cleanup(u.Close)

	return u
}

func (u *upstream) handle(path string, status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.routes[path] = struct {
		status int
		body   string
	}{status, body}
}

func (u *upstream) count(requestURI string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	var n int

	for _, r := range u.requests {
		if r.requestURI == requestURI {
			n++
		}
	}

	return n
}

func (u *upstream) last() upstreamRequest {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.requests[len(u.requests)-1]
}

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newTestServer(t *testing.T, upstreamURL string, cfg *config.DashboardConfig) *server {
	t.Helper()

	log := newLogger()

	cache := query.NewCache(log, query.Options{})
	t.Cleanup(cache.Stop)

	c := client.New(log, &config.ServerConfig{URL: upstreamURL, APIRoot: "/api"})
	queries := client.NewQueries(c, cache, client.DefaultRefetchIntervals())

	s := newServer(log, cfg, nil, queries)
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func withIndexStore(t *testing.T, s *server) indexstore.Store {
	t.Helper()

	store := indexstore.NewStore(newLogger(), &config.DatabaseConfig{
		Driver: config.DatabaseDriverSQLite,
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))

	s.indexStore = store

	return store
}

func adminConfig(t *testing.T) *config.DashboardConfig {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	return &config.DashboardConfig{
		AdminToken: "server-token",
		Basic: config.BasicAuthConfig{Users: []config.BasicAuthUser{
			{Username: "alice", PasswordHash: string(hash)},
		}},
	}
}

type request struct {
	method   string
	path     string
	body     string
	user     string
	password string
	remote   string
	// forwardedFor sets X-Forwarded-For.
	forwardedFor string
}

func serve(h http.Handler, req request) *httptest.ResponseRecorder {
	method := req.method
	if method == "" {
		method = http.MethodGet
	}

	r := httptest.NewRequest(method, req.path, strings.NewReader(req.body))
	if req.user != "" {
		r.SetBasicAuth(req.user, req.password)
	}

	if req.remote != "" {
		r.RemoteAddr = req.remote
	}

	if req.forwardedFor != "" {
		r.Header.Set("X-Forwarded-For", req.forwardedFor)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())

	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", &config.DashboardConfig{})

	w := serve(s.buildRouter(), request{path: "/api/v1/health"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["indexing"])
}

func TestRepos_Cached(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/", http.StatusOK, reposBody)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	for i := 0; i < 2; i++ {
		w := serve(h, request{path: "/api/v1/repos"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"repos": [{"name": "lean4", "url": "https://github.com/leanprover/lean4",
			"benchUrl": "https://github.com/leanprover/radar-bench", "description": "Lean 4",
			"lakeprofReportUrl": null}]}`, w.Body.String())
	}

	assert.Equal(t, 1, up.count("/api/repos/"))
}

func TestHistory_ForwardsQueryParameters(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/lean4/history/", http.StatusOK, `{"commits": []}`)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	w := serve(h, request{path: "/api/v1/repos/lean4/history?n=5&s=fix&skip=-3"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "/api/repos/lean4/history/?n=5&s=fix", up.last().requestURI)
}

func TestCompare_ClassifiesAndRenders(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/compare/lean4/parent/bbb/", http.StatusOK, compareBody)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	w := serve(h, request{path: "/api/v1/compare/lean4/parent/bbb"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ChashFirst string `json:"chashFirst"`
		Summary    struct {
			MajorCount int `json:"majorCount"`
			MinorCount int `json:"minorCount"`
		} `json:"summary"`
		Rendered struct {
			Runs []struct {
				Goodness string `json:"goodness"`
				Spans    []struct {
					Text string `json:"text"`
				} `json:"spans"`
			} `json:"runs"`
			Minor []json.RawMessage `json:"minor"`
			Major []json.RawMessage `json:"major"`
		} `json:"rendered"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "aaa", resp.ChashFirst)
	assert.Equal(t, 1, resp.Summary.MajorCount)
	assert.Equal(t, 1, resp.Summary.MinorCount)
	assert.Len(t, resp.Rendered.Minor, 1)
	assert.Empty(t, resp.Rendered.Major)

	require.Len(t, resp.Rendered.Runs, 1)
	assert.Equal(t, "BAD", resp.Rendered.Runs[0].Goodness)

	var text string
	for _, span := range resp.Rendered.Runs[0].Spans {
		text += span.Text
	}

	assert.Equal(t, "build failed with 1", text)
}

func TestUpstreamErrors(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/", http.StatusOK, `{"repos": [{"name": 5}]}`)
	up.handle("/api/queue/", http.StatusInternalServerError, `{}`)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	t.Run("not found", func(t *testing.T) {
		w := serve(h, request{path: "/api/v1/commits/lean4/missing"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := serve(h, request{path: "/api/v1/repos"})
		require.Equal(t, http.StatusBadGateway, w.Code)

		body := decode(t, w)
		assert.Equal(t, "invalid response from radar server", body["error"])
		assert.NotEmpty(t, body["issues"])
	})

	t.Run("server error", func(t *testing.T) {
		w := serve(h, request{path: "/api/v1/queue"})
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.InDelta(t, 500, decode(t, w)["status"], 0)
	})
}

func TestQueueRun_NotQueued(t *testing.T) {
	up := newUpstream(t)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	w := serve(h, request{path: "/api/v1/queue/runs/lean4/aaa/build"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run is not queued", decode(t, w)["error"])
}

func TestAdmin_RoutesRequireUsers(t *testing.T) {
	up := newUpstream(t)

	h := newTestServer(t, up.URL, &config.DashboardConfig{}).buildRouter()

	w := serve(h, request{method: http.MethodPost, path: "/api/v1/admin/vacuum", body: `{"repo": "lean4"}`})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Auth(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/admin/vacuum/", http.StatusOK, `{}`)

	h := newTestServer(t, up.URL, adminConfig(t)).buildRouter()

	tests := []struct {
		name     string
		user     string
		password string
		status   int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong password", user: "alice", password: "nope", status: http.StatusUnauthorized},
		{name: "unknown user", user: "bob", password: "hunter2", status: http.StatusUnauthorized},
		{name: "valid", user: "alice", password: "hunter2", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, request{
				method:   http.MethodPost,
				path:     "/api/v1/admin/vacuum",
				body:     `{"repo": "lean4"}`,
				user:     tt.user,
				password: tt.password,
			})
			assert.Equal(t, tt.status, w.Code)
		})
	}

	last := up.last()
	assert.Equal(t, "admin", last.user)
	assert.Equal(t, "server-token", last.password)
	assert.JSONEq(t, `{"repo": "lean4"}`, last.body)
}

func TestAdmin_RecomputeSignificanceInvalidates(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/compare/lean4/parent/bbb/", http.StatusOK, compareBody)
	up.handle("/api/admin/recompute-significance/", http.StatusOK, `{}`)

	s := newTestServer(t, up.URL, adminConfig(t))
	store := withIndexStore(t, s)
	h := s.buildRouter()

	ctx := context.Background()
	require.NoError(t, store.UpsertSummary(ctx, &indexstore.CommitSummary{
		Repo: "lean4", Chash: "bbb", Title: "b", Complete: true,
	}))

	compare := request{path: "/api/v1/compare/lean4/parent/bbb"}

	require.Equal(t, http.StatusOK, serve(h, compare).Code)
	require.Equal(t, http.StatusOK, serve(h, compare).Code)
	assert.Equal(t, 1, up.count("/api/compare/lean4/parent/bbb/"))

	w := serve(h, request{
		method:   http.MethodPost,
		path:     "/api/v1/admin/recompute-significance",
		body:     `{"repo": "lean4"}`,
		user:     "alice",
		password: "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 1, body["invalidated"], 0)
	assert.InDelta(t, 1, body["reindex"], 0)

	require.Equal(t, http.StatusOK, serve(h, compare).Code)
	assert.Equal(t, 2, up.count("/api/compare/lean4/parent/bbb/"))

	incomplete, err := store.ListIncompleteChashes(ctx, "lean4")
	require.NoError(t, err)
	assert.Equal(t, []string{"bbb"}, incomplete)
}

func TestAdmin_Validation(t *testing.T) {
	up := newUpstream(t)

	h := newTestServer(t, up.URL, adminConfig(t)).buildRouter()

	tests := []struct {
		name  string
		path  string
		body  string
		error string
	}{
		{name: "malformed", path: "/api/v1/admin/vacuum", body: `{`, error: "invalid request body"},
		{name: "missing repo", path: "/api/v1/admin/maintain", body: `{}`, error: "repo is required"},
		{name: "missing chash", path: "/api/v1/admin/enqueue", body: `{"repo": "lean4"}`, error: "chash is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, request{
				method:   http.MethodPost,
				path:     tt.path,
				body:     tt.body,
				user:     "alice",
				password: "hunter2",
			})
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.error, decode(t, w)["error"])
		})
	}

	assert.Empty(t, up.requests, "invalid requests are not proxied")
}

func TestRateLimit(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/", http.StatusOK, reposBody)

	h := newTestServer(t, up.URL, &config.DashboardConfig{
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			Public:  config.RateLimitTier{RequestsPerMinute: 1},
			Admin:   config.RateLimitTier{RequestsPerMinute: 1},
		},
	}).buildRouter()

	first := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:1234"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:1234"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decode(t, second)["error"])

	other := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.2:1234"})
	assert.Equal(t, http.StatusOK, other.Code)

	health := serve(h, request{path: "/api/v1/health", remote: "10.0.0.1:1234"})
	assert.Equal(t, http.StatusOK, health.Code, "health is not rate limited")
}

func TestRateLimit_Burst(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/", http.StatusOK, reposBody)

	h := newTestServer(t, up.URL, &config.DashboardConfig{
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			Public:  config.RateLimitTier{RequestsPerMinute: 60, Burst: 2},
			Admin:   config.RateLimitTier{RequestsPerMinute: 1},
		},
	}).buildRouter()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:1"}).Code)
	}

	w := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimit_ForwardedFor(t *testing.T) {
	tier := config.RateLimitTier{RequestsPerMinute: 1}

	tests := []struct {
		name       string
		trustProxy bool
		secondCode int
	}{
		{name: "ignored by default", trustProxy: false, secondCode: http.StatusTooManyRequests},
		{name: "honoured behind a proxy", trustProxy: true, secondCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t)
			up.handle("/api/repos/", http.StatusOK, reposBody)

			h := newTestServer(t, up.URL, &config.DashboardConfig{
				TrustProxy: tt.trustProxy,
				RateLimit:  config.RateLimitConfig{Enabled: true, Public: tier, Admin: tier},
			}).buildRouter()

			first := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:80", forwardedFor: "203.0.113.1"})
			assert.Equal(t, http.StatusOK, first.Code)

			second := serve(h, request{path: "/api/v1/repos", remote: "10.0.0.1:80", forwardedFor: "203.0.113.2"})
			assert.Equal(t, tt.secondCode, second.Code)
		})
	}
}

func TestTierLimiter_Sweep(t *testing.T) {
	l := newTierLimiter(config.RateLimitTier{RequestsPerMinute: 10})
	start := time.Unix(1700000000, 0)

	ok, _ := l.allow("a", start)
	assert.True(t, ok)

	ok, _ = l.allow("b", start.Add(10*time.Minute))
	assert.True(t, ok)

	assert.Equal(t, 1, l.sweep(start.Add(5*time.Minute)))
	assert.Equal(t, 1, l.tracked())

	assert.Equal(t, 1, l.sweep(start.Add(time.Hour)))
	assert.Equal(t, 0, l.tracked())
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		want   string
	}{
		{name: "host and port", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "rewritten by RealIP", remote: "203.0.113.9", want: "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote

			assert.Equal(t, tt.want, clientAddr(r))
		})
	}
}

func TestIndexEndpoints(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", &config.DashboardConfig{})
	store := withIndexStore(t, s)
	h := s.buildRouter()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertSummary(ctx, &indexstore.CommitSummary{
		Repo: "lean4", Chash: "old", Title: "old", CommittedAt: base, Complete: true,
	}))
	require.NoError(t, store.UpsertSummary(ctx, &indexstore.CommitSummary{
		Repo: "lean4", Chash: "new", Title: "new", CommittedAt: base.Add(time.Hour),
		Complete: true, Significant: true, MajorCount: 1, Headline: "1 significant change (1 major)",
		MessagesJSON: `{"majorCount": 1, "minorCount": 0, "runMessages": [],
			"majorMetricMessages": [{"goodness": "BAD", "segments": [{"type": "text", "text": "slower"}]}],
			"minorMetricMessages": []}`,
	}))

	w := serve(h, request{path: "/api/v1/index"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"repos": ["lean4"]}`, w.Body.String())

	w = serve(h, request{path: "/api/v1/index/lean4?limit=1"})
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Entries []indexEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "new", list.Entries[0].Chash)
	assert.Equal(t, "1 significant change (1 major)", list.Entries[0].Headline)

	w = serve(h, request{path: "/api/v1/index/lean4/new"})
	require.Equal(t, http.StatusOK, w.Code)

	var detail struct {
		Chash    string `json:"chash"`
		Rendered struct {
			Major []struct {
				Goodness string `json:"goodness"`
			} `json:"major"`
		} `json:"rendered"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "new", detail.Chash)
	require.Len(t, detail.Rendered.Major, 1)
	assert.Equal(t, "BAD", detail.Rendered.Major[0].Goodness)

	w = serve(h, request{path: "/api/v1/index/lean4/missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartStop(t *testing.T) {
	up := newUpstream(t)
	up.handle("/api/repos/", http.StatusOK, reposBody)

	s := newTestServer(t, up.URL, &config.DashboardConfig{Listen: "127.0.0.1:0"})
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/api/v1/repos")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
