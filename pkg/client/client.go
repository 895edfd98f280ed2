// Package client talks to the radar HTTP API. Every response body is
// validated against the shape of its Go type before it is decoded.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/schema"
)

// Client is a radar API client.
type Client interface {
	// BuildURL returns the absolute URL for an endpoint path. The query
	// string is appended only when params encode to something non-empty.
	BuildURL(path string, params url.Values) (string, error)

	// GetJSON fetches path and decodes the validated body into v.
	GetJSON(ctx context.Context, path string, params url.Values, v any) error

	// PostAdmin posts body as JSON to an admin endpoint using token as
	// the basic auth password.
	PostAdmin(ctx context.Context, path, token string, body any) error

	Repos(ctx context.Context) (*model.ReposResponse, error)
	History(ctx context.Context, repo string, q HistoryQuery) (*model.HistoryResponse, error)
	Metrics(ctx context.Context, repo string) (*model.MetricsResponse, error)
	Graph(ctx context.Context, repo string, q GraphQuery) (*model.GraphResponse, error)
	GithubBot(ctx context.Context, repo string) (*model.GithubBotResponse, error)
	Commit(ctx context.Context, repo, chash string) (*model.CommitResponse, error)
	CommitRun(ctx context.Context, repo, chash, run string) (*model.CommitRunResponse, error)
	Compare(ctx context.Context, repo, first, second string) (*model.CompareResponse, error)
	Runs(ctx context.Context, repo, chash string) (*model.RunsResponse, error)
	Queue(ctx context.Context) (*model.QueueResponse, error)

	// QueueRun returns found=false when the run is no longer queued.
	QueueRun(ctx context.Context, repo, chash, run string) (resp *model.QueueRunResponse, found bool, err error)

	AdminMetrics(ctx context.Context, repo string) (*model.AdminMetricsResponse, error)

	Enqueue(ctx context.Context, token string, req model.EnqueueRequest) error
	Maintain(ctx context.Context, token string, req model.MaintainRequest) error
	RecomputeSignificance(ctx context.Context, token, repo string) error
	Vacuum(ctx context.Context, token, repo string) error
	DeleteMetrics(ctx context.Context, token, repo string, metrics []string) error
	RenameMetrics(ctx context.Context, token, repo string, renames map[string]string) error
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log       logrus.FieldLogger
	baseURL   string
	adminUser string
	http      *http.Client
}

// Option customizes a client.
type Option func(*client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// New creates a client for the server described by cfg.
func New(log logrus.FieldLogger, cfg *config.ServerConfig, opts ...Option) Client {
	adminUser := cfg.AdminUser
	if adminUser == "" {
		adminUser = config.DefaultAdminUser
	}

	c := &client{
		log:       log.WithField("component", "client"),
		baseURL:   strings.TrimRight(cfg.URL, "/") + strings.TrimRight(cfg.APIRoot, "/"),
		adminUser: adminUser,
		http:      &http.Client{Timeout: cfg.TimeoutDuration()},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch performs a GET and returns the decoded body. On any failure the
// zero value is returned.
func Fetch[T any](ctx context.Context, c Client, path string, params url.Values) (T, error) {
	var v T
	if err := c.GetJSON(ctx, path, params, &v); err != nil {
		var zero T

		return zero, err
	}

	return v, nil
}

// BuildURL implements Client.
func (c *client) BuildURL(path string, params url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path must start with /, got %q", path)
	}

	u := c.baseURL + path

	if query := params.Encode(); query != "" {
		u += "?" + query
	}

	return u, nil
}

// GetJSON implements Client.
func (c *client) GetJSON(ctx context.Context, path string, params url.Values, v any) error {
	u, err := c.BuildURL(path, params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	if err := schema.Decode(body, v); err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) {
			c.log.WithFields(logrus.Fields{
				"url":  u,
				"diff": serr.Diff,
			}).Debug("Response failed validation")

			return &ValidationError{URL: u, Issues: serr.Issues, Diff: serr.Diff}
		}

		return fmt.Errorf("decoding %s: %w", u, err)
	}

	return nil
}

// PostAdmin implements Client.
func (c *client) PostAdmin(ctx context.Context, path, token string, body any) error {
	u, err := c.BuildURL(path, nil)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.adminUser, token)

	if _, err := c.do(req); err != nil {
		return err
	}

	return nil
}

// do sends req and classifies the response status.
func (c *client) do(req *http.Request) ([]byte, error) {
	u := req.URL.String()
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.WithFields(logrus.Fields{
		"method":   req.Method,
		"url":      u,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Request completed")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{URL: u}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{URL: u, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", u, err)
	}

	return body, nil
}
