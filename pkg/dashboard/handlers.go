package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/format"
	"github.com/leanprover/radar/pkg/model"
	"github.com/leanprover/radar/pkg/schema"
	"github.com/leanprover/radar/pkg/significance"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// upstreamErrorResponse describes a failed request to the radar server.
type upstreamErrorResponse struct {
	Error  string         `json:"error"`
	Status int            `json:"status,omitempty"`
	Issues []schema.Issue `json:"issues,omitempty"`
	Diff   string         `json:"diff,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeUpstreamError maps a client error to a gateway response. Not found
// passes through as 404, everything else is a bad gateway.
func (s *server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		httpErr       *client.HTTPError
		validationErr *client.ValidationError
	)

	switch {
	case client.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
	case errors.As(err, &validationErr):
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Warn("Radar server returned an invalid response")
		writeJSON(w, http.StatusBadGateway, upstreamErrorResponse{
			Error:  "invalid response from radar server",
			Issues: validationErr.Issues,
			Diff:   validationErr.Diff,
		})
	case errors.As(err, &httpErr):
		writeJSON(w, http.StatusBadGateway, upstreamErrorResponse{
			Error:  "radar server error",
			Status: httpErr.StatusCode,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{"request canceled"})
	default:
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Warn("Radar server request failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{"radar server unreachable"})
	}
}

// respond writes v, or the upstream error when err is set.
func respond[T any](s *server, w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		s.writeUpstreamError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, v)
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"cache_entries": s.queries.Cache().Len(),
		"indexing":      s.indexStore != nil,
	})
}

func (s *server) handleRepos(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Repos(r.Context())
	respond(s, w, r, resp, err)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := client.HistoryQueryFromValues(r.URL.Query())

	resp, err := s.queries.History(r.Context(), chi.URLParam(r, "repo"), q)
	respond(s, w, r, resp, err)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Metrics(r.Context(), chi.URLParam(r, "repo"))
	respond(s, w, r, resp, err)
}

func (s *server) handleGraph(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := client.GraphQuery{
		N:       client.GraphN.Decode(values),
		Metrics: client.GraphMetrics.Decode(values),
	}

	resp, err := s.queries.Graph(r.Context(), chi.URLParam(r, "repo"), q)
	respond(s, w, r, resp, err)
}

func (s *server) handleGithubBot(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GithubBot(r.Context(), chi.URLParam(r, "repo"))
	respond(s, w, r, resp, err)
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Commit(r.Context(), chi.URLParam(r, "repo"), chi.URLParam(r, "chash"))
	respond(s, w, r, resp, err)
}

func (s *server) handleCommitRun(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.CommitRun(r.Context(),
		chi.URLParam(r, "repo"), chi.URLParam(r, "chash"), chi.URLParam(r, "run"))
	respond(s, w, r, resp, err)
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Runs(r.Context(), chi.URLParam(r, "repo"), chi.URLParam(r, "chash"))
	respond(s, w, r, resp, err)
}

func (s *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Queue(r.Context())
	respond(s, w, r, resp, err)
}

// handleQueueRun answers 404 once the run has left the queue.
func (s *server) handleQueueRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.queries.QueueRun(r.Context(),
		chi.URLParam(r, "repo"), chi.URLParam(r, "chash"), chi.URLParam(r, "run"))
	if err != nil {
		s.writeUpstreamError(w, r, err)

		return
	}

	if !result.Found {
		writeJSON(w, http.StatusNotFound, errorResponse{"run is not queued"})

		return
	}

	writeJSON(w, http.StatusOK, result.Run)
}

// renderedSummary holds the messages of a Summary as text spans.
type renderedSummary struct {
	Runs  []significance.Rendered `json:"runs"`
	Major []significance.Rendered `json:"major"`
	Minor []significance.Rendered `json:"minor"`
}

type compareResponse struct {
	*model.CompareResponse
	Summary  significance.Summary `json:"summary"`
	Rendered renderedSummary      `json:"rendered"`
}

func renderSummary(summary significance.Summary) renderedSummary {
	f := format.New()

	return renderedSummary{
		Runs:  significance.RenderAll(summary.RunMessages, f),
		Major: significance.RenderAll(summary.MajorMetricMessages, f),
		Minor: significance.RenderAll(summary.MinorMetricMessages, f),
	}
}

// handleCompare returns the comparison together with its classification
// and the rendered significance messages.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Compare(r.Context(),
		chi.URLParam(r, "repo"), chi.URLParam(r, "first"), chi.URLParam(r, "second"))
	if err != nil {
		s.writeUpstreamError(w, r, err)

		return
	}

	summary := significance.Classify(&resp.Comparison)

	writeJSON(w, http.StatusOK, compareResponse{
		CompareResponse: resp,
		Summary:         summary,
		Rendered:        renderSummary(summary),
	})
}
