package dashboard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/leanprover/radar/pkg/model"
)

type adminResponse struct {
	Status      string `json:"status"`
	Invalidated int    `json:"invalidated"`
	// Reindex is the number of indexed commits queued for re-indexing.
	Reindex int64 `json:"reindex,omitempty"`
}

// decodeBody decodes the JSON request body into v, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return false
	}

	return true
}

func requireRepo(w http.ResponseWriter, repo string) bool {
	if repo == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"repo is required"})

		return false
	}

	return true
}

// runAdmin proxies one admin action and, on success, runs invalidate to
// mark the affected cache entries stale.
func (s *server) runAdmin(
	w http.ResponseWriter,
	r *http.Request,
	action, repo string,
	call func(ctx context.Context, token string) error,
	invalidate func() int,
) {
	log := s.log.WithFields(logrus.Fields{
		"action": action,
		"repo":   repo,
		"user":   userFromContext(r.Context()),
	})

	if err := call(r.Context(), s.cfg.AdminToken); err != nil {
		log.WithError(err).Warn("Admin action failed")
		s.writeUpstreamError(w, r, err)

		return
	}

	resp := adminResponse{Status: "ok"}
	if invalidate != nil {
		resp.Invalidated = invalidate()
	}

	if action == "recompute-significance" && s.indexStore != nil {
		n, err := s.indexStore.MarkRepoIncomplete(r.Context(), repo)
		if err != nil {
			log.WithError(err).Warn("Failed to mark indexed commits for re-indexing")
		}

		resp.Reindex = n
	}

	log.WithField("invalidated", resp.Invalidated).Info("Admin action completed")

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.AdminMetrics(r.Context(), chi.URLParam(r, "repo"))
	respond(s, w, r, resp, err)
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req model.EnqueueRequest
	if !decodeBody(w, r, &req) || !requireRepo(w, req.Repo) {
		return
	}

	if req.Chash == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"chash is required"})

		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "enqueue", req.Repo,
		func(ctx context.Context, token string) error {
			return client.Enqueue(ctx, token, req)
		},
		func() int {
			return s.queries.InvalidateQueue() + s.queries.InvalidateCommit(req.Repo)
		},
	)
}

func (s *server) handleMaintain(w http.ResponseWriter, r *http.Request) {
	var req model.MaintainRequest
	if !decodeBody(w, r, &req) || !requireRepo(w, req.Repo) {
		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "maintain", req.Repo,
		func(ctx context.Context, token string) error {
			return client.Maintain(ctx, token, req)
		},
		nil,
	)
}

func (s *server) handleRecomputeSignificance(w http.ResponseWriter, r *http.Request) {
	var req model.RepoRequest
	if !decodeBody(w, r, &req) || !requireRepo(w, req.Repo) {
		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "recompute-significance", req.Repo,
		func(ctx context.Context, token string) error {
			return client.RecomputeSignificance(ctx, token, req.Repo)
		},
		func() int {
			return s.queries.InvalidateCompare(req.Repo) + s.queries.InvalidateCommit(req.Repo)
		},
	)
}

func (s *server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	var req model.RepoRequest
	if !decodeBody(w, r, &req) || !requireRepo(w, req.Repo) {
		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "vacuum", req.Repo,
		func(ctx context.Context, token string) error {
			return client.Vacuum(ctx, token, req.Repo)
		},
		nil,
	)
}

func (s *server) handleDeleteMetrics(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")

	var req model.DeleteMetricsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "delete-metrics", repo,
		func(ctx context.Context, token string) error {
			return client.DeleteMetrics(ctx, token, repo, req.Metrics)
		},
		func() int { return s.queries.InvalidateRepo(repo) },
	)
}

func (s *server) handleRenameMetrics(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "repo")

	var req model.RenameMetricsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	client := s.queries.Client()

	s.runAdmin(w, r, "rename-metrics", repo,
		func(ctx context.Context, token string) error {
			return client.RenameMetrics(ctx, token, repo, req.Metrics)
		},
		func() int { return s.queries.InvalidateRepo(repo) },
	)
}
