package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leanprover/radar/pkg/codec"
	"github.com/leanprover/radar/pkg/indexstore"
	"github.com/leanprover/radar/pkg/queryparam"
	"github.com/leanprover/radar/pkg/significance"
)

var indexLimit = queryparam.Int{Name: "limit", Default: 50, Min: codec.Some(0), Max: codec.Some(1000)}

type indexEntry struct {
	Chash       string     `json:"chash"`
	Title       string     `json:"title"`
	CommittedAt time.Time  `json:"committed_at"`
	ParentChash string     `json:"parent_chash,omitempty"`
	Complete    bool       `json:"complete"`
	Significant bool       `json:"significant"`
	MajorCount  int        `json:"major_count"`
	MinorCount  int        `json:"minor_count"`
	Headline    string     `json:"headline,omitempty"`
	IndexedAt   time.Time  `json:"indexed_at"`
	ReindexedAt *time.Time `json:"reindexed_at,omitempty"`
}

func toIndexEntry(summary *indexstore.CommitSummary) indexEntry {
	return indexEntry{
		Chash:       summary.Chash,
		Title:       summary.Title,
		CommittedAt: summary.CommittedAt,
		ParentChash: summary.ParentChash,
		Complete:    summary.Complete,
		Significant: summary.Significant,
		MajorCount:  summary.MajorCount,
		MinorCount:  summary.MinorCount,
		Headline:    summary.Headline,
		IndexedAt:   summary.IndexedAt,
		ReindexedAt: summary.ReindexedAt,
	}
}

// handleIndexRepos lists every repo with indexed commits.
func (s *server) handleIndexRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.indexStore.ListRepos(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing repos: " + err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"repos": repos})
}

// handleIndex returns the newest indexed summaries of a repo.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	limit := indexLimit.Decode(r.URL.Query())

	summaries, err := s.indexStore.ListSummaries(r.Context(), chi.URLParam(r, "repo"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing summaries: " + err.Error()})

		return
	}

	entries := make([]indexEntry, 0, len(summaries))
	for i := range summaries {
		entries = append(entries, toIndexEntry(&summaries[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generated": time.Now().Unix(),
		"entries":   entries,
	})
}

// handleIndexCommit returns one indexed commit with its stored messages.
func (s *server) handleIndexCommit(w http.ResponseWriter, r *http.Request) {
	summary, err := s.indexStore.GetSummary(r.Context(),
		chi.URLParam(r, "repo"), chi.URLParam(r, "chash"))
	if errors.Is(err, indexstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"commit is not indexed"})

		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting summary: " + err.Error()})

		return
	}

	resp := struct {
		indexEntry
		Summary  *significance.Summary `json:"summary,omitempty"`
		Rendered *renderedSummary      `json:"rendered,omitempty"`
	}{indexEntry: toIndexEntry(summary)}

	if summary.MessagesJSON != "" {
		var stored significance.Summary
		if err := json.Unmarshal([]byte(summary.MessagesJSON), &stored); err != nil {
			s.log.WithError(err).
				WithField("chash", summary.Chash).
				Warn("Stored messages are not decodable")
		} else {
			rendered := renderSummary(stored)
			resp.Summary = &stored
			resp.Rendered = &rendered
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
