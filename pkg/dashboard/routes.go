package dashboard

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)

	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}

	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware("public", s.cfg.RateLimit.Public))
			}

			r.Get("/repos", s.handleRepos)
			r.Get("/repos/{repo}/history", s.handleHistory)
			r.Get("/repos/{repo}/metrics", s.handleMetrics)
			r.Get("/repos/{repo}/graph", s.handleGraph)
			r.Get("/repos/{repo}/github-bot", s.handleGithubBot)
			r.Get("/commits/{repo}/{chash}", s.handleCommit)
			r.Get("/commits/{repo}/{chash}/runs/{run}", s.handleCommitRun)
			r.Get("/compare/{repo}/{first}/{second}", s.handleCompare)
			r.Get("/runs/{repo}/{chash}", s.handleRuns)
			r.Get("/queue", s.handleQueue)
			r.Get("/queue/runs/{repo}/{chash}/{run}", s.handleQueueRun)

			if s.indexStore != nil {
				r.Get("/index", s.handleIndexRepos)
				r.Get("/index/{repo}", s.handleIndex)
				r.Get("/index/{repo}/{chash}", s.handleIndexCommit)
			}
		})

		// Admin endpoints exist only when users are configured.
		if len(s.cfg.Basic.Users) > 0 {
			r.Route("/admin", func(r chi.Router) {
				if s.cfg.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware("admin", s.cfg.RateLimit.Admin))
				}

				r.Use(s.requireBasicAuth)

				r.Get("/repos/{repo}/metrics", s.handleAdminMetrics)
				r.Post("/enqueue", s.handleEnqueue)
				r.Post("/maintain", s.handleMaintain)
				r.Post("/recompute-significance", s.handleRecomputeSignificance)
				r.Post("/vacuum", s.handleVacuum)
				r.Post("/repos/{repo}/metrics/delete", s.handleDeleteMetrics)
				r.Post("/repos/{repo}/metrics/rename", s.handleRenameMetrics)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the dashboard config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
