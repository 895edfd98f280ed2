// Package dashboard serves a JSON gateway in front of a radar server. Reads
// go through the shared query cache, admin actions are proxied with the
// configured token and invalidate the affected cache entries.
package dashboard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leanprover/radar/pkg/client"
	"github.com/leanprover/radar/pkg/config"
	"github.com/leanprover/radar/pkg/indexer"
	"github.com/leanprover/radar/pkg/indexstore"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the dashboard HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error

	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.DashboardConfig
	indexing   *config.IndexingConfig
	queries    *client.Queries
	indexStore indexstore.Store
	indexer    indexer.Indexer
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new dashboard server. indexing may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.DashboardConfig,
	indexing *config.IndexingConfig,
	queries *client.Queries,
) Server {
	return newServer(log, cfg, indexing, queries)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.DashboardConfig,
	indexing *config.IndexingConfig,
	queries *client.Queries,
) *server {
	return &server{
		log:      log.WithField("component", "dashboard"),
		cfg:      cfg,
		indexing: indexing,
		queries:  queries,
		done:     make(chan struct{}),
	}
}

// Start prepares indexing, binds the listener and serves requests.
func (s *server) Start(ctx context.Context) error {
	// The index store must exist before the router is built so that the
	// index routes are registered; the indexer itself starts last.
	if s.indexing != nil && s.indexing.Enabled {
		if err := s.prepareIndexing(ctx); err != nil {
			return fmt.Errorf("preparing indexing: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind synchronously so port conflicts fail fast.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("Dashboard server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server, the indexer and the index
// store.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.indexStore != nil {
		if err := s.indexStore.Stop(); err != nil {
			return fmt.Errorf("stopping index store: %w", err)
		}
	}

	s.log.Info("Dashboard server stopped")

	return nil
}

// Addr implements Server.
func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// prepareIndexing opens the index store and creates the indexer without
// starting it. The indexer reads the server directly so that every pass
// sees fresh history.
func (s *server) prepareIndexing(ctx context.Context) error {
	s.indexStore = indexstore.NewStore(s.log, &s.indexing.Database)

	if err := s.indexStore.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	s.indexer = indexer.NewIndexer(
		s.log, s.indexStore, s.queries.Client(), s.indexing,
	)

	s.log.Info("Indexing service enabled")

	return nil
}
