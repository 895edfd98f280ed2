// Package prefs persists the selected repo and the admin token between
// invocations.
package prefs

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/leanprover/radar/pkg/codec"
)

// Backend keys.
const (
	KeySelectedRepo = "radar/selected-repo"
	KeyAdminToken   = "radar/admin-token"
)

// Store holds the preferences in memory and writes every change through
// to its Backend. Call Load once at startup.
type Store interface {
	Load(ctx context.Context) error

	SelectedRepo() codec.Optional[string]
	AdminToken() codec.Optional[string]

	// SetSelectedRepo selects repo. An empty repo clears the selection.
	SetSelectedRepo(ctx context.Context, repo string) error
	SetAdminToken(ctx context.Context, token string) error
	ClearAdminToken(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log     logrus.FieldLogger
	backend Backend

	mu           sync.RWMutex
	selectedRepo codec.Optional[string]
	adminToken   codec.Optional[string]
}

// NewStore creates a store on backend.
func NewStore(log logrus.FieldLogger, backend Backend) Store {
	return &store{
		log:     log.WithField("component", "prefs"),
		backend: backend,
	}
}

// Load implements Store.
func (s *store) Load(ctx context.Context) error {
	repo, err := s.read(ctx, KeySelectedRepo)
	if err != nil {
		return err
	}

	token, err := s.read(ctx, KeyAdminToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.selectedRepo = repo
	s.adminToken = token
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"selected_repo": repo.OrElse(""),
		"has_token":     token.IsPresent(),
	}).Debug("Loaded preferences")

	return nil
}

func (s *store) read(ctx context.Context, key string) (codec.Optional[string], error) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return codec.None[string](), err
	}

	if !ok || value == "" {
		return codec.None[string](), nil
	}

	return codec.Some(value), nil
}

// SelectedRepo implements Store.
func (s *store) SelectedRepo() codec.Optional[string] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selectedRepo
}

// AdminToken implements Store.
func (s *store) AdminToken() codec.Optional[string] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.adminToken
}

// SetSelectedRepo implements Store.
func (s *store) SetSelectedRepo(ctx context.Context, repo string) error {
	return s.write(ctx, KeySelectedRepo, repo, &s.selectedRepo)
}

// SetAdminToken implements Store.
func (s *store) SetAdminToken(ctx context.Context, token string) error {
	return s.write(ctx, KeyAdminToken, token, &s.adminToken)
}

// ClearAdminToken implements Store.
func (s *store) ClearAdminToken(ctx context.Context) error {
	return s.write(ctx, KeyAdminToken, "", &s.adminToken)
}

func (s *store) write(ctx context.Context, key, value string, field *codec.Optional[string]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		if err := s.backend.Delete(ctx, key); err != nil {
			return err
		}

		*field = codec.None[string]()

		return nil
	}

	if err := s.backend.Set(ctx, key, value); err != nil {
		return err
	}

	*field = codec.Some(value)

	return nil
}
