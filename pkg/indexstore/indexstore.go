// Package indexstore persists indexed commit significance summaries.
package indexstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leanprover/radar/pkg/config"
)

// ErrNotFound is returned when no summary exists for a commit.
var ErrNotFound = errors.New("commit summary not found")

// Store provides persistence for the indexed significance data.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertSummary(ctx context.Context, summary *CommitSummary) error
	GetSummary(ctx context.Context, repo, chash string) (*CommitSummary, error)

	// ListSummaries returns the newest summaries of repo first. A limit
	// of zero returns all of them.
	ListSummaries(ctx context.Context, repo string, limit int) ([]CommitSummary, error)
	ListChashes(ctx context.Context, repo string) ([]string, error)
	ListIncompleteChashes(ctx context.Context, repo string) ([]string, error)

	// MarkRepoIncomplete forces every summary of repo to be re-indexed.
	MarkRepoIncomplete(ctx context.Context, repo string) (int64, error)
	ListRepos(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch strings.ToLower(s.cfg.Driver) {
	case config.DatabaseDriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DatabaseDriverPostgres:
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&CommitSummary{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertSummary inserts or updates a summary keyed by repo + chash. Every
// column is overwritten, including zero values.
func (s *store) UpsertSummary(ctx context.Context, summary *CommitSummary) error {
	var existing CommitSummary

	result := s.db.WithContext(ctx).
		Where("repo = ? AND chash = ?", summary.Repo, summary.Chash).
		Assign(map[string]any{
			"repo":          summary.Repo,
			"chash":         summary.Chash,
			"title":         summary.Title,
			"committed_at":  summary.CommittedAt,
			"parent_chash":  summary.ParentChash,
			"complete":      summary.Complete,
			"significant":   summary.Significant,
			"major_count":   summary.MajorCount,
			"minor_count":   summary.MinorCount,
			"headline":      summary.Headline,
			"messages_json": summary.MessagesJSON,
			"indexed_at":    summary.IndexedAt,
			"reindexed_at":  summary.ReindexedAt,
		}).
		FirstOrCreate(&existing)
	if result.Error != nil {
		return fmt.Errorf("upserting commit summary: %w", result.Error)
	}

	summary.ID = existing.ID

	return nil
}

// GetSummary returns ErrNotFound when the commit was never indexed.
func (s *store) GetSummary(ctx context.Context, repo, chash string) (*CommitSummary, error) {
	var summary CommitSummary

	err := s.db.WithContext(ctx).
		Where("repo = ? AND chash = ?", repo, chash).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting commit summary: %w", err)
	}

	return &summary, nil
}

// ListSummaries implements Store.
func (s *store) ListSummaries(ctx context.Context, repo string, limit int) ([]CommitSummary, error) {
	query := s.db.WithContext(ctx).
		Where("repo = ?", repo).
		Order("committed_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	var summaries []CommitSummary
	if err := query.Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("listing commit summaries: %w", err)
	}

	return summaries, nil
}

// ListChashes returns the indexed commit hashes of repo.
func (s *store) ListChashes(ctx context.Context, repo string) ([]string, error) {
	var chashes []string
	if err := s.db.WithContext(ctx).
		Model(&CommitSummary{}).
		Where("repo = ?", repo).
		Pluck("chash", &chashes).Error; err != nil {
		return nil, fmt.Errorf("listing indexed chashes: %w", err)
	}

	return chashes, nil
}

// ListIncompleteChashes returns commits whose comparison was not yet
// available when they were indexed.
func (s *store) ListIncompleteChashes(ctx context.Context, repo string) ([]string, error) {
	var chashes []string
	if err := s.db.WithContext(ctx).
		Model(&CommitSummary{}).
		Where("repo = ? AND complete = ?", repo, false).
		Pluck("chash", &chashes).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete chashes: %w", err)
	}

	return chashes, nil
}

// MarkRepoIncomplete implements Store.
func (s *store) MarkRepoIncomplete(ctx context.Context, repo string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&CommitSummary{}).
		Where("repo = ?", repo).
		Update("complete", false)
	if result.Error != nil {
		return 0, fmt.Errorf("marking summaries incomplete: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// ListRepos returns every repo with at least one summary.
func (s *store) ListRepos(ctx context.Context) ([]string, error) {
	var repos []string
	if err := s.db.WithContext(ctx).
		Model(&CommitSummary{}).
		Distinct("repo").
		Order("repo").
		Pluck("repo", &repos).Error; err != nil {
		return nil, fmt.Errorf("listing indexed repos: %w", err)
	}

	return repos, nil
}
