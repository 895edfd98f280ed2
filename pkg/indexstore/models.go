package indexstore

import "time"

// CommitSummary is the indexed significance summary of one commit compared
// against its parent.
type CommitSummary struct {
	ID          uint      `gorm:"primaryKey"`
	Repo        string    `gorm:"not null;uniqueIndex:idx_summaries_repo_chash"`
	Chash       string    `gorm:"not null;uniqueIndex:idx_summaries_repo_chash"`
	Title       string    `gorm:"not null"`
	CommittedAt time.Time `gorm:"index"`

	// ParentChash is resolved by the server from the parent keyword.
	ParentChash string

	// Complete is false while the comparison is not available yet, e.g.
	// because the commit has not been benchmarked.
	Complete    bool `gorm:"index"`
	Significant bool
	MajorCount  int
	MinorCount  int
	Headline    string

	// Classified significance messages serialized as JSON.
	MessagesJSON string `gorm:"type:text"`

	IndexedAt   time.Time
	ReindexedAt *time.Time
}
