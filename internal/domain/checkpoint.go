package domain

import (
	"time"

	"github.com/google/uuid"
)

// Batch job kinds with checkpoint/resume support.
const (
	JobKindEmbedBackfill   = "embed_backfill"
	JobKindSimilarityRegen = "similarity_regen"
)

// JobCheckpoint is the durable progress marker of a resumable batch job.
// One row per (job_kind, project_id); saved only after the corresponding
// batch has been committed to the graph store.
type JobCheckpoint struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobKind         string    `gorm:"index:idx_ckpt_job_project,unique"`
	ProjectID       string    `gorm:"index:idx_ckpt_job_project,unique"`
	LastProcessedID string
	ProcessedCount  int
	SkippedCount    int
	FailedCount     int
	StartedAt       time.Time
	UpdatedAt       time.Time
}
