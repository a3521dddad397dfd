package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

type CheckpointRepo interface {
	// Load returns the checkpoint for (jobKind, projectID), or nil when the
	// job has never run or was cleared.
	Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error)
	// Save upserts the checkpoint. Call only after the batch it describes has
	// been durably committed.
	Save(ctx context.Context, ckpt *domain.JobCheckpoint) error
	// Clear removes the checkpoint after a run completes.
	Clear(ctx context.Context, jobKind, projectID string) error
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return &checkpointRepo{
		db:  db,
		log: baseLog.With("repo", "CheckpointRepo"),
	}
}

func (r *checkpointRepo) Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error) {
	var ckpt domain.JobCheckpoint
	err := r.db.WithContext(ctx).
		Where("job_kind = ? AND project_id = ?", jobKind, projectID).
		First(&ckpt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ckpt, nil
}

func (r *checkpointRepo) Save(ctx context.Context, ckpt *domain.JobCheckpoint) error {
	if ckpt == nil {
		return nil
	}
	existing, err := r.Load(ctx, ckpt.JobKind, ckpt.ProjectID)
	if err != nil {
		return err
	}
	ckpt.UpdatedAt = time.Now().UTC()
	if existing != nil {
		ckpt.ID = existing.ID
		if ckpt.StartedAt.IsZero() {
			ckpt.StartedAt = existing.StartedAt
		}
		return r.db.WithContext(ctx).Save(ckpt).Error
	}
	if ckpt.ID == uuid.Nil {
		ckpt.ID = uuid.New()
	}
	if ckpt.StartedAt.IsZero() {
		ckpt.StartedAt = ckpt.UpdatedAt
	}
	return r.db.WithContext(ctx).Create(ckpt).Error
}

func (r *checkpointRepo) Clear(ctx context.Context, jobKind, projectID string) error {
	return r.db.WithContext(ctx).
		Where("job_kind = ? AND project_id = ?", jobKind, projectID).
		Delete(&domain.JobCheckpoint{}).Error
}
