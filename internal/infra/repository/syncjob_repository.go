package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// SyncJobRepository persists bulk sync jobs. The single-running-job rule
// is a partial unique index on (sessionId) WHERE status = 'running', so
// claiming is race-free across processes.
type SyncJobRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewSyncJobRepository(db *sqlx.DB, log *logger.Logger) *SyncJobRepository {
	return &SyncJobRepository{
		db:     db,
		logger: log.WithModule("syncjob-repository"),
	}
}

func (r *SyncJobRepository) Claim(ctx context.Context, job *ports.SyncJob) error {
	query := `
		INSERT INTO "wsSyncJob" (
			"id", "sessionId", "type", "status", "progress", "total",
			"error", "startedAt", "finishedAt", "updatedAt"
		) VALUES (
			:id, :sessionId, :type, :status, :progress, :total,
			:error, :startedAt, :finishedAt, :updatedAt
		)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ports.ErrSyncAlreadyRunning
		}
		return fmt.Errorf("failed to claim sync job: %w", err)
	}
	return nil
}

// UpdateProgress moves the counter forward. GREATEST keeps progress
// monotonic even if checkpoints land out of order.
func (r *SyncJobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `
		UPDATE "wsSyncJob"
		SET "progress" = GREATEST("progress", $1), "updatedAt" = NOW()
		WHERE "id" = $2 AND "status" = 'running'`
	if _, err := r.db.ExecContext(ctx, query, progress, id); err != nil {
		return fmt.Errorf("failed to update sync progress: %w", err)
	}
	return nil
}

func (r *SyncJobRepository) SetTotal(ctx context.Context, id string, total int) error {
	query := `UPDATE "wsSyncJob" SET "total" = $1, "updatedAt" = NOW() WHERE "id" = $2`
	if _, err := r.db.ExecContext(ctx, query, total, id); err != nil {
		return fmt.Errorf("failed to set sync total: %w", err)
	}
	return nil
}

func (r *SyncJobRepository) Finish(ctx context.Context, id, status string, errMsg *string) error {
	query := `
		UPDATE "wsSyncJob"
		SET "status" = $1, "error" = $2, "finishedAt" = NOW(), "updatedAt" = NOW()
		WHERE "id" = $3 AND "status" = 'running'`
	if _, err := r.db.ExecContext(ctx, query, status, errMsg, id); err != nil {
		return fmt.Errorf("failed to finish sync job: %w", err)
	}
	return nil
}

func (r *SyncJobRepository) GetLatest(ctx context.Context, sessionID string) (*ports.SyncJob, error) {
	var job ports.SyncJob
	query := `
		SELECT * FROM "wsSyncJob"
		WHERE "sessionId" = $1
		ORDER BY "updatedAt" DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &job, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrSyncJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest sync job: %w", err)
	}
	return &job, nil
}

// FailStale marks running jobs without a heartbeat since the cutoff as
// failed. Jobs survive process crashes as rows; this reclaims them.
func (r *SyncJobRepository) FailStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE "wsSyncJob"
		SET "status" = 'failed', "error" = 'stale: no progress heartbeat',
		    "finishedAt" = NOW(), "updatedAt" = NOW()
		WHERE "status" = 'running' AND "updatedAt" < $1`
	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale sync jobs: %w", err)
	}
	return result.RowsAffected()
}
