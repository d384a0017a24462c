package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tierRankSQL mirrors TierRank for in-query priority comparison.
const tierRankSQL = `CASE %s WHEN 'premium' THEN 2 WHEN 'pro' THEN 2 WHEN 'basic' THEN 1 ELSE 0 END`

// Repository handles queue_slots PostgreSQL operations. The row store is the
// coordination point: multiple service instances share one queue.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new queue Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert creates the slot row in the enqueued state.
func (r *Repository) Insert(ctx context.Context, s Slot) (Slot, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO queue_slots (job_id, tier, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		s.JobID, string(s.Tier), s.UserID,
	).Scan(&s.CreatedAt)
	if err != nil {
		return Slot{}, fmt.Errorf("inserting queue slot: %w", err)
	}
	return s, nil
}

// TryPick attempts to claim a running slot for the job. Capacity and priority
// are re-checked inside the one UPDATE so two instances polling at the same
// tick cannot both squeeze past the capacity cap.
func (r *Repository) TryPick(ctx context.Context, jobID uuid.UUID, capacity int) (bool, error) {
	query := fmt.Sprintf(
		`UPDATE queue_slots t
		 SET picked_at = now()
		 WHERE t.job_id = $1
		   AND t.picked_at IS NULL
		   AND NOT t.done
		   AND (SELECT count(*) FROM queue_slots
		        WHERE picked_at IS NOT NULL AND NOT done) < $2
		   AND NOT EXISTS (
		       SELECT 1 FROM queue_slots c
		       WHERE c.picked_at IS NULL
		         AND NOT c.done
		         AND c.job_id <> t.job_id
		         AND (`+tierRankSQL+` > `+tierRankSQL+`
		              OR (`+tierRankSQL+` = `+tierRankSQL+`
		                  AND (c.created_at < t.created_at
		                       OR (c.created_at = t.created_at AND c.job_id < t.job_id))))
		   )`,
		"c.tier", "t.tier", "c.tier", "t.tier")

	tag, err := r.pool.Exec(ctx, query, jobID, capacity)
	if err != nil {
		return false, fmt.Errorf("claiming queue slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDone releases the slot. Idempotent and unconditional: it is the
// guaranteed-release path, called whether the job was picked or not.
func (r *Repository) MarkDone(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE queue_slots SET done = true WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("marking queue slot done: %w", err)
	}
	return nil
}

// RunningCount returns the number of picked, unfinished slots.
func (r *Repository) RunningCount(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM queue_slots WHERE picked_at IS NOT NULL AND NOT done`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting running slots: %w", err)
	}
	return n, nil
}

// Sweep deletes finished rows older than the retention window.
func (r *Repository) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM queue_slots WHERE done AND created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweeping queue slots: %w", err)
	}
	return tag.RowsAffected(), nil
}
