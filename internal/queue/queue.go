package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/metrics"
	"github.com/voxlane/voxlane/internal/usage"
)

type slotStore interface {
	Insert(ctx context.Context, s Slot) (Slot, error)
	TryPick(ctx context.Context, jobID uuid.UUID, capacity int) (bool, error)
	MarkDone(ctx context.Context, jobID uuid.UUID) error
	RunningCount(ctx context.Context) (int, error)
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
}

// Queue is the capacity-bounded, tier-prioritized gate in front of the
// downstream transcription backend. A job occupies one of the global slots
// only while actively processing; the caller must release it via MarkDone on
// every exit path, or effective capacity shrinks permanently.
//
// When disabled by config, every job is treated as immediately picked.
type Queue struct {
	store slotStore
	cfg   config.QueueConfig
	now   func() time.Time
}

// New creates a Queue.
func New(store slotStore, cfg config.QueueConfig) *Queue {
	return &Queue{store: store, cfg: cfg, now: time.Now}
}

// Enqueue creates a slot in the enqueued state.
func (q *Queue) Enqueue(ctx context.Context, tier usage.Tier, userID uuid.UUID) (Slot, error) {
	slot := Slot{JobID: uuid.New(), Tier: tier, UserID: userID}
	if !q.cfg.Enabled {
		slot.CreatedAt = q.now()
		return slot, nil
	}
	return q.store.Insert(ctx, slot)
}

// WaitForTurn polls until the job is granted a slot, the timeout elapses, or
// ctx is canceled. Ordering among waiters is a best-effort total order
// recomputed at each tick, not a strict FIFO. The caller must call MarkDone
// afterwards regardless of the outcome.
func (q *Queue) WaitForTurn(ctx context.Context, jobID uuid.UUID, timeout time.Duration) (bool, error) {
	if !q.cfg.Enabled {
		return true, nil
	}

	start := q.now()
	deadline := start.Add(timeout)

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		picked, err := q.store.TryPick(ctx, jobID, q.cfg.Capacity)
		if err != nil {
			return false, err
		}
		if picked {
			metrics.AdmissionWaitSeconds.Observe(q.now().Sub(start).Seconds())
			return true, nil
		}
		if !q.now().Before(deadline) {
			slog.Info("admission wait timed out", "job_id", jobID, "waited", q.now().Sub(start))
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// MarkDone releases the job's slot reservation. Safe to call more than once
// and for jobs that were never picked.
func (q *Queue) MarkDone(ctx context.Context, jobID uuid.UUID) error {
	if !q.cfg.Enabled {
		return nil
	}
	return q.store.MarkDone(ctx, jobID)
}

// Sweeper garbage-collects finished rows past the retention window and keeps
// the running-slot gauge fresh. Blocks until ctx is canceled.
func (q *Queue) Sweeper(ctx context.Context, interval time.Duration) {
	if !q.cfg.Enabled {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := q.store.Sweep(ctx, q.now().Add(-q.cfg.Retention)); err != nil {
			slog.Warn("queue sweep failed", "error", err)
		} else if n > 0 {
			slog.Debug("swept finished queue slots", "count", n)
		}

		if running, err := q.store.RunningCount(ctx); err == nil {
			metrics.QueueRunningSlots.Set(float64(running))
		}
	}
}
