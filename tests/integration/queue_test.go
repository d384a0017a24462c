//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/usage"
)

func enqueueSlot(t *testing.T, env *TestEnv, tier usage.Tier) queue.Slot {
	t.Helper()
	slot, err := env.QueueRepo.Insert(context.Background(), queue.Slot{
		JobID:  uuid.New(),
		Tier:   tier,
		UserID: uuid.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		env.QueueRepo.MarkDone(context.Background(), slot.JobID)
	})
	return slot
}

func TestQueueRepository_CapacityIsEnforced(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	a := enqueueSlot(t, env, usage.TierFree)
	b := enqueueSlot(t, env, usage.TierFree)
	c := enqueueSlot(t, env, usage.TierFree)

	picked, err := env.QueueRepo.TryPick(ctx, a.JobID, 2)
	require.NoError(t, err)
	assert.True(t, picked)

	picked, err = env.QueueRepo.TryPick(ctx, b.JobID, 2)
	require.NoError(t, err)
	assert.True(t, picked)

	// Both slots are occupied; the third job must wait.
	picked, err = env.QueueRepo.TryPick(ctx, c.JobID, 2)
	require.NoError(t, err)
	assert.False(t, picked)

	running, err := env.QueueRepo.RunningCount(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, running, 2)

	// Releasing one slot lets the waiter in.
	require.NoError(t, env.QueueRepo.MarkDone(ctx, a.JobID))
	picked, err = env.QueueRepo.TryPick(ctx, c.JobID, 2)
	require.NoError(t, err)
	assert.True(t, picked)
}

func TestQueueRepository_HigherTierGoesFirst(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	// The free job is older, but the waiting pro job outranks it.
	free := enqueueSlot(t, env, usage.TierFree)
	time.Sleep(10 * time.Millisecond)
	pro := enqueueSlot(t, env, usage.TierPro)

	picked, err := env.QueueRepo.TryPick(ctx, free.JobID, 100)
	require.NoError(t, err)
	assert.False(t, picked, "free job must yield to the waiting pro job")

	picked, err = env.QueueRepo.TryPick(ctx, pro.JobID, 100)
	require.NoError(t, err)
	assert.True(t, picked)

	// With the pro job running, the free job is next.
	picked, err = env.QueueRepo.TryPick(ctx, free.JobID, 100)
	require.NoError(t, err)
	assert.True(t, picked)
}

func TestQueueRepository_FIFOWithinTier(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	first := enqueueSlot(t, env, usage.TierBasic)
	time.Sleep(10 * time.Millisecond)
	second := enqueueSlot(t, env, usage.TierBasic)

	picked, err := env.QueueRepo.TryPick(ctx, second.JobID, 100)
	require.NoError(t, err)
	assert.False(t, picked, "younger job must wait for the older one")

	picked, err = env.QueueRepo.TryPick(ctx, first.JobID, 100)
	require.NoError(t, err)
	assert.True(t, picked)
}

func TestQueueRepository_MarkDoneIsIdempotent(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	slot := enqueueSlot(t, env, usage.TierFree)

	// Done without ever being picked, then done again.
	require.NoError(t, env.QueueRepo.MarkDone(ctx, slot.JobID))
	require.NoError(t, env.QueueRepo.MarkDone(ctx, slot.JobID))

	picked, err := env.QueueRepo.TryPick(ctx, slot.JobID, 100)
	require.NoError(t, err)
	assert.False(t, picked, "finished jobs can never be picked")
}

func TestQueueRepository_SweepRemovesOldFinishedRows(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	slot := enqueueSlot(t, env, usage.TierFree)
	require.NoError(t, env.QueueRepo.MarkDone(ctx, slot.JobID))

	// Retention in the future sweeps it; unfinished rows are never touched.
	waiting := enqueueSlot(t, env, usage.TierFree)

	n, err := env.QueueRepo.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	picked, err := env.QueueRepo.TryPick(ctx, waiting.JobID, 100)
	require.NoError(t, err)
	assert.True(t, picked, "sweep must not delete unfinished rows")
}
