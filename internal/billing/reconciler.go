package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/metrics"
	"github.com/voxlane/voxlane/internal/nats"
	"github.com/voxlane/voxlane/internal/usage"
)

type usageWriter interface {
	Insert(ctx context.Context, rec usage.Record) error
	MonthlyHighAccuracy(ctx context.Context, userID uuid.UUID, now time.Time) (usage.Minutes, error)
}

type packConsumer interface {
	Consume(ctx context.Context, userID uuid.UUID, need usage.Minutes, now time.Time) (usage.Minutes, error)
}

type eventPublisher interface {
	PublishOverageBilled(ctx context.Context, event nats.OverageBilledEvent) error
	PublishUsageSettled(ctx context.Context, event nats.UsageSettledEvent) error
}

// Reconciler splits the measured minutes of a completed transcription across
// minute packs and the subscription quota, and raises overage billing events.
type Reconciler struct {
	records usageWriter
	packs   packConsumer
	events  eventPublisher // nil when NATS is disabled
	cfg     config.BillingConfig
	now     func() time.Time
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(records usageWriter, packs packConsumer, events eventPublisher, cfg config.BillingConfig) *Reconciler {
	return &Reconciler{records: records, packs: packs, events: events, cfg: cfg, now: time.Now}
}

// Settle charges the actual measured minutes of one completed transcription.
// Packs are drained first (soonest expiry first), only the unmet remainder
// hits the subscription quota, and each leg is persisted as its own record.
//
// Settle is called after the transcription already succeeded, so attribution
// problems must not become user-visible errors: if the split fails, the whole
// amount is charged to the subscription dimension instead, and only a failure
// of that fallback is returned.
func (r *Reconciler) Settle(ctx context.Context, userID uuid.UUID, tier usage.Tier, plan string, actual usage.Minutes, model usage.ModelType) error {
	if actual <= 0 {
		slog.Debug("settle: nothing to charge", "user_id", userID, "minutes", actual)
		return nil
	}

	now := r.now()
	day := usage.DayStart(now)

	fromPacks, subCharge, err := r.split(ctx, userID, tier, plan, actual, model, day, now)
	if err != nil {
		slog.Error("settle: split failed, charging full amount to subscription",
			"error", err, "user_id", userID, "minutes", actual)
		fromPacks, subCharge = 0, actual
		if ferr := r.records.Insert(ctx, usage.Record{
			UserID:           userID,
			Day:              day,
			Minutes:          actual,
			ModelType:        model,
			SubscriptionType: plan,
		}); ferr != nil {
			return fmt.Errorf("fallback subscription charge: %w", ferr)
		}
	}

	if fromPacks > 0 {
		metrics.MinutesSettledTotal.WithLabelValues("pack").Add(fromPacks.Float())
	}
	if subCharge > 0 {
		metrics.MinutesSettledTotal.WithLabelValues("subscription").Add(subCharge.Float())
	}

	if r.events != nil {
		if perr := r.events.PublishUsageSettled(ctx, nats.UsageSettledEvent{
			UserID:              userID,
			Tier:                string(tier),
			ModelType:           string(model),
			TotalMinutes:        actual.Float(),
			PackMinutes:         fromPacks.Float(),
			SubscriptionMinutes: subCharge.Float(),
			Fallback:            err != nil,
			Timestamp:           now,
		}); perr != nil {
			slog.Warn("settle: publishing usage event failed", "error", perr, "user_id", userID)
		}
	}

	if model == usage.ModelHighAccuracy && r.cfg.OverageEnabled {
		r.billOverage(ctx, userID, actual, now)
	}

	return nil
}

// split performs the pack-first drawdown and persists one record per funded
// leg. The returned charges always sum to actual.
func (r *Reconciler) split(ctx context.Context, userID uuid.UUID, tier usage.Tier, plan string, actual usage.Minutes, model usage.ModelType, day, now time.Time) (fromPacks, subCharge usage.Minutes, err error) {
	fromPacks, err = r.packs.Consume(ctx, userID, actual, now)
	if err != nil {
		return 0, 0, fmt.Errorf("pack drawdown: %w", err)
	}

	if fromPacks > 0 {
		if err = r.records.Insert(ctx, usage.Record{
			UserID:           userID,
			Day:              day,
			Minutes:          fromPacks,
			ModelType:        model.PackVariant(),
			SubscriptionType: plan,
		}); err != nil {
			return 0, 0, fmt.Errorf("recording pack charge: %w", err)
		}
	}

	subCharge = actual - fromPacks
	if subCharge > 0 {
		if err = r.records.Insert(ctx, usage.Record{
			UserID:           userID,
			Day:              day,
			Minutes:          subCharge,
			ModelType:        model,
			SubscriptionType: plan,
		}); err != nil {
			// The pack leg is already persisted; only the remainder is
			// re-charged by the fallback path.
			return 0, 0, fmt.Errorf("recording subscription charge: %w", err)
		}
	}

	return fromPacks, subCharge, nil
}

func (r *Reconciler) billOverage(ctx context.Context, userID uuid.UUID, charged usage.Minutes, now time.Time) {
	total, err := r.records.MonthlyHighAccuracy(ctx, userID, now)
	if err != nil {
		slog.Error("settle: overage total unavailable, skipping overage billing",
			"error", err, "user_id", userID)
		return
	}

	threshold := usage.WholeMinutes(int64(r.cfg.OverageThresholdMin))
	billed := overageSlice(total, charged, threshold)
	if billed == 0 {
		return
	}

	metrics.OverageMinutesTotal.Add(billed.Float())
	slog.Info("overage billed",
		"user_id", userID,
		"minutes", billed.Float(),
		"month_total", total.Float(),
		"price_cents_per_minute", r.cfg.OveragePriceCents)

	if r.events == nil {
		return
	}
	if err := r.events.PublishOverageBilled(ctx, nats.OverageBilledEvent{
		UserID:        userID,
		BilledMinutes: billed.Float(),
		PriceCents:    r.cfg.OveragePriceCents,
		MonthTotalMin: total.Float(),
		ThresholdMin:  r.cfg.OverageThresholdMin,
		Timestamp:     now,
	}); err != nil {
		slog.Error("settle: publishing overage event failed", "error", err, "user_id", userID)
	}
}
