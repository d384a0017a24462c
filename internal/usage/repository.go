package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles usage_records PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new usage Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one usage record. Minutes must be positive; the schema
// enforces it too, so a zero charge can never be persisted.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if rec.Minutes <= 0 {
		return fmt.Errorf("refusing to persist non-positive charge of %s minutes", rec.Minutes)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Day.IsZero() {
		rec.Day = DayStart(time.Now())
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_records (id, user_id, day, minutes_hundredths, model_type, subscription_type)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, rec.Day, int64(rec.Minutes), string(rec.ModelType), rec.SubscriptionType)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// Summarize derives the user's plan usage for the UTC day and month containing
// now. Aggregates are always computed from the append log, never cached, so
// the reported remaining balance cannot drift from what was charged.
func (r *Repository) Summarize(ctx context.Context, userID uuid.UUID, now time.Time) (Summary, error) {
	var s Summary
	var monthMin, monthHA int64
	err := r.pool.QueryRow(ctx,
		`SELECT
		     count(*) FILTER (WHERE day = $2),
		     COALESCE(sum(minutes_hundredths), 0)::bigint,
		     COALESCE(sum(minutes_hundredths) FILTER (WHERE model_type = $4), 0)::bigint
		 FROM usage_records
		 WHERE user_id = $1
		   AND model_type NOT IN ($5, $6)
		   AND created_at >= $3`,
		userID, DayStart(now), MonthStart(now),
		string(ModelHighAccuracy), string(ModelPackStandard), string(ModelPackHighAccuracy),
	).Scan(&s.RequestsToday, &monthMin, &monthHA)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing usage: %w", err)
	}
	s.MonthMinutes = Minutes(monthMin)
	s.MonthHAMinutes = Minutes(monthHA)
	return s, nil
}

// MonthlyHighAccuracy sums the user's high-accuracy minutes for the month
// containing now, across both funding sources. Overage billing compares this
// cumulative figure against the monthly threshold.
func (r *Repository) MonthlyHighAccuracy(ctx context.Context, userID uuid.UUID, now time.Time) (Minutes, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(minutes_hundredths), 0)::bigint
		 FROM usage_records
		 WHERE user_id = $1 AND model_type IN ($2, $3) AND created_at >= $4`,
		userID, string(ModelHighAccuracy), string(ModelPackHighAccuracy), MonthStart(now),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing monthly high-accuracy usage: %w", err)
	}
	return Minutes(total), nil
}

// ListByUser returns the user's usage records since a point in time, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, day, minutes_hundredths, model_type, subscription_type, created_at
		 FROM usage_records
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("listing usage records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var hundredths int64
		var model, sub string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Day, &hundredths, &model, &sub, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		rec.Minutes = Minutes(hundredths)
		rec.ModelType = ModelType(model)
		rec.SubscriptionType = sub
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
