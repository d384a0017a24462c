package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PackRepository handles minute_packs PostgreSQL operations.
type PackRepository struct {
	pool *pgxpool.Pool
}

// NewPackRepository creates a new PackRepository.
func NewPackRepository(pool *pgxpool.Pool) *PackRepository {
	return &PackRepository{pool: pool}
}

// Grant creates a new pack for the user.
func (r *PackRepository) Grant(ctx context.Context, userID uuid.UUID, minutes Minutes, expiresAt time.Time) (MinutePack, error) {
	if minutes <= 0 {
		return MinutePack{}, fmt.Errorf("pack grant must be positive, got %s minutes", minutes)
	}

	p := MinutePack{ID: uuid.New(), UserID: userID, MinutesLeft: minutes, Granted: minutes, ExpiresAt: expiresAt}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO minute_packs (id, user_id, minutes_left_hundredths, minutes_granted_hundredths, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING order_no, created_at`,
		p.ID, p.UserID, int64(p.MinutesLeft), int64(p.Granted), p.ExpiresAt,
	).Scan(&p.OrderNo, &p.CreatedAt)
	if err != nil {
		return MinutePack{}, fmt.Errorf("granting minute pack: %w", err)
	}
	return p, nil
}

// Available sums the user's undrained, unexpired pack minutes.
func (r *PackRepository) Available(ctx context.Context, userID uuid.UUID, now time.Time) (Minutes, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(minutes_left_hundredths), 0)::bigint
		 FROM minute_packs
		 WHERE user_id = $1 AND minutes_left_hundredths > 0 AND expires_at > $2`,
		userID, now,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing pack balance: %w", err)
	}
	return Minutes(total), nil
}

// ListByUser returns all of the user's packs, soonest-expiring first. Drained
// and expired packs are included; they are the audit trail.
func (r *PackRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]MinutePack, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_no, user_id, minutes_left_hundredths, minutes_granted_hundredths, expires_at, created_at
		 FROM minute_packs
		 WHERE user_id = $1
		 ORDER BY expires_at ASC, order_no ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing minute packs: %w", err)
	}
	defer rows.Close()

	var packs []MinutePack
	for rows.Next() {
		var p MinutePack
		var left, granted int64
		if err := rows.Scan(&p.ID, &p.OrderNo, &p.UserID, &left, &granted, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning minute pack: %w", err)
		}
		p.MinutesLeft = Minutes(left)
		p.Granted = Minutes(granted)
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

// Consume drains up to need minutes from the user's active packs, soonest
// expiry first, then oldest purchase. Rows are locked for the duration of the
// transaction so two settlements cannot double-spend one pack. Returns the
// minutes actually drained, which may be less than need or zero.
func (r *PackRepository) Consume(ctx context.Context, userID uuid.UUID, need Minutes, now time.Time) (Minutes, error) {
	if need <= 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("beginning pack drawdown: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, minutes_left_hundredths
		 FROM minute_packs
		 WHERE user_id = $1 AND minutes_left_hundredths > 0 AND expires_at > $2
		 ORDER BY expires_at ASC, order_no ASC
		 FOR UPDATE`,
		userID, now)
	if err != nil {
		return 0, fmt.Errorf("locking minute packs: %w", err)
	}

	type draw struct {
		id     uuid.UUID
		amount Minutes
	}
	var draws []draw
	remaining := need
	for rows.Next() {
		var id uuid.UUID
		var left int64
		if err := rows.Scan(&id, &left); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning pack for drawdown: %w", err)
		}
		if remaining <= 0 {
			break
		}
		amount := minMinutes(remaining, Minutes(left))
		draws = append(draws, draw{id: id, amount: amount})
		remaining -= amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating packs: %w", err)
	}

	for _, d := range draws {
		if _, err := tx.Exec(ctx,
			`UPDATE minute_packs
			 SET minutes_left_hundredths = minutes_left_hundredths - $2
			 WHERE id = $1`,
			d.id, int64(d.amount)); err != nil {
			return 0, fmt.Errorf("draining pack %s: %w", d.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing pack drawdown: %w", err)
	}
	return need - remaining, nil
}
