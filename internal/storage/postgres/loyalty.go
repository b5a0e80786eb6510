package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/loyalty"
)

const (
	lockAccountSQL = `SELECT id, point_balance, cumulative_spend, tier
		FROM users WHERE id = $1 FOR UPDATE`

	// One signed adjustment with the zero floor applied once, so a combined
	// refund/claw-back never clamps on an intermediate step.
	adjustPointsSQL = `UPDATE users
		SET point_balance = GREATEST(point_balance + $2, 0)
		WHERE id = $1
		RETURNING point_balance`

	adjustSpendSQL = `UPDATE users
		SET cumulative_spend = GREATEST(cumulative_spend + $2, 0)
		WHERE id = $1
		RETURNING cumulative_spend`

	setTierSQL = `UPDATE users SET tier = $2 WHERE id = $1`
)

var _ compensation.LoyaltyStore = (*LoyaltyStore)(nil)

// LoyaltyStore implements the atomic point/spend ledger on one pgx transaction.
type LoyaltyStore struct {
	tx pgx.Tx
}

// LockAccount acquires the per-user row lock and re-reads the account.
func (s *LoyaltyStore) LockAccount(ctx context.Context, userID string) (*loyalty.Account, error) {
	var a loyalty.Account
	err := s.tx.QueryRow(ctx, lockAccountSQL, userID).
		Scan(&a.UserID, &a.PointBalance, &a.CumulativeSpend, &a.Tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrNotFound
		}
		return nil, fmt.Errorf("locking loyalty account %q: %w", userID, err)
	}
	return &a, nil
}

// AdjustPoints applies one signed delta, clamped at zero, and returns the
// resulting balance.
func (s *LoyaltyStore) AdjustPoints(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := s.tx.QueryRow(ctx, adjustPointsSQL, userID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, loyalty.ErrNotFound
		}
		return 0, fmt.Errorf("adjusting points of %q by %d: %w", userID, delta, err)
	}
	return balance, nil
}

// AdjustSpend applies one signed delta to cumulative spend, floored at zero,
// and returns the resulting spend.
func (s *LoyaltyStore) AdjustSpend(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var spend decimal.Decimal
	err := s.tx.QueryRow(ctx, adjustSpendSQL, userID, delta).Scan(&spend)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, loyalty.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("adjusting spend of %q: %w", userID, err)
	}
	return spend, nil
}

// SetTier updates the resolved membership tier.
func (s *LoyaltyStore) SetTier(ctx context.Context, userID string, tier loyalty.Tier) error {
	_, err := s.tx.Exec(ctx, setTierSQL, userID, tier)
	if err != nil {
		return fmt.Errorf("setting tier of %q to %s: %w", userID, tier, err)
	}
	return nil
}
