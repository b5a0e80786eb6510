// Package loyalty models the per-user point balance, cumulative spend, and
// membership tier that compensating transactions must keep reconciled.
package loyalty

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no loyalty account exists for a user.
var ErrNotFound = errors.New("loyalty account not found")

// Tier is the membership level derived from cumulative spend.
type Tier string

const (
	TierBronze Tier = "BRONZE"
	TierSilver Tier = "SILVER"
	TierGold   Tier = "GOLD"
	TierVIP    Tier = "VIP"
)

// tierThresholds maps minimum cumulative spend to a tier, highest first.
var tierThresholds = []struct {
	min  decimal.Decimal
	tier Tier
}{
	{decimal.NewFromInt(500_000), TierVIP},
	{decimal.NewFromInt(300_000), TierGold},
	{decimal.NewFromInt(100_000), TierSilver},
	{decimal.Zero, TierBronze},
}

// ResolveTier returns the tier for the given cumulative spend. It is applied
// immediately after every spend mutation, independent of any periodic batch
// recalculation.
func ResolveTier(spend decimal.Decimal) Tier {
	for _, t := range tierThresholds {
		if spend.GreaterThanOrEqual(t.min) {
			return t.tier
		}
	}
	return TierBronze
}

// Account is a user's loyalty state. Balance and spend are mutated only
// through single conditional ledger updates under a row lock.
type Account struct {
	UserID          string
	PointBalance    int64
	CumulativeSpend decimal.Decimal
	Tier            Tier
}

// EntryType tags a point history row with its cause.
type EntryType string

const (
	EntryCancelRefund EntryType = "CANCEL_REFUND"
	EntryReturnRefund EntryType = "RETURN_REFUND"
)

// PointEntry is one append-only point ledger row, kept for support and audit
// traceability.
type PointEntry struct {
	ID           string
	UserID       string
	Type         EntryType
	Amount       int64
	BalanceAfter int64
	OrderID      string
	CreatedAt    time.Time
}

// ProportionalShare computes the portion of points attributable to a partial
// compensation: points scaled by amount/total, truncated toward zero. A zero
// total yields zero so a free order never divides by zero.
func ProportionalShare(points int64, amount, total decimal.Decimal) int64 {
	if total.IsZero() || points == 0 {
		return 0
	}
	return decimal.NewFromInt(points).Mul(amount).Div(total).IntPart()
}
