package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/coupon"
)

const (
	findGrantByOrderSQL = `SELECT id, user_id, code, used, order_id, used_at
		FROM user_coupons WHERE order_id = $1`

	// The used = TRUE predicate makes the restore an idempotent no-op on
	// retried cancellations.
	restoreGrantSQL = `UPDATE user_coupons
		SET used = FALSE, order_id = NULL, used_at = NULL
		WHERE id = $1 AND used = TRUE`
)

var _ compensation.CouponStore = (*CouponStore)(nil)

// CouponStore implements grant lookup and restore on one pgx transaction.
type CouponStore struct {
	tx pgx.Tx
}

// FindGrantByOrder returns the grant consumed by the given order, or
// coupon.ErrGrantNotFound when the order had no coupon attached.
func (s *CouponStore) FindGrantByOrder(ctx context.Context, orderID string) (*coupon.Grant, error) {
	var g coupon.Grant
	err := s.tx.QueryRow(ctx, findGrantByOrderSQL, orderID).
		Scan(&g.ID, &g.UserID, &g.Code, &g.Used, &g.OrderID, &g.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrGrantNotFound
		}
		return nil, fmt.Errorf("finding coupon grant for order %q: %w", orderID, err)
	}
	return &g, nil
}

// RestoreGrant flips the grant back to unused and clears its order reference.
func (s *CouponStore) RestoreGrant(ctx context.Context, grantID string) error {
	_, err := s.tx.Exec(ctx, restoreGrantSQL, grantID)
	if err != nil {
		return fmt.Errorf("restoring coupon grant %q: %w", grantID, err)
	}
	return nil
}
