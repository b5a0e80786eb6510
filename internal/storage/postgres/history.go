package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/inventory"
	"github.com/xenking/kart-returns/internal/domain/loyalty"
)

const (
	appendInventorySQL = `INSERT INTO inventory_history
		(id, product_id, change, quantity, resulting_quantity, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	appendPointsSQL = `INSERT INTO point_history
		(id, user_id, type, amount, balance_after, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	appendReturnAuditSQL = `INSERT INTO return_audit
		(id, order_id, order_item_id, action, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	sumPointsByOrderSQL = `SELECT COALESCE(SUM(amount), 0)
		FROM point_history WHERE order_id = $1`
)

var _ compensation.HistoryStore = (*HistoryStore)(nil)

// HistoryStore appends audit rows on one pgx transaction.
type HistoryStore struct {
	tx pgx.Tx
}

// AppendInventory writes one inventory movement row.
func (s *HistoryStore) AppendInventory(ctx context.Context, h inventory.History) error {
	_, err := s.tx.Exec(ctx, appendInventorySQL,
		h.ID, h.ProductID, h.Change, h.Quantity, h.ResultingQuantity, h.OrderID, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending inventory history for %q: %w", h.ProductID, err)
	}
	return nil
}

// AppendPoints writes one point ledger row.
func (s *HistoryStore) AppendPoints(ctx context.Context, e loyalty.PointEntry) error {
	_, err := s.tx.Exec(ctx, appendPointsSQL,
		e.ID, e.UserID, e.Type, e.Amount, e.BalanceAfter, e.OrderID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending point history for %q: %w", e.UserID, err)
	}
	return nil
}

// AppendReturnAudit writes one return lifecycle audit row.
func (s *HistoryStore) AppendReturnAudit(ctx context.Context, a compensation.ReturnAudit) error {
	_, err := s.tx.Exec(ctx, appendReturnAuditSQL,
		a.ID, a.OrderID, a.OrderItemID, a.Action, a.Reason, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending return audit for item %q: %w", a.OrderItemID, err)
	}
	return nil
}

// SumPointsByOrder returns the signed sum of point deltas already recorded
// for the order, zero when no entry exists.
func (s *HistoryStore) SumPointsByOrder(ctx context.Context, orderID string) (int64, error) {
	var sum int64
	err := s.tx.QueryRow(ctx, sumPointsByOrderSQL, orderID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing point history for order %q: %w", orderID, err)
	}
	return sum, nil
}
