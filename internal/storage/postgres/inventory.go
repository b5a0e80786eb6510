package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/inventory"
)

const (
	lockStockSQL = `SELECT id, quantity, sold_count
		FROM products WHERE id = $1 FOR UPDATE`

	// Restoring stock rolls the same units off the cumulative sold counter.
	// GREATEST keeps the counter from underflowing on replayed history.
	restoreStockSQL = `UPDATE products
		SET quantity = quantity + $2, sold_count = GREATEST(sold_count - $2, 0)
		WHERE id = $1
		RETURNING quantity`
)

var _ compensation.InventoryStore = (*InventoryStore)(nil)

// InventoryStore implements the atomic stock ledger on one pgx transaction.
type InventoryStore struct {
	tx pgx.Tx
}

// LockStock acquires the per-product row lock and re-reads current stock.
func (s *InventoryStore) LockStock(ctx context.Context, productID string) (*inventory.Stock, error) {
	var st inventory.Stock
	err := s.tx.QueryRow(ctx, lockStockSQL, productID).
		Scan(&st.ProductID, &st.Quantity, &st.SoldCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("locking stock %q: %w", productID, err)
	}
	return &st, nil
}

// RestoreStock adds qty back to stock in a single conditional update and
// returns the resulting quantity.
func (s *InventoryStore) RestoreStock(ctx context.Context, productID string, qty int64) (int64, error) {
	var resulting int64
	err := s.tx.QueryRow(ctx, restoreStockSQL, productID, qty).Scan(&resulting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrNotFound
		}
		return 0, fmt.Errorf("restoring %d units of %q: %w", qty, productID, err)
	}
	return resulting, nil
}
