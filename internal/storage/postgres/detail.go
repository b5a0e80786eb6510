package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/order"
)

const getOrderSQL = `SELECT ` + orderColumns + `
	FROM orders WHERE id = $1 AND user_id = $2`

// GetOrderDetail returns an order with its items for the order-detail view.
// It is a plain non-locking read; reject reasons on items are included so the
// shopper can see why a return was declined before re-requesting.
func (s *Store) GetOrderDetail(ctx context.Context, orderID, userID string) (*order.Order, []order.OrderItem, error) {
	var o order.Order
	err := s.pool.QueryRow(ctx, getOrderSQL, orderID, userID).
		Scan(&o.ID, &o.UserID, &o.Number, &o.Status, &o.FinalAmount,
			&o.UsedPoints, &o.EarnedPoints, &o.ShippingFee, &o.OrderedAt, &o.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, compensation.ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	rows, err := s.pool.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	defer rows.Close()

	var items []order.OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning item of order %q: %w", orderID, err)
		}
		items = append(items, *it)
	}
	return &o, items, rows.Err()
}
