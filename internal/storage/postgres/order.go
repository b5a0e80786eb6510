package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/order"
)

const (
	orderColumns = `id, user_id, number, status, final_amount, used_points,
		earned_points, shipping_fee, ordered_at, delivered_at`

	lockOrderSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`

	lockOrderAdminSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1 FOR UPDATE`

	itemColumns = `id, order_id, product_id, product_name, original_quantity,
		unit_price, cancelled_quantity, returned_quantity, remaining_quantity,
		cancelled_amount, returned_amount, status, return_reason, reject_reason,
		pending_return_quantity, return_requested_at, returned_at`

	lockItemSQL = `SELECT ` + itemColumns + `
		FROM order_items WHERE id = $1 AND order_id = $2 FOR UPDATE`

	listItemsSQL = `SELECT ` + itemColumns + `
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	updateItemSQL = `UPDATE order_items SET
		cancelled_quantity = $2, returned_quantity = $3, remaining_quantity = $4,
		cancelled_amount = $5, returned_amount = $6, status = $7,
		return_reason = $8, reject_reason = $9, pending_return_quantity = $10,
		return_requested_at = $11, returned_at = $12
		WHERE id = $1`

	setOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ compensation.OrderStore = (*OrderStore)(nil)

// OrderStore implements compensation.OrderStore on one pgx transaction.
type OrderStore struct {
	tx pgx.Tx
}

// LockOrder acquires the exclusive row lock keyed by (orderID, userID) and
// returns the row as read after the lock. A missing row and a row owned by
// another user both surface as compensation.ErrOrderNotFound.
func (s *OrderStore) LockOrder(ctx context.Context, orderID, userID string) (*order.Order, error) {
	var row pgx.Row
	if userID == "" {
		row = s.tx.QueryRow(ctx, lockOrderAdminSQL, orderID)
	} else {
		row = s.tx.QueryRow(ctx, lockOrderSQL, orderID, userID)
	}

	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Number, &o.Status, &o.FinalAmount,
		&o.UsedPoints, &o.EarnedPoints, &o.ShippingFee, &o.OrderedAt, &o.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, compensation.ErrOrderNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", orderID, err)
	}
	return &o, nil
}

// LockItem acquires the exclusive row lock keyed by (itemID, orderID).
func (s *OrderStore) LockItem(ctx context.Context, itemID, orderID string) (*order.OrderItem, error) {
	it, err := scanItem(s.tx.QueryRow(ctx, lockItemSQL, itemID, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, compensation.ErrItemNotFound
		}
		return nil, fmt.Errorf("locking order item %q: %w", itemID, err)
	}
	return it, nil
}

// ListItems returns all items of an order in canonical (ascending product ID)
// order. The read is non-locking; callers hold the order lock.
func (s *OrderStore) ListItems(ctx context.Context, orderID string) ([]order.OrderItem, error) {
	rows, err := s.tx.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	defer rows.Close()

	var items []order.OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item of order %q: %w", orderID, err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// UpdateItem persists the mutated aggregate state of one item.
func (s *OrderStore) UpdateItem(ctx context.Context, it *order.OrderItem) error {
	_, err := s.tx.Exec(ctx, updateItemSQL,
		it.ID, it.CancelledQuantity, it.ReturnedQuantity, it.RemainingQuantity,
		it.CancelledAmount, it.ReturnedAmount, it.Status,
		it.ReturnReason, it.RejectReason, it.PendingReturnQuantity,
		it.ReturnRequestedAt, it.ReturnedAt)
	if err != nil {
		return fmt.Errorf("updating order item %q: %w", it.ID, err)
	}
	return nil
}

// SetOrderStatus transitions the order's lifecycle status.
func (s *OrderStore) SetOrderStatus(ctx context.Context, orderID string, status order.Status) error {
	_, err := s.tx.Exec(ctx, setOrderStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("setting order %q status to %s: %w", orderID, status, err)
	}
	return nil
}

func scanItem(row pgx.Row) (*order.OrderItem, error) {
	var it order.OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
		&it.OriginalQuantity, &it.UnitPrice, &it.CancelledQuantity,
		&it.ReturnedQuantity, &it.RemainingQuantity, &it.CancelledAmount,
		&it.ReturnedAmount, &it.Status, &it.ReturnReason, &it.RejectReason,
		&it.PendingReturnQuantity, &it.ReturnRequestedAt, &it.ReturnedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}
