// Package compensation orchestrates the compensating transactions behind
// order cancellation and the return lifecycle: full cancellation, partial
// line-item cancellation, and return request/approve/reject.
//
// Every operation runs inside exactly one atomic unit of work with a fixed
// locking discipline: the order row lock first, then per-item locks, then
// per-product inventory locks in ascending product-ID order. Side effects are
// accumulated as a plan during validation and applied in a fixed order at the
// end: stock, points, spend and tier, coupon, aggregate state, audit rows.
// Affected product IDs are emitted for cache invalidation only after commit.
package compensation

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-returns/internal/domain/coupon"
	"github.com/xenking/kart-returns/internal/domain/inventory"
	"github.com/xenking/kart-returns/internal/domain/loyalty"
	"github.com/xenking/kart-returns/internal/domain/order"
)

// plan is the transaction-scoped list of compensation commands accumulated
// during validation. Keeping the state machine pure and the side effects in
// one list makes the application order independently testable.
type plan struct {
	orderID string

	restocks      []restock
	pointDelta    int64
	pointEntry    loyalty.EntryType
	spendDelta    decimal.Decimal
	restoreCoupon bool

	items       []*order.OrderItem
	orderStatus order.Status // empty = unchanged
	audits      []ReturnAudit
}

// Engine executes compensating transactions against a Store and notifies the
// cache boundary after commit.
type Engine struct {
	store       Store
	invalidator Invalidator
	lg          *zap.Logger
	now         func() time.Time
}

// NewEngine creates an Engine. The invalidator is called only after a
// successful commit.
func NewEngine(store Store, invalidator Invalidator, lg *zap.Logger) *Engine {
	return &Engine{
		store:       store,
		invalidator: invalidator,
		lg:          lg,
		now:         time.Now,
	}
}

// CancelOrder cancels every remaining unit of every item on the order,
// restores stock, nets out points, reduces cumulative spend, re-resolves the
// tier, restores the coupon grant, and marks the order CANCELLED.
//
// Point and spend deltas are scoped to the units not compensated before: the
// spend reduction excludes amounts earlier partial cancellations already took
// off, and the point delta is the order's exact net minus the deltas the
// point ledger already records for it. Each unit is compensated once no
// matter how the cancellation was split up.
//
// Fails with CodeNotFound when (orderID, userID) matches nothing and with
// CodeCancelFail when the order is past the cancellable stage. The failure
// path produces zero ledger side effects.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) error {
	var affected []string
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, userID)
		if err != nil {
			return mapNotFound(err)
		}
		if !o.IsCancellable() {
			return businessErrf(CodeCancelFail, "order %s is %s", orderID, o.Status)
		}

		items, err := tx.Orders().ListItems(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "list items")
		}

		p := plan{
			orderID:       orderID,
			pointEntry:    loyalty.EntryCancelRefund,
			restoreCoupon: true,
			orderStatus:   order.StatusCancelled,
		}
		compensated := decimal.Zero
		for idx := range items {
			it := &items[idx]
			compensated = compensated.Add(it.CancelledAmount).Add(it.ReturnedAmount)
			if it.RemainingQuantity == 0 {
				continue
			}
			qty := it.RemainingQuantity
			if _, err := it.Cancel(qty); err != nil {
				return businessErr(CodeCancelFail, err)
			}
			p.restocks = append(p.restocks, restock{ProductID: it.ProductID, Quantity: qty})
			p.items = append(p.items, it)
		}

		applied, err := tx.History().SumPointsByOrder(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "sum point history")
		}
		p.pointDelta = o.NetPointDelta() - applied
		p.spendDelta = o.FinalAmount.Sub(compensated).Neg()

		affected, err = e.apply(ctx, tx, o, &p)
		return err
	})
	if err != nil {
		return err
	}
	e.invalidate(ctx, affected)
	return nil
}

// PartialCancel cancels qty units of a single line item. Stock, point, and
// spend compensation are scoped to the cancelled quantity's proportional
// amount. The order flips to CANCELLED only when every item reaches zero
// remaining quantity, and only then is the coupon grant restored.
func (e *Engine) PartialCancel(ctx context.Context, orderID, userID, itemID string, qty int64) error {
	if qty <= 0 {
		// Rejected before any lock is taken.
		return businessErrf(CodeInvalidQuantity, "quantity %d must be positive", qty)
	}

	var affected []string
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, userID)
		if err != nil {
			return mapNotFound(err)
		}
		if !o.IsCancellable() {
			return businessErrf(CodeCancelFail, "order %s is %s", orderID, o.Status)
		}

		it, err := tx.Orders().LockItem(ctx, itemID, orderID)
		if err != nil {
			return mapNotFound(err)
		}
		amount, err := it.Cancel(qty)
		if err != nil {
			return businessErr(CodeInvalidQuantity, err)
		}

		p := plan{
			orderID:    orderID,
			pointEntry: loyalty.EntryCancelRefund,
			pointDelta: proportionalNet(o, amount),
			spendDelta: amount.Neg(),
			restocks:   []restock{{ProductID: it.ProductID, Quantity: qty}},
			items:      []*order.OrderItem{it},
		}
		done, err := fullyCompensatedWith(ctx, tx, orderID, it)
		if err != nil {
			return err
		}
		if done {
			p.orderStatus = order.StatusCancelled
			p.restoreCoupon = true
		}

		affected, err = e.apply(ctx, tx, o, &p)
		return err
	})
	if err != nil {
		return err
	}
	e.invalidate(ctx, affected)
	return nil
}

// RequestReturn places qty units of a delivered item under a return request.
// Pure state transition: no ledger is touched until approval.
func (e *Engine) RequestReturn(ctx context.Context, orderID, userID, itemID string, qty int64, reasonCode string) error {
	reason, err := order.ParseReturnReason(reasonCode)
	if err != nil {
		return businessErr(CodeInvalidState, err)
	}
	if qty <= 0 {
		return businessErrf(CodeInvalidState, "quantity %d must be positive", qty)
	}

	return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, userID)
		if err != nil {
			return mapNotFound(err)
		}
		if !o.IsDelivered() {
			return businessErrf(CodeInvalidState, "order %s is %s, returns need DELIVERED", orderID, o.Status)
		}

		it, err := tx.Orders().LockItem(ctx, itemID, orderID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := it.RequestReturn(qty, reason, e.now()); err != nil {
			return businessErr(CodeInvalidState, err)
		}

		p := plan{
			orderID: orderID,
			items:   []*order.OrderItem{it},
			audits: []ReturnAudit{{
				OrderID:     orderID,
				OrderItemID: itemID,
				Action:      ReturnRequested,
				Reason:      string(reason),
			}},
		}
		_, err = e.apply(ctx, tx, o, &p)
		return err
	})
}

// ApproveReturn resolves a pending return request (administrator-only) and
// performs the same stock/point/spend/tier compensation as cancellation,
// keyed to the returned quantity. The order keeps its DELIVERED status; the
// coupon grant is restored only when the whole order ends up compensated.
func (e *Engine) ApproveReturn(ctx context.Context, orderID, itemID string) error {
	var affected []string
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, "")
		if err != nil {
			return mapNotFound(err)
		}
		it, err := tx.Orders().LockItem(ctx, itemID, orderID)
		if err != nil {
			return mapNotFound(err)
		}

		reason := ""
		if it.ReturnReason != nil {
			reason = string(*it.ReturnReason)
		}
		qty, amount, err := it.ApproveReturn(e.now())
		if err != nil {
			return businessErr(CodeInvalidState, err)
		}

		p := plan{
			orderID:    orderID,
			pointEntry: loyalty.EntryReturnRefund,
			pointDelta: proportionalNet(o, amount),
			spendDelta: amount.Neg(),
			restocks:   []restock{{ProductID: it.ProductID, Quantity: qty}},
			items:      []*order.OrderItem{it},
			audits: []ReturnAudit{{
				OrderID:     orderID,
				OrderItemID: itemID,
				Action:      ReturnApproved,
				Reason:      reason,
			}},
		}
		done, err := fullyCompensatedWith(ctx, tx, orderID, it)
		if err != nil {
			return err
		}
		if done {
			p.restoreCoupon = true
		}

		affected, err = e.apply(ctx, tx, o, &p)
		return err
	})
	if err != nil {
		return err
	}
	e.invalidate(ctx, affected)
	return nil
}

// RejectReturn resolves a pending return request without moving quantity
// (administrator-only). The item reverts to NORMAL with the reject reason
// retained; an audit row records the decision. No ledger is touched.
func (e *Engine) RejectReturn(ctx context.Context, orderID, itemID, reasonText string) error {
	if strings.TrimSpace(reasonText) == "" {
		return businessErrf(CodeInvalidState, "reject reason must not be blank")
	}

	return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockOrder(ctx, orderID, "")
		if err != nil {
			return mapNotFound(err)
		}
		it, err := tx.Orders().LockItem(ctx, itemID, orderID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := it.RejectReturn(reasonText); err != nil {
			return businessErr(CodeInvalidState, err)
		}

		p := plan{
			orderID: orderID,
			items:   []*order.OrderItem{it},
			audits: []ReturnAudit{{
				OrderID:     orderID,
				OrderItemID: itemID,
				Action:      ReturnRejected,
				Reason:      reasonText,
			}},
		}
		_, err = e.apply(ctx, tx, o, &p)
		return err
	})
}

// apply executes the accumulated plan in fixed order: stock restoration
// (locks in canonical product order), point netting, spend and tier, coupon
// restore, aggregate state, audit rows. It returns the product IDs whose
// stock actually changed.
//
// Stock restoration is best-effort per product: a vanished product is logged
// and skipped, never silently, and never aborts the rest. Every other step is
// mandatory and rolls back the whole transaction on failure.
func (e *Engine) apply(ctx context.Context, tx Tx, o *order.Order, p *plan) ([]string, error) {
	now := e.now()

	var affected []string
	sortRestocks(p.restocks)
	for _, rs := range p.restocks {
		if _, err := tx.Inventory().LockStock(ctx, rs.ProductID); err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				e.lg.Warn("product vanished, stock restore skipped",
					zap.String("product_id", rs.ProductID),
					zap.String("order_id", p.orderID))
				continue
			}
			return nil, errors.Wrapf(err, "lock stock %s", rs.ProductID)
		}
		resulting, err := tx.Inventory().RestoreStock(ctx, rs.ProductID, rs.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "restore stock %s", rs.ProductID)
		}
		err = tx.History().AppendInventory(ctx, inventory.History{
			ID:                uuid.New().String(),
			ProductID:         rs.ProductID,
			Change:            inventory.ChangeReturn,
			Quantity:          rs.Quantity,
			ResultingQuantity: resulting,
			OrderID:           p.orderID,
			CreatedAt:         now,
		})
		if err != nil {
			return nil, errors.Wrap(err, "append inventory history")
		}
		affected = append(affected, rs.ProductID)
	}

	if p.pointDelta != 0 || !p.spendDelta.IsZero() {
		acct, err := tx.Loyalty().LockAccount(ctx, o.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "lock loyalty account")
		}
		if p.pointDelta != 0 {
			balance, err := tx.Loyalty().AdjustPoints(ctx, o.UserID, p.pointDelta)
			if err != nil {
				return nil, errors.Wrap(err, "adjust points")
			}
			err = tx.History().AppendPoints(ctx, loyalty.PointEntry{
				ID:           uuid.New().String(),
				UserID:       o.UserID,
				Type:         p.pointEntry,
				Amount:       p.pointDelta,
				BalanceAfter: balance,
				OrderID:      p.orderID,
				CreatedAt:    now,
			})
			if err != nil {
				return nil, errors.Wrap(err, "append point history")
			}
		}
		if !p.spendDelta.IsZero() {
			spend, err := tx.Loyalty().AdjustSpend(ctx, o.UserID, p.spendDelta)
			if err != nil {
				return nil, errors.Wrap(err, "adjust spend")
			}
			if tier := loyalty.ResolveTier(spend); tier != acct.Tier {
				if err := tx.Loyalty().SetTier(ctx, o.UserID, tier); err != nil {
					return nil, errors.Wrap(err, "set tier")
				}
			}
		}
	}

	if p.restoreCoupon {
		g, err := tx.Coupons().FindGrantByOrder(ctx, p.orderID)
		switch {
		case errors.Is(err, coupon.ErrGrantNotFound):
			// No coupon attached to this order.
		case err != nil:
			return nil, errors.Wrap(err, "find coupon grant")
		default:
			if err := tx.Coupons().RestoreGrant(ctx, g.ID); err != nil {
				return nil, errors.Wrap(err, "restore coupon grant")
			}
		}
	}

	for _, it := range p.items {
		if err := tx.Orders().UpdateItem(ctx, it); err != nil {
			return nil, errors.Wrapf(err, "update item %s", it.ID)
		}
	}
	if p.orderStatus != "" {
		if err := tx.Orders().SetOrderStatus(ctx, p.orderID, p.orderStatus); err != nil {
			return nil, errors.Wrap(err, "set order status")
		}
	}

	for _, a := range p.audits {
		a.ID = uuid.New().String()
		a.CreatedAt = now
		if err := tx.History().AppendReturnAudit(ctx, a); err != nil {
			return nil, errors.Wrap(err, "append return audit")
		}
	}

	return affected, nil
}

// invalidate notifies the cache boundary after commit. Invalidation failures
// affect staleness only, so they are logged and swallowed.
func (e *Engine) invalidate(ctx context.Context, productIDs []string) {
	if len(productIDs) == 0 {
		return
	}
	if err := e.invalidator.InvalidateProducts(ctx, productIDs); err != nil {
		e.lg.Warn("cache invalidation failed",
			zap.Strings("product_ids", productIDs),
			zap.Error(err))
	}
}

// proportionalNet computes the signed point delta for compensating amount out
// of the order's final amount: the proportional share of used points refunded
// minus the proportional share of earned points clawed back. Shares truncate
// toward zero; a full cancellation uses the exact snapshot values instead.
func proportionalNet(o *order.Order, amount decimal.Decimal) int64 {
	used := loyalty.ProportionalShare(o.UsedPoints, amount, o.FinalAmount)
	earned := loyalty.ProportionalShare(o.EarnedPoints, amount, o.FinalAmount)
	return used - earned
}

// fullyCompensatedWith reports whether the order has zero remaining quantity
// once the in-memory mutation of it is taken into account. The list read is
// non-locking; it runs under the order lock held by the caller.
func fullyCompensatedWith(ctx context.Context, tx Tx, orderID string, it *order.OrderItem) (bool, error) {
	items, err := tx.Orders().ListItems(ctx, orderID)
	if err != nil {
		return false, errors.Wrap(err, "list items")
	}
	for idx := range items {
		if items[idx].ID == it.ID {
			items[idx] = *it
		}
	}
	return order.FullyCompensated(items), nil
}

// mapNotFound converts store not-found sentinels into the caller-facing
// CodeNotFound; anything else passes through as an infrastructure error.
func mapNotFound(err error) error {
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrItemNotFound) {
		return businessErr(CodeNotFound, err)
	}
	return err
}
