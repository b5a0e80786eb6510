// Package order holds the Order/OrderItem aggregate and its state machine.
// All transition methods are pure: they validate guards and mutate in-memory
// state only. Ledger side effects are orchestrated elsewhere.
package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle status. StatusCancelled is terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// ItemStatus is the per-line-item status.
type ItemStatus string

const (
	ItemNormal          ItemStatus = "NORMAL"
	ItemReturnRequested ItemStatus = "RETURN_REQUESTED"
	ItemReturned        ItemStatus = "RETURNED"
	ItemCancelled       ItemStatus = "CANCELLED"
)

// ReturnReason is the fixed enumeration of reasons a shopper may give
// when requesting a return.
type ReturnReason string

const (
	ReasonDefect       ReturnReason = "DEFECT"
	ReasonWrongItem    ReturnReason = "WRONG_ITEM"
	ReasonChangeOfMind ReturnReason = "CHANGE_OF_MIND"
	ReasonSizeIssue    ReturnReason = "SIZE_ISSUE"
	ReasonOther        ReturnReason = "OTHER"
)

// Sentinel errors for transition guards.
var (
	ErrInvalidQuantity   = errors.New("quantity out of range")
	ErrInvalidTransition = errors.New("invalid item state transition")
	ErrInvalidReason     = errors.New("invalid return reason")
	ErrBlankRejectReason = errors.New("reject reason must not be blank")
)

// ParseReturnReason validates a reason code against the fixed enumeration.
func ParseReturnReason(s string) (ReturnReason, error) {
	switch r := ReturnReason(s); r {
	case ReasonDefect, ReasonWrongItem, ReasonChangeOfMind, ReasonSizeIssue, ReasonOther:
		return r, nil
	}
	return "", errors.Wrapf(ErrInvalidReason, "reason %q", s)
}

// Order is the aggregate root. EarnedPoints is a checkout-time snapshot and
// never recomputed from the live catalog.
type Order struct {
	ID           string
	UserID       string
	Number       string
	Status       Status
	FinalAmount  decimal.Decimal
	UsedPoints   int64
	EarnedPoints int64
	ShippingFee  decimal.Decimal
	OrderedAt    time.Time
	DeliveredAt  *time.Time
}

// IsCancellable reports whether the order may still be cancelled, i.e. it has
// not shipped and is not already cancelled.
func (o *Order) IsCancellable() bool {
	return o.Status == StatusPending || o.Status == StatusPaid
}

// IsDelivered reports whether return requests are allowed on this order.
func (o *Order) IsDelivered() bool {
	return o.Status == StatusDelivered
}

// NetPointDelta is the single signed adjustment that reverses this order's
// point effects: refund what was spent, claw back what was earned. Applying
// it as one adjustment avoids the zero-floor clamp firing on an intermediate
// step.
func (o *Order) NetPointDelta() int64 {
	return o.UsedPoints - o.EarnedPoints
}

// OrderItem is one purchased line. ProductName is a snapshot, decoupled from
// the live catalog. Quantity fields always satisfy
// OriginalQuantity == RemainingQuantity + CancelledQuantity + ReturnedQuantity.
type OrderItem struct {
	ID                    string
	OrderID               string
	ProductID             string
	ProductName           string
	OriginalQuantity      int64
	UnitPrice             decimal.Decimal
	CancelledQuantity     int64
	ReturnedQuantity      int64
	RemainingQuantity     int64
	CancelledAmount       decimal.Decimal
	ReturnedAmount        decimal.Decimal
	Status                ItemStatus
	ReturnReason          *ReturnReason
	RejectReason          *string
	PendingReturnQuantity int64
	ReturnRequestedAt     *time.Time
	ReturnedAt            *time.Time
}

// Subtotal is the line's original value: unit price times original quantity.
func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.OriginalQuantity)).Round(2)
}

// amountFor converts a compensated quantity into its unit-price-proportional
// amount, rounded the same way order totals are rounded at checkout.
func (i *OrderItem) amountFor(qty int64) decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(qty)).Round(2)
}

// Cancel moves qty units from remaining to cancelled and returns the
// cancelled amount. Units under a pending return request cannot be cancelled.
// The item flips to CANCELLED only when nothing remains.
func (i *OrderItem) Cancel(qty int64) (decimal.Decimal, error) {
	if qty <= 0 || qty > i.RemainingQuantity-i.PendingReturnQuantity {
		return decimal.Zero, errors.Wrapf(ErrInvalidQuantity,
			"cancel %d of %d remaining (%d pending return)",
			qty, i.RemainingQuantity, i.PendingReturnQuantity)
	}

	amount := i.amountFor(qty)
	i.RemainingQuantity -= qty
	i.CancelledQuantity += qty
	i.CancelledAmount = i.CancelledAmount.Add(amount)
	if i.RemainingQuantity == 0 && i.Status == ItemNormal {
		i.Status = ItemCancelled
	}
	return amount, nil
}

// RequestReturn places qty units of the item under an unresolved return
// request. The order-level DELIVERED guard is enforced by the caller.
func (i *OrderItem) RequestReturn(qty int64, reason ReturnReason, now time.Time) error {
	if i.Status != ItemNormal {
		return errors.Wrapf(ErrInvalidTransition, "return request from %s", i.Status)
	}
	if qty <= 0 || qty > i.RemainingQuantity {
		return errors.Wrapf(ErrInvalidQuantity, "return %d of %d remaining", qty, i.RemainingQuantity)
	}
	if _, err := ParseReturnReason(string(reason)); err != nil {
		return err
	}

	i.Status = ItemReturnRequested
	i.PendingReturnQuantity = qty
	i.ReturnReason = &reason
	i.ReturnRequestedAt = &now
	return nil
}

// ApproveReturn resolves a pending return request, moving the pending
// quantity into returned. It returns the quantity and amount to compensate.
// When units remain after the return, the item goes back to NORMAL so the
// rest can still be returned or cancelled.
func (i *OrderItem) ApproveReturn(now time.Time) (int64, decimal.Decimal, error) {
	if i.Status != ItemReturnRequested {
		return 0, decimal.Zero, errors.Wrapf(ErrInvalidTransition, "approve from %s", i.Status)
	}

	qty := i.PendingReturnQuantity
	amount := i.amountFor(qty)
	i.RemainingQuantity -= qty
	i.ReturnedQuantity += qty
	i.ReturnedAmount = i.ReturnedAmount.Add(amount)
	i.PendingReturnQuantity = 0
	i.ReturnedAt = &now
	if i.RemainingQuantity == 0 {
		i.Status = ItemReturned
	} else {
		i.Status = ItemNormal
	}
	return qty, amount, nil
}

// RejectReturn resolves a pending return request without moving quantity.
// The item reverts to NORMAL so the shopper can re-request; the reject
// reason is retained for display.
func (i *OrderItem) RejectReturn(reason string) error {
	if i.Status != ItemReturnRequested {
		return errors.Wrapf(ErrInvalidTransition, "reject from %s", i.Status)
	}
	if reason == "" {
		return ErrBlankRejectReason
	}

	i.Status = ItemNormal
	i.PendingReturnQuantity = 0
	i.RejectReason = &reason
	return nil
}

// CheckInvariants verifies the quantity conservation laws. It is used by
// tests and storage-layer assertions, never as a transition guard.
func (i *OrderItem) CheckInvariants() error {
	if i.OriginalQuantity != i.RemainingQuantity+i.CancelledQuantity+i.ReturnedQuantity {
		return errors.Errorf("item %s: quantity conservation violated: %d != %d+%d+%d",
			i.ID, i.OriginalQuantity, i.RemainingQuantity, i.CancelledQuantity, i.ReturnedQuantity)
	}
	if i.PendingReturnQuantity > i.RemainingQuantity {
		return errors.Errorf("item %s: pending return %d exceeds remaining %d",
			i.ID, i.PendingReturnQuantity, i.RemainingQuantity)
	}
	return nil
}

// FullyCompensated reports whether every physical unit across the given
// items has been cancelled or returned.
func FullyCompensated(items []OrderItem) bool {
	for i := range items {
		if items[i].RemainingQuantity > 0 {
			return false
		}
	}
	return true
}
