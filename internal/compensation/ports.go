package compensation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-returns/internal/domain/coupon"
	"github.com/xenking/kart-returns/internal/domain/inventory"
	"github.com/xenking/kart-returns/internal/domain/loyalty"
	"github.com/xenking/kart-returns/internal/domain/order"
)

// Not-found sentinels surfaced by stores. The engine maps them to
// CodeNotFound without distinguishing "absent" from "not yours".
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrItemNotFound  = errors.New("order item not found")
)

// Store opens one atomic unit of work per compensating operation. Every lock
// taken inside fn is held until the transaction commits or rolls back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the transaction-bound stores.
type Tx interface {
	Orders() OrderStore
	Inventory() InventoryStore
	Loyalty() LoyaltyStore
	Coupons() CouponStore
	History() HistoryStore
}

// OrderStore provides locked access to order rows. Lock methods re-read the
// row after acquiring the lock; callers must never trust state fetched before
// the lock.
type OrderStore interface {
	// LockOrder acquires the exclusive row lock keyed by (orderID, userID).
	// An empty userID skips the ownership filter (administrator paths).
	LockOrder(ctx context.Context, orderID, userID string) (*order.Order, error)
	// LockItem acquires the exclusive row lock keyed by (itemID, orderID).
	LockItem(ctx context.Context, itemID, orderID string) (*order.OrderItem, error)
	ListItems(ctx context.Context, orderID string) ([]order.OrderItem, error)
	UpdateItem(ctx context.Context, item *order.OrderItem) error
	SetOrderStatus(ctx context.Context, orderID string, status order.Status) error
}

// InventoryStore is the atomic stock ledger.
type InventoryStore interface {
	// LockStock acquires the per-product lock and returns the current row.
	// Returns inventory.ErrNotFound for vanished products.
	LockStock(ctx context.Context, productID string) (*inventory.Stock, error)
	// RestoreStock adds qty back to stock and rolls the same qty off the
	// cumulative sold counter in a single conditional update. It returns the
	// resulting stock quantity.
	RestoreStock(ctx context.Context, productID string, qty int64) (int64, error)
}

// LoyaltyStore is the atomic point/spend ledger.
type LoyaltyStore interface {
	LockAccount(ctx context.Context, userID string) (*loyalty.Account, error)
	// AdjustPoints applies one signed delta, clamping the balance at zero,
	// and returns the resulting balance.
	AdjustPoints(ctx context.Context, userID string, delta int64) (int64, error)
	// AdjustSpend applies one signed delta to cumulative spend, floored at
	// zero, and returns the resulting spend.
	AdjustSpend(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	SetTier(ctx context.Context, userID string, tier loyalty.Tier) error
}

// CouponStore provides grant lookup by order reference and idempotent restore.
type CouponStore interface {
	// FindGrantByOrder returns coupon.ErrGrantNotFound when no grant is
	// attached to the order.
	FindGrantByOrder(ctx context.Context, orderID string) (*coupon.Grant, error)
	// RestoreGrant flips the grant back to unused and clears its order
	// reference. Restoring an already-unused grant is a no-op.
	RestoreGrant(ctx context.Context, grantID string) error
}

// HistoryStore appends audit rows. All writers are append-only; the single
// read sums the point ledger so a full cancellation can net out deltas that
// earlier partial compensations already applied.
type HistoryStore interface {
	AppendInventory(ctx context.Context, h inventory.History) error
	AppendPoints(ctx context.Context, e loyalty.PointEntry) error
	AppendReturnAudit(ctx context.Context, a ReturnAudit) error
	// SumPointsByOrder returns the signed sum of point deltas already
	// recorded against the order.
	SumPointsByOrder(ctx context.Context, orderID string) (int64, error)
}

// ReturnAction tags a return audit row.
type ReturnAction string

const (
	ReturnRequested ReturnAction = "REQUESTED"
	ReturnApproved  ReturnAction = "APPROVED"
	ReturnRejected  ReturnAction = "REJECTED"
)

// ReturnAudit records one action in the return lifecycle. Reject rows carry
// the reason shown to the shopper on the order-detail view.
type ReturnAudit struct {
	ID          string
	OrderID     string
	OrderItemID string
	Action      ReturnAction
	Reason      string
	CreatedAt   time.Time
}

// Invalidator receives the affected product IDs after commit so downstream
// read caches can be evicted. It is a staleness concern only; money and
// stock correctness never depend on it.
type Invalidator interface {
	InvalidateProducts(ctx context.Context, productIDs []string) error
}
