package compensation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-returns/internal/domain/coupon"
	"github.com/xenking/kart-returns/internal/domain/inventory"
	"github.com/xenking/kart-returns/internal/domain/loyalty"
	"github.com/xenking/kart-returns/internal/domain/order"
)

// fakeState is the in-memory world a fakeStore transacts against.
type fakeState struct {
	orders   map[string]*order.Order
	items    map[string]*order.OrderItem
	stocks   map[string]*inventory.Stock
	accounts map[string]*loyalty.Account
	grants   map[string]*coupon.Grant

	invHistory   []inventory.History
	pointHistory []loyalty.PointEntry
	audits       []ReturnAudit
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		orders:   make(map[string]*order.Order, len(s.orders)),
		items:    make(map[string]*order.OrderItem, len(s.items)),
		stocks:   make(map[string]*inventory.Stock, len(s.stocks)),
		accounts: make(map[string]*loyalty.Account, len(s.accounts)),
		grants:   make(map[string]*coupon.Grant, len(s.grants)),
	}
	for k, v := range s.orders {
		o := *v
		c.orders[k] = &o
	}
	for k, v := range s.items {
		it := *v
		c.items[k] = &it
	}
	for k, v := range s.stocks {
		st := *v
		c.stocks[k] = &st
	}
	for k, v := range s.accounts {
		a := *v
		c.accounts[k] = &a
	}
	for k, v := range s.grants {
		g := *v
		c.grants[k] = &g
	}
	c.invHistory = append([]inventory.History(nil), s.invHistory...)
	c.pointHistory = append([]loyalty.PointEntry(nil), s.pointHistory...)
	c.audits = append([]ReturnAudit(nil), s.audits...)
	return c
}

// fakeStore snapshots state before each unit of work and restores it on
// error, mirroring transaction rollback. Error fields inject failures into
// individual steps.
type fakeStore struct {
	st *fakeState

	inTxCalls int
	commits   int

	updateItemErr   error
	restoreStockErr error
}

var _ Store = (*fakeStore)(nil)

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.inTxCalls++
	snapshot := s.st.clone()
	if err := fn(ctx, &fakeTx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	s.commits++
	return nil
}

type fakeTx struct {
	s *fakeStore
}

var _ Tx = (*fakeTx)(nil)

func (t *fakeTx) Orders() OrderStore        { return t }
func (t *fakeTx) Inventory() InventoryStore { return t }
func (t *fakeTx) Loyalty() LoyaltyStore     { return t }
func (t *fakeTx) Coupons() CouponStore      { return t }
func (t *fakeTx) History() HistoryStore     { return t }

func (t *fakeTx) LockOrder(_ context.Context, orderID, userID string) (*order.Order, error) {
	o, ok := t.s.st.orders[orderID]
	if !ok || (userID != "" && o.UserID != userID) {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) LockItem(_ context.Context, itemID, orderID string) (*order.OrderItem, error) {
	it, ok := t.s.st.items[itemID]
	if !ok || it.OrderID != orderID {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (t *fakeTx) ListItems(_ context.Context, orderID string) ([]order.OrderItem, error) {
	var out []order.OrderItem
	for _, it := range t.s.st.items {
		if it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (t *fakeTx) UpdateItem(_ context.Context, item *order.OrderItem) error {
	if t.s.updateItemErr != nil {
		return t.s.updateItemErr
	}
	if _, ok := t.s.st.items[item.ID]; !ok {
		return ErrItemNotFound
	}
	cp := *item
	t.s.st.items[item.ID] = &cp
	return nil
}

func (t *fakeTx) SetOrderStatus(_ context.Context, orderID string, status order.Status) error {
	o, ok := t.s.st.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (t *fakeTx) LockStock(_ context.Context, productID string) (*inventory.Stock, error) {
	st, ok := t.s.st.stocks[productID]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (t *fakeTx) RestoreStock(_ context.Context, productID string, qty int64) (int64, error) {
	if t.s.restoreStockErr != nil {
		return 0, t.s.restoreStockErr
	}
	st, ok := t.s.st.stocks[productID]
	if !ok {
		return 0, inventory.ErrNotFound
	}
	st.Quantity += qty
	st.SoldCount -= qty
	if st.SoldCount < 0 {
		st.SoldCount = 0
	}
	return st.Quantity, nil
}

func (t *fakeTx) LockAccount(_ context.Context, userID string) (*loyalty.Account, error) {
	a, ok := t.s.st.accounts[userID]
	if !ok {
		return nil, loyalty.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *fakeTx) AdjustPoints(_ context.Context, userID string, delta int64) (int64, error) {
	a, ok := t.s.st.accounts[userID]
	if !ok {
		return 0, loyalty.ErrNotFound
	}
	a.PointBalance += delta
	if a.PointBalance < 0 {
		a.PointBalance = 0
	}
	return a.PointBalance, nil
}

func (t *fakeTx) AdjustSpend(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	a, ok := t.s.st.accounts[userID]
	if !ok {
		return decimal.Zero, loyalty.ErrNotFound
	}
	a.CumulativeSpend = a.CumulativeSpend.Add(delta)
	if a.CumulativeSpend.IsNegative() {
		a.CumulativeSpend = decimal.Zero
	}
	return a.CumulativeSpend, nil
}

func (t *fakeTx) SetTier(_ context.Context, userID string, tier loyalty.Tier) error {
	a, ok := t.s.st.accounts[userID]
	if !ok {
		return loyalty.ErrNotFound
	}
	a.Tier = tier
	return nil
}

func (t *fakeTx) FindGrantByOrder(_ context.Context, orderID string) (*coupon.Grant, error) {
	for _, g := range t.s.st.grants {
		if g.OrderID != nil && *g.OrderID == orderID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, coupon.ErrGrantNotFound
}

func (t *fakeTx) RestoreGrant(_ context.Context, grantID string) error {
	g, ok := t.s.st.grants[grantID]
	if !ok {
		return coupon.ErrGrantNotFound
	}
	g.Restore()
	return nil
}

func (t *fakeTx) AppendInventory(_ context.Context, h inventory.History) error {
	t.s.st.invHistory = append(t.s.st.invHistory, h)
	return nil
}

func (t *fakeTx) AppendPoints(_ context.Context, e loyalty.PointEntry) error {
	t.s.st.pointHistory = append(t.s.st.pointHistory, e)
	return nil
}

func (t *fakeTx) AppendReturnAudit(_ context.Context, a ReturnAudit) error {
	t.s.st.audits = append(t.s.st.audits, a)
	return nil
}

func (t *fakeTx) SumPointsByOrder(_ context.Context, orderID string) (int64, error) {
	var sum int64
	for _, e := range t.s.st.pointHistory {
		if e.OrderID == orderID {
			sum += e.Amount
		}
	}
	return sum, nil
}

type recInvalidator struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recInvalidator) InvalidateProducts(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
	return r.err
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newFixture builds the standard scenario: one cancellable order with two
// lines and a used coupon, one delivered order ready for returns.
func newFixture() *fakeStore {
	grantOrder := "order-1"
	usedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &fakeStore{st: &fakeState{
		orders: map[string]*order.Order{
			"order-1": {
				ID: "order-1", UserID: "user-1", Number: "20260301-0001",
				Status:      order.StatusPaid,
				FinalAmount: money("7000.00"), UsedPoints: 300, EarnedPoints: 80,
			},
			"order-2": {
				ID: "order-2", UserID: "user-1", Number: "20260302-0002",
				Status:      order.StatusDelivered,
				FinalAmount: money("3000.00"), UsedPoints: 0, EarnedPoints: 30,
			},
		},
		items: map[string]*order.OrderItem{
			"item-a": {
				ID: "item-a", OrderID: "order-1", ProductID: "prod-a", ProductName: "Widget",
				OriginalQuantity: 3, RemainingQuantity: 3, UnitPrice: money("1000.00"),
				CancelledAmount: decimal.Zero, ReturnedAmount: decimal.Zero, Status: order.ItemNormal,
			},
			"item-b": {
				ID: "item-b", OrderID: "order-1", ProductID: "prod-b", ProductName: "Gadget",
				OriginalQuantity: 2, RemainingQuantity: 2, UnitPrice: money("2000.00"),
				CancelledAmount: decimal.Zero, ReturnedAmount: decimal.Zero, Status: order.ItemNormal,
			},
			"item-c": {
				ID: "item-c", OrderID: "order-2", ProductID: "prod-c", ProductName: "Sprocket",
				OriginalQuantity: 3, RemainingQuantity: 3, UnitPrice: money("1000.00"),
				CancelledAmount: decimal.Zero, ReturnedAmount: decimal.Zero, Status: order.ItemNormal,
			},
		},
		stocks: map[string]*inventory.Stock{
			"prod-a": {ProductID: "prod-a", Quantity: 10, SoldCount: 40},
			"prod-b": {ProductID: "prod-b", Quantity: 5, SoldCount: 20},
			"prod-c": {ProductID: "prod-c", Quantity: 8, SoldCount: 12},
		},
		accounts: map[string]*loyalty.Account{
			"user-1": {UserID: "user-1", PointBalance: 1000, CumulativeSpend: money("50000.00"), Tier: loyalty.TierBronze},
		},
		grants: map[string]*coupon.Grant{
			"grant-1": {ID: "grant-1", UserID: "user-1", Code: "HAPPYHRS", Used: true, OrderID: &grantOrder, UsedAt: &usedAt},
		},
	}}
}

func newTestEngine(s *fakeStore, inv Invalidator) *Engine {
	e := NewEngine(s, inv, zap.NewNop())
	e.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestCancelOrder_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))

	assert.Equal(t, order.StatusCancelled, s.st.orders["order-1"].Status)
	for _, id := range []string{"item-a", "item-b"} {
		it := s.st.items[id]
		assert.Equal(t, order.ItemCancelled, it.Status, id)
		assert.Equal(t, int64(0), it.RemainingQuantity, id)
		require.NoError(t, it.CheckInvariants())
	}

	assert.Equal(t, int64(13), s.st.stocks["prod-a"].Quantity)
	assert.Equal(t, int64(37), s.st.stocks["prod-a"].SoldCount)
	assert.Equal(t, int64(7), s.st.stocks["prod-b"].Quantity)

	acct := s.st.accounts["user-1"]
	assert.Equal(t, int64(1220), acct.PointBalance, "refund 300 used, claw back 80 earned")
	assert.True(t, money("43000.00").Equal(acct.CumulativeSpend))
	assert.Equal(t, loyalty.TierBronze, acct.Tier)

	assert.False(t, s.st.grants["grant-1"].Used)
	assert.Nil(t, s.st.grants["grant-1"].OrderID)

	require.Len(t, s.st.pointHistory, 1)
	entry := s.st.pointHistory[0]
	assert.Equal(t, loyalty.EntryCancelRefund, entry.Type)
	assert.Equal(t, int64(220), entry.Amount)
	assert.Equal(t, int64(1220), entry.BalanceAfter)
	assert.Equal(t, "order-1", entry.OrderID)

	require.Len(t, s.st.invHistory, 2)
	for _, h := range s.st.invHistory {
		assert.Equal(t, inventory.ChangeReturn, h.Change)
		assert.Equal(t, "order-1", h.OrderID)
	}

	require.Len(t, inv.calls, 1)
	assert.Equal(t, []string{"prod-a", "prod-b"}, inv.calls[0])
}

func TestCancelOrder_AfterPartialCancelCompensatesOnce(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	// 1000 of 7000 already compensated: +31 points, -1000 spend.
	require.NoError(t, e.PartialCancel(ctx, "order-1", "user-1", "item-a", 1))
	require.Equal(t, int64(1031), s.st.accounts["user-1"].PointBalance)

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))

	// The full cancellation covers only the units the partial one did not.
	acct := s.st.accounts["user-1"]
	assert.Equal(t, int64(1220), acct.PointBalance, "net 220 across both operations")
	assert.True(t, money("43000.00").Equal(acct.CumulativeSpend), "spend reduced by 7000 total, got %s", acct.CumulativeSpend)

	assert.Equal(t, int64(13), s.st.stocks["prod-a"].Quantity)
	assert.Equal(t, int64(7), s.st.stocks["prod-b"].Quantity)

	require.Len(t, s.st.pointHistory, 2)
	assert.Equal(t, int64(31), s.st.pointHistory[0].Amount)
	assert.Equal(t, int64(189), s.st.pointHistory[1].Amount)
	assert.Equal(t, int64(1220), s.st.pointHistory[1].BalanceAfter)

	assert.Equal(t, order.StatusCancelled, s.st.orders["order-1"].Status)
	assert.False(t, s.st.grants["grant-1"].Used)
}

func TestCancelOrder_SecondAttemptFails(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))
	snapshot := s.st.clone()

	err := e.CancelOrder(ctx, "order-1", "user-1")
	require.True(t, IsCode(err, CodeCancelFail), "got %v", err)

	// The failed retry leaves no trace: no extra restock, points, or history.
	assert.Equal(t, snapshot.stocks["prod-a"].Quantity, s.st.stocks["prod-a"].Quantity)
	assert.Equal(t, snapshot.accounts["user-1"].PointBalance, s.st.accounts["user-1"].PointBalance)
	assert.Len(t, s.st.pointHistory, len(snapshot.pointHistory))
	assert.Len(t, s.st.invHistory, len(snapshot.invHistory))
	assert.Len(t, inv.calls, 1)
}

func TestCancelOrder_NotFoundMasksOwnership(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newFixture(), &recInvalidator{})

	err := e.CancelOrder(ctx, "order-1", "user-2")
	require.True(t, IsCode(err, CodeNotFound), "someone else's order: got %v", err)

	err = e.CancelOrder(ctx, "order-missing", "user-1")
	require.True(t, IsCode(err, CodeNotFound), "absent order: got %v", err)
}

func TestCancelOrder_NonCancellableStatus(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	for _, st := range []order.Status{order.StatusShipped, order.StatusDelivered, order.StatusCancelled} {
		s.st.orders["order-1"].Status = st
		err := e.CancelOrder(ctx, "order-1", "user-1")
		require.True(t, IsCode(err, CodeCancelFail), "status %s: got %v", st, err)
	}
}

func TestCancelOrder_PointBalanceClampedAtZero(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	s.st.accounts["user-1"].PointBalance = 100
	s.st.orders["order-1"].UsedPoints = 300
	s.st.orders["order-1"].EarnedPoints = 500
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))

	// Net delta -200 against a balance of 100: clamped once, not stepwise.
	assert.Equal(t, int64(0), s.st.accounts["user-1"].PointBalance)
	require.Len(t, s.st.pointHistory, 1)
	assert.Equal(t, int64(-200), s.st.pointHistory[0].Amount)
	assert.Equal(t, int64(0), s.st.pointHistory[0].BalanceAfter)
}

func TestCancelOrder_TierReResolved(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	s.st.accounts["user-1"].CumulativeSpend = money("120000.00")
	s.st.accounts["user-1"].Tier = loyalty.TierSilver
	s.st.orders["order-1"].FinalAmount = money("30000.00")
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))

	acct := s.st.accounts["user-1"]
	assert.True(t, money("90000.00").Equal(acct.CumulativeSpend))
	assert.Equal(t, loyalty.TierBronze, acct.Tier, "demoted immediately, not by batch")
}

func TestCancelOrder_VanishedProductBestEffort(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	delete(s.st.stocks, "prod-b")
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))

	// prod-a restored, prod-b skipped, everything else still applied.
	assert.Equal(t, int64(13), s.st.stocks["prod-a"].Quantity)
	require.Len(t, s.st.invHistory, 1)
	assert.Equal(t, "prod-a", s.st.invHistory[0].ProductID)
	assert.Equal(t, order.StatusCancelled, s.st.orders["order-1"].Status)
	assert.Equal(t, int64(1220), s.st.accounts["user-1"].PointBalance)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, []string{"prod-a"}, inv.calls[0])
}

func TestCancelOrder_RollbackOnStepFailure(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	s.updateItemErr = errors.New("connection reset")
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	err := e.CancelOrder(ctx, "order-1", "user-1")
	require.Error(t, err)
	var be *BusinessError
	assert.False(t, errors.As(err, &be), "infrastructure failure is not a business error")

	// All-or-nothing: the earlier restock and point steps were rolled back.
	assert.Equal(t, order.StatusPaid, s.st.orders["order-1"].Status)
	assert.Equal(t, int64(10), s.st.stocks["prod-a"].Quantity)
	assert.Equal(t, int64(1000), s.st.accounts["user-1"].PointBalance)
	assert.True(t, s.st.grants["grant-1"].Used)
	assert.Empty(t, s.st.invHistory)
	assert.Empty(t, s.st.pointHistory)
	assert.Empty(t, inv.calls, "no invalidation without a commit")
}

func TestCancelOrder_CouponRestoreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	// Grant already flipped back, e.g. by a retried compensation.
	s.st.grants["grant-1"].Used = false
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"))
	assert.False(t, s.st.grants["grant-1"].Used)
}

func TestCancelOrder_InvalidationFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{err: errors.New("redis down")}
	e := newTestEngine(s, inv)

	require.NoError(t, e.CancelOrder(ctx, "order-1", "user-1"), "staleness is not a transaction failure")
	assert.Equal(t, order.StatusCancelled, s.st.orders["order-1"].Status)
}

func TestPartialCancel_QuantityRejectedBeforeLocking(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	for _, qty := range []int64{0, -3} {
		err := e.PartialCancel(ctx, "order-1", "user-1", "item-a", qty)
		require.True(t, IsCode(err, CodeInvalidQuantity), "qty %d: got %v", qty, err)
	}
	assert.Equal(t, 0, s.inTxCalls, "no transaction opened for a pre-lock rejection")
}

func TestPartialCancel_ExcessQuantity(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	err := e.PartialCancel(ctx, "order-1", "user-1", "item-a", 5)
	require.True(t, IsCode(err, CodeInvalidQuantity), "got %v", err)

	assert.Equal(t, int64(3), s.st.items["item-a"].RemainingQuantity)
	assert.Equal(t, int64(10), s.st.stocks["prod-a"].Quantity)
	assert.Empty(t, s.st.pointHistory)
}

func TestPartialCancel_ProportionalCompensation(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.PartialCancel(ctx, "order-1", "user-1", "item-a", 1))

	it := s.st.items["item-a"]
	assert.Equal(t, int64(2), it.RemainingQuantity)
	assert.Equal(t, order.ItemNormal, it.Status)
	require.NoError(t, it.CheckInvariants())

	assert.Equal(t, int64(11), s.st.stocks["prod-a"].Quantity)

	// 1000 of 7000: used share 300*1000/7000=42, earned share 80*1000/7000=11.
	acct := s.st.accounts["user-1"]
	assert.Equal(t, int64(1031), acct.PointBalance)
	assert.True(t, money("49000.00").Equal(acct.CumulativeSpend))
	require.Len(t, s.st.pointHistory, 1)
	assert.Equal(t, int64(31), s.st.pointHistory[0].Amount)

	// The order is still open, so neither status nor coupon moves.
	assert.Equal(t, order.StatusPaid, s.st.orders["order-1"].Status)
	assert.True(t, s.st.grants["grant-1"].Used)

	require.Len(t, inv.calls, 1)
	assert.Equal(t, []string{"prod-a"}, inv.calls[0])
}

func TestPartialCancel_LastUnitFlipsOrder(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.PartialCancel(ctx, "order-1", "user-1", "item-a", 3))
	assert.Equal(t, order.StatusPaid, s.st.orders["order-1"].Status, "item-b still has units")
	assert.True(t, s.st.grants["grant-1"].Used)

	require.NoError(t, e.PartialCancel(ctx, "order-1", "user-1", "item-b", 2))
	assert.Equal(t, order.StatusCancelled, s.st.orders["order-1"].Status)
	assert.Equal(t, order.ItemCancelled, s.st.items["item-b"].Status)
	assert.False(t, s.st.grants["grant-1"].Used, "coupon restored once the whole order is compensated")
}

func TestRequestReturn_PureTransition(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 2, "DEFECT"))

	it := s.st.items["item-c"]
	assert.Equal(t, order.ItemReturnRequested, it.Status)
	assert.Equal(t, int64(2), it.PendingReturnQuantity)
	assert.Equal(t, int64(3), it.RemainingQuantity)

	require.Len(t, s.st.audits, 1)
	assert.Equal(t, ReturnRequested, s.st.audits[0].Action)
	assert.Equal(t, "DEFECT", s.st.audits[0].Reason)
	assert.Equal(t, "item-c", s.st.audits[0].OrderItemID)

	// Nothing ledger-side happens until the request is approved.
	assert.Equal(t, int64(8), s.st.stocks["prod-c"].Quantity)
	assert.Equal(t, int64(1000), s.st.accounts["user-1"].PointBalance)
	assert.Empty(t, s.st.pointHistory)
	assert.Empty(t, inv.calls)
}

func TestRequestReturn_Guards(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	err := e.RequestReturn(ctx, "order-2", "user-1", "item-c", 1, "BROKEN")
	require.True(t, IsCode(err, CodeInvalidState), "unknown reason: got %v", err)
	err = e.RequestReturn(ctx, "order-2", "user-1", "item-c", 0, "DEFECT")
	require.True(t, IsCode(err, CodeInvalidState), "zero quantity: got %v", err)
	assert.Equal(t, 0, s.inTxCalls)

	err = e.RequestReturn(ctx, "order-1", "user-1", "item-a", 1, "DEFECT")
	require.True(t, IsCode(err, CodeInvalidState), "order not delivered: got %v", err)

	err = e.RequestReturn(ctx, "order-2", "user-1", "item-c", 4, "DEFECT")
	require.True(t, IsCode(err, CodeInvalidState), "quantity over remaining: got %v", err)

	err = e.RequestReturn(ctx, "order-2", "user-2", "item-c", 1, "DEFECT")
	require.True(t, IsCode(err, CodeNotFound), "foreign order: got %v", err)

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 1, "DEFECT"))
	err = e.RequestReturn(ctx, "order-2", "user-1", "item-c", 1, "DEFECT")
	require.True(t, IsCode(err, CodeInvalidState), "request on top of a pending request: got %v", err)
}

func TestApproveReturn_Compensates(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 3, "WRONG_ITEM"))
	require.NoError(t, e.ApproveReturn(ctx, "order-2", "item-c"))

	it := s.st.items["item-c"]
	assert.Equal(t, order.ItemReturned, it.Status)
	assert.Equal(t, int64(3), it.ReturnedQuantity)
	assert.Equal(t, int64(0), it.RemainingQuantity)
	require.NoError(t, it.CheckInvariants())

	assert.Equal(t, int64(11), s.st.stocks["prod-c"].Quantity)

	// Full final amount: refund 0 used, claw back all 30 earned.
	acct := s.st.accounts["user-1"]
	assert.Equal(t, int64(970), acct.PointBalance)
	assert.True(t, money("47000.00").Equal(acct.CumulativeSpend))
	require.Len(t, s.st.pointHistory, 1)
	assert.Equal(t, loyalty.EntryReturnRefund, s.st.pointHistory[0].Type)
	assert.Equal(t, int64(-30), s.st.pointHistory[0].Amount)

	// The approval never rewrites order history.
	assert.Equal(t, order.StatusDelivered, s.st.orders["order-2"].Status)

	require.Len(t, s.st.audits, 2)
	assert.Equal(t, ReturnApproved, s.st.audits[1].Action)
	assert.Equal(t, "WRONG_ITEM", s.st.audits[1].Reason)

	require.Len(t, inv.calls, 1)
	assert.Equal(t, []string{"prod-c"}, inv.calls[0])
}

func TestApproveReturn_PartialLeavesItemOpen(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 1, "SIZE_ISSUE"))
	require.NoError(t, e.ApproveReturn(ctx, "order-2", "item-c"))

	it := s.st.items["item-c"]
	assert.Equal(t, order.ItemNormal, it.Status, "remaining units stay actionable")
	assert.Equal(t, int64(2), it.RemainingQuantity)
	assert.Equal(t, int64(1), it.ReturnedQuantity)
	assert.Equal(t, int64(9), s.st.stocks["prod-c"].Quantity)
}

func TestApproveReturn_WithoutRequest(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	err := e.ApproveReturn(ctx, "order-2", "item-c")
	require.True(t, IsCode(err, CodeInvalidState), "got %v", err)
	assert.Equal(t, int64(8), s.st.stocks["prod-c"].Quantity)
	assert.Empty(t, s.st.audits)
}

func TestRejectReturn(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	inv := &recInvalidator{}
	e := newTestEngine(s, inv)

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 2, "CHANGE_OF_MIND"))
	require.NoError(t, e.RejectReturn(ctx, "order-2", "item-c", "outside return window"))

	it := s.st.items["item-c"]
	assert.Equal(t, order.ItemNormal, it.Status)
	assert.Equal(t, int64(0), it.PendingReturnQuantity)
	assert.Equal(t, int64(3), it.RemainingQuantity)
	require.NotNil(t, it.RejectReason)
	assert.Equal(t, "outside return window", *it.RejectReason)

	require.Len(t, s.st.audits, 2)
	assert.Equal(t, ReturnRejected, s.st.audits[1].Action)
	assert.Equal(t, "outside return window", s.st.audits[1].Reason)

	// Rejection moves no money, stock, or points.
	assert.Equal(t, int64(8), s.st.stocks["prod-c"].Quantity)
	assert.Equal(t, int64(1000), s.st.accounts["user-1"].PointBalance)
	assert.Empty(t, s.st.pointHistory)
	assert.Empty(t, inv.calls)
}

func TestRejectReturn_BlankReason(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	err := e.RejectReturn(ctx, "order-2", "item-c", "   ")
	require.True(t, IsCode(err, CodeInvalidState), "got %v", err)
	assert.Equal(t, 0, s.inTxCalls)
}

func TestRejectReturn_ThenReRequest(t *testing.T) {
	ctx := context.Background()
	s := newFixture()
	e := newTestEngine(s, &recInvalidator{})

	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 2, "OTHER"))
	require.NoError(t, e.RejectReturn(ctx, "order-2", "item-c", "insufficient photos"))
	require.NoError(t, e.RequestReturn(ctx, "order-2", "user-1", "item-c", 2, "DEFECT"))

	it := s.st.items["item-c"]
	assert.Equal(t, order.ItemReturnRequested, it.Status)
	assert.Equal(t, int64(2), it.PendingReturnQuantity)
}
