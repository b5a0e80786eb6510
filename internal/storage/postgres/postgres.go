// Package postgres implements the compensation stores on PostgreSQL with
// pgx. Row locks are SELECT ... FOR UPDATE; every compensating operation runs
// inside one pgx transaction so locks are released only at commit or
// rollback.
package postgres

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-returns/db"
	"github.com/xenking/kart-returns/internal/compensation"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

var _ compensation.Store = (*Store)(nil)

// Store opens atomic units of work for the compensation engine.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn inside one database transaction. Lock waits are bounded by the
// server's lock_timeout; a timeout rolls back and surfaces as a retryable
// error to the caller.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx compensation.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &storeTx{tx: tx})
	})
}

var _ compensation.Tx = (*storeTx)(nil)

// storeTx binds the per-concern stores to one pgx transaction.
type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Orders() compensation.OrderStore         { return &OrderStore{tx: t.tx} }
func (t *storeTx) Inventory() compensation.InventoryStore  { return &InventoryStore{tx: t.tx} }
func (t *storeTx) Loyalty() compensation.LoyaltyStore      { return &LoyaltyStore{tx: t.tx} }
func (t *storeTx) Coupons() compensation.CouponStore       { return &CouponStore{tx: t.tx} }
func (t *storeTx) History() compensation.HistoryStore      { return &HistoryStore{tx: t.tx} }
