// Command seed-db populates a development database with demo users,
// products, and orders in known initial states so the cancellation and
// return flows can be exercised end to end.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-returns/internal/storage/postgres"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seed(ctx, pool); err != nil {
		return errors.Wrap(err, "seed data")
	}
	return nil
}

// seed inserts a small fixed data set. ON CONFLICT DO NOTHING keeps the tool
// re-runnable against an already seeded database.
func seed(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"users", `INSERT INTO users (id, point_balance, cumulative_spend, tier) VALUES
			('user-1', 1000, 150000, 'SILVER'),
			('user-2', 0, 0, 'BRONZE')
			ON CONFLICT (id) DO NOTHING`},
		{"products", `INSERT INTO products (id, name, price, quantity, sold_count) VALUES
			('prod-1', 'Waffle with Berries', 6.50, 100, 20),
			('prod-2', 'Vanilla Bean Creme Brulee', 7.00, 50, 10),
			('prod-3', 'Macaron Mix of Five', 8.00, 30, 5)
			ON CONFLICT (id) DO NOTHING`},
		{"orders", `INSERT INTO orders (id, user_id, number, status, final_amount, used_points, earned_points, shipping_fee, delivered_at) VALUES
			('order-1', 'user-1', 'ORD-20260801-0001', 'PAID', 27.50, 300, 80, 2.50, NULL),
			('order-2', 'user-1', 'ORD-20260801-0002', 'DELIVERED', 16.00, 0, 16, 2.50, now())
			ON CONFLICT (id) DO NOTHING`},
		{"order_items", `INSERT INTO order_items
			(id, order_id, product_id, product_name, original_quantity, unit_price, remaining_quantity) VALUES
			('item-1', 'order-1', 'prod-1', 'Waffle with Berries', 3, 6.50, 3),
			('item-2', 'order-1', 'prod-2', 'Vanilla Bean Creme Brulee', 1, 7.00, 1),
			('item-3', 'order-2', 'prod-3', 'Macaron Mix of Five', 2, 8.00, 2)
			ON CONFLICT (id) DO NOTHING`},
		{"user_coupons", `INSERT INTO user_coupons (id, user_id, code, used, order_id, used_at) VALUES
			('grant-1', 'user-1', 'HAPPYHRS', TRUE, 'order-1', now())
			ON CONFLICT (id) DO NOTHING`},
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return errors.Wrapf(err, "insert %s", s.name)
		}
		slog.Info("seeded", slog.String("table", s.name))
	}
	return nil
}
