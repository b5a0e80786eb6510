// Package inventory models the external stock ledger consumed by the
// compensation engine. Stock rows are never read-then-written without a lock;
// every mutation is a single conditional update.
package inventory

import (
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a product has vanished from the catalog.
// Restocking such a product is best-effort: the caller logs and continues.
var ErrNotFound = errors.New("product not found")

// Stock is the current inventory state for one product.
type Stock struct {
	ProductID string
	Quantity  int64
	SoldCount int64
}

// ChangeType tags an inventory history row with the kind of movement.
type ChangeType string

const (
	// ChangeReturn marks stock restored by a cancellation or approved return.
	ChangeReturn ChangeType = "RETURN"
	// ChangeSale marks stock consumed at checkout (written by the order path).
	ChangeSale ChangeType = "SALE"
)

// History is one append-only inventory movement row referencing the order
// that caused it.
type History struct {
	ID                string
	ProductID         string
	Change            ChangeType
	Quantity          int64
	ResultingQuantity int64
	OrderID           string
	CreatedAt         time.Time
}
