// Package coupon models the user-coupon grant record that cancellation must
// flip back to unused.
package coupon

import (
	"time"

	"github.com/go-faster/errors"
)

// ErrGrantNotFound is returned when no grant references the given order.
var ErrGrantNotFound = errors.New("coupon grant not found")

// Grant is a coupon issued to a user. Used grants carry a reference to the
// order they were consumed by.
type Grant struct {
	ID      string
	UserID  string
	Code    string
	Used    bool
	OrderID *string
	UsedAt  *time.Time
}

// Restore flips the grant back to unused and clears its order reference.
// It reports whether anything changed: restoring an already-unused grant is
// a no-op, which makes retried cancellations idempotent at this step.
func (g *Grant) Restore() bool {
	if !g.Used {
		return false
	}
	g.Used = false
	g.OrderID = nil
	g.UsedAt = nil
	return true
}
