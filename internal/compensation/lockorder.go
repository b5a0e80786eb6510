package compensation

import "sort"

// restock is one per-product stock restoration command.
type restock struct {
	ProductID string
	Quantity  int64
}

// sortRestocks orders restock commands ascending by product ID. Every
// concurrent path that touches multiple products acquires per-product locks
// in this total order; it is the sole deadlock-prevention mechanism, so the
// rule lives here as a named utility rather than an inline sort.
func sortRestocks(rs []restock) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].ProductID < rs[j].ProductID
	})
}
