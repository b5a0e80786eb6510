package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestResolveTier(t *testing.T) {
	cases := []struct {
		spend string
		want  Tier
	}{
		{"0", TierBronze},
		{"99999.99", TierBronze},
		{"100000", TierSilver},
		{"299999.99", TierSilver},
		{"300000", TierGold},
		{"499999.99", TierGold},
		{"500000", TierVIP},
		{"1250000", TierVIP},
	}
	for _, tc := range cases {
		got := ResolveTier(decimal.RequireFromString(tc.spend))
		assert.Equal(t, tc.want, got, "spend %s", tc.spend)
	}
}

func TestProportionalShare(t *testing.T) {
	total := decimal.RequireFromString("100.00")

	// Exact halves.
	assert.Equal(t, int64(150), ProportionalShare(300, decimal.RequireFromString("50.00"), total))

	// Truncation toward zero, never rounding up.
	assert.Equal(t, int64(99), ProportionalShare(100, decimal.RequireFromString("99.99"), total))
	assert.Equal(t, int64(0), ProportionalShare(100, decimal.RequireFromString("0.99"), total))

	// Degenerate inputs.
	assert.Equal(t, int64(0), ProportionalShare(0, total, total))
	assert.Equal(t, int64(0), ProportionalShare(300, total, decimal.Zero))

	// Full amount yields the full point figure.
	assert.Equal(t, int64(300), ProportionalShare(300, total, total))
}
