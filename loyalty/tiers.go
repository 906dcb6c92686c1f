/*
tiers.go - Point value distribution for voucher batches

PURPOSE:
  A batch is split into weighted tiers. Tier i receives
  trunc(count * weight_i) vouchers, except the last tier, which receives
  whatever is left so the batch always has exactly count vouchers.
  Each voucher's value is drawn uniformly from its tier's [Min, Max].

PRESETS:
  StandardTiers:  50% in 10-30, 40% in 31-50, 10% in 51-80
  SplitTiers:     low share at exactly Low points, the rest at exactly High

PRECISION:
  Weights are decimals; tier counts are exact truncations of
  count * weight.
*/
package loyalty

import (
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

type Tier struct {
	Weight decimal.Decimal
	Min    Points
	Max    Points
}

func NewTier(weight float64, min, max Points) Tier {
	return Tier{Weight: decimal.NewFromFloat(weight), Min: min, Max: max}
}

// StandardTiers is the default 50/40/10 distribution.
func StandardTiers() []Tier {
	return []Tier{
		{Weight: decimal.RequireFromString("0.5"), Min: 10, Max: 30},
		{Weight: decimal.RequireFromString("0.4"), Min: 31, Max: 50},
		{Weight: decimal.RequireFromString("0.1"), Min: 51, Max: 80},
	}
}

// SplitTiers gives lowPercent of the batch exactly low points and the rest
// exactly high points.
func SplitTiers(lowPercent int64, low, high Points) []Tier {
	w := decimal.NewFromInt(lowPercent).Div(decimal.NewFromInt(100))
	return []Tier{
		{Weight: w, Min: low, Max: low},
		{Weight: decimal.NewFromInt(1).Sub(w), Min: high, Max: high},
	}
}

// MaxVoucherPoints bounds a single voucher so batch totals and wallet
// balances stay far from int64 overflow.
const MaxVoucherPoints Points = 1_000_000

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return invalid("tiers", "at least one tier is required")
	}

	sum := decimal.Zero
	for i, t := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.Weight.IsNegative() {
			return invalid(field, "weight %s is negative", t.Weight)
		}
		if t.Min < 1 {
			return invalid(field, "minimum must be at least 1, got %d", t.Min)
		}
		if t.Min > t.Max {
			return invalid(field, "range %d-%d is inverted", t.Min, t.Max)
		}
		if t.Max > MaxVoucherPoints {
			return invalid(field, "maximum %d exceeds %d", t.Max, MaxVoucherPoints)
		}
		sum = sum.Add(t.Weight)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("tiers", "weights sum to %s, above 1", sum)
	}
	return nil
}

// tierCounts splits total across tiers. The last tier absorbs the remainder.
func tierCounts(total int, tiers []Tier) []int {
	counts := make([]int, len(tiers))
	n := decimal.NewFromInt(int64(total))

	assigned := 0
	for i := 0; i < len(tiers)-1; i++ {
		counts[i] = int(n.Mul(tiers[i].Weight).IntPart())
		assigned += counts[i]
	}
	counts[len(tiers)-1] = total - assigned
	return counts
}

func (t Tier) draw() Points {
	if t.Min == t.Max {
		return t.Min
	}
	return t.Min + Points(rand.Int64N(int64(t.Max-t.Min)+1))
}

// Contains reports whether p is a value this tier can produce.
func (t Tier) Contains(p Points) bool {
	return p >= t.Min && p <= t.Max
}
