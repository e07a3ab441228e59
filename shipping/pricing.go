package shipping

import "github.com/shopspring/decimal"

// Weight tier bounds. Both are exclusive: a total of exactly 3 is tier 1,
// exactly 6 is tier 2.
var (
	lightTierMax  = decimal.NewFromInt(3)
	mediumTierMax = decimal.NewFromInt(6)
)

// Multiplier maps the total weight of a shipment to its cost multiplier.
func Multiplier(totalWeight decimal.Decimal) int {
	switch {
	case totalWeight.GreaterThan(mediumTierMax):
		return 3
	case totalWeight.GreaterThan(lightTierMax):
		return 2
	default:
		return 1
	}
}

// Cost prices a shipment: baseRate * Multiplier(totalWeight).
func Cost(baseRate, totalWeight decimal.Decimal) decimal.Decimal {
	return baseRate.Mul(decimal.NewFromInt(int64(Multiplier(totalWeight))))
}

// TotalWeight sums the weight of products.
func TotalWeight(products []Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.Weight)
	}
	return total
}
