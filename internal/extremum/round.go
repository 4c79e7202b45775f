package extremum

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// round2 rounds v*100 half away from zero and scales back, so the product
// is rounded as a float: 1.005 becomes 1.00 because 1.005*100 is just
// below 100.5.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v * 100).Round(0).Div(hundred).InexactFloat64()
}
