package util

import "github.com/shopspring/decimal"

// RoundCents rounds a monetary amount half away from zero to two places.
func RoundCents(v float64) float64 {
	return Round(v, 2)
}

// Round rounds v to places decimal digits using exact decimal arithmetic.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// PercentChange returns (to-from)/from*100, or 0 when from is zero.
func PercentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	d := decimal.NewFromFloat(to).Sub(decimal.NewFromFloat(from)).
		Div(decimal.NewFromFloat(from)).
		Mul(decimal.NewFromInt(100))
	f, _ := d.Float64()
	return f
}
