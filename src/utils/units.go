package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	sharesPerLot = decimal.NewFromInt(100)
	thousand     = decimal.NewFromInt(1000)
)

// -----------------------------------------------------------------------------

// LotsToShares converts a volume quoted in board lots (手) to shares.
func LotsToShares(lots float64) float64 {
	return decimal.NewFromFloat(lots).Mul(sharesPerLot).InexactFloat64()
}

// ThousandsToUnits converts an amount quoted in thousands (千元) to units.
func ThousandsToUnits(v float64) float64 {
	return decimal.NewFromFloat(v).Mul(thousand).InexactFloat64()
}

// ParseNumber parses an upstream numeric string. Empty strings and the
// placeholders "-" and "--" are reported as absent.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "--" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
