package inventory

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	maxQuantity = decimal.NewFromInt(math.MaxInt32)
	minQuantity = decimal.NewFromInt(math.MinInt32)
)

// ParseQuantity parses a whole-unit quantity such as "10" or "10.0".
// Zero and negative values are accepted; whether they are valid is up to
// the engine's configuration.
func ParseQuantity(s string) (int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidQuantity, s)
	}
	return QuantityFromDecimal(d)
}

// QuantityFromDecimal rejects fractional values and values outside the
// 32-bit range the stores persist.
func QuantityFromDecimal(d decimal.Decimal) (int, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number of units", ErrInvalidQuantity, d)
	}
	if d.GreaterThan(maxQuantity) || d.LessThan(minQuantity) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidQuantity, d)
	}
	return int(d.IntPart()), nil
}
