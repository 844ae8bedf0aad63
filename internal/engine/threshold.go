package engine

import "github.com/shopspring/decimal"

// Mode selects the comparison direction for the trigger condition.
type Mode string

const (
	// ModeAtOrAbove triggers when price >= threshold.
	ModeAtOrAbove Mode = "at_or_above"
	// ModeAtOrBelow triggers when price <= threshold.
	ModeAtOrBelow Mode = "at_or_below"
)

// Evaluate reports whether price satisfies the threshold condition. Equality
// counts as triggering for both modes.
func Evaluate(price, threshold decimal.Decimal, mode Mode) bool {
	switch mode {
	case ModeAtOrAbove:
		return price.GreaterThanOrEqual(threshold)
	case ModeAtOrBelow:
		return price.LessThanOrEqual(threshold)
	default:
		return false
	}
}
