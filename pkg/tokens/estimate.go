package tokens

// DefaultMarginPercent inflates cost estimates to absorb variance in actual usage.
const DefaultMarginPercent = 10

// MinReservation is the smallest amount WithMargin returns, so operations
// estimated at zero still pass through the ledger.
const MinReservation int64 = 1

// WithMargin returns ceil(estimate * (100 + marginPercent) / 100), at least MinReservation.
// Negative inputs are treated as zero.
func WithMargin(estimate int64, marginPercent int) int64 {
	if estimate <= 0 {
		return MinReservation
	}
	margin := int64(max(marginPercent, 0))
	return max((estimate*(100+margin)+99)/100, MinReservation)
}
