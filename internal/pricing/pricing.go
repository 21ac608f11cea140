package pricing

import (
	"fmt"
	"math"

	"parking-service/internal/models"
)

// DefaultMinimumCost is charged for any completed session, however short.
const DefaultMinimumCost = 2.50

// Calculator converts parked time into a billable amount.
type Calculator struct {
	MinimumCost float64
}

// NewCalculator returns a calculator with the given minimum charge.
func NewCalculator(minimumCost float64) Calculator {
	if minimumCost <= 0 {
		minimumCost = DefaultMinimumCost
	}
	return Calculator{MinimumCost: minimumCost}
}

// Cost returns max(MinimumCost, minutes/60 * hourlyRate), unrounded.
// Rounding happens once, at persistence, via Round.
func (c Calculator) Cost(durationMinutes int, hourlyRate float64) (float64, error) {
	if durationMinutes < 0 {
		return 0, fmt.Errorf("%w: %d minutes", models.ErrNegativeDuration, durationMinutes)
	}
	if hourlyRate <= 0 {
		return 0, models.ErrInvalidRate
	}

	hours := float64(durationMinutes) / 60.0
	raw := hours * hourlyRate

	return math.Max(c.MinimumCost, raw), nil
}

// Round rounds an amount to currency precision (two decimal places).
func Round(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// ToMinorUnits converts a major-unit amount to cents.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts cents back to a major-unit amount.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}
