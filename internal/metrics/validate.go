package metrics

import (
	"math"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// Tolerance is the allowed deviation from 100%, in percentage points
const Tolerance = 0.1

// epsilon absorbs float noise so that exactly 99.9 and 100.1 count as balanced
const epsilon = 1e-9

// changeTolerance is the per-protein difference below which a row counts as unchanged
const changeTolerance = 0.001

// Balance is the outcome of a sum-to-100 check
type Balance struct {
	Balanced bool    `json:"balanced"`
	Total    float64 `json:"total"`
}

func balanceOf(total float64) Balance {
	return Balance{Balanced: math.Abs(total-100) <= Tolerance+epsilon, Total: total}
}

// DistributionTotal returns the percentage sum of the given proteins
func DistributionTotal(d models.Distribution, proteins []models.Protein) float64 {
	if len(proteins) == 0 {
		proteins = models.CanonicalProteins
	}
	total := 0.0
	for _, p := range proteins {
		total += d[p] * 100
	}
	return total
}

// ValidateRow checks that a row's available proteins sum to 100%. It has no side effects.
func ValidateRow(t *Table, category models.Category, mealTime string, index int) (Balance, error) {
	row, err := t.rowRef(category, mealTime, index)
	if err != nil {
		return Balance{}, err
	}
	seg := t.segments[mealTime]
	return balanceOf(DistributionTotal(row.Probabilities, seg.AvailableProteins())), nil
}

// ValidateWeights checks that the four category weights sum to 100%
func ValidateWeights(w models.Weights) Balance {
	return balanceOf(w.Sum())
}

// CheckWeightBands returns an error for the first weight outside its allowed band
func CheckWeightBands(w models.Weights) error {
	for _, c := range models.Categories {
		band := c.Band()
		if v := w.Get(c); !band.Contains(v) {
			return &WeightBandError{Category: c, Value: v, Band: band}
		}
	}
	return nil
}

func distributionsEqual(a, b models.Distribution) bool {
	for _, p := range models.CanonicalProteins {
		if math.Abs(a[p]-b[p]) > changeTolerance {
			return false
		}
	}
	return true
}
