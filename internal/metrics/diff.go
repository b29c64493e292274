package metrics

import (
	"math"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// weightChangeThreshold is the smallest weight delta reported as a change
const weightChangeThreshold = 0.01

// WeightChange describes a category weight that differs from its default
type WeightChange struct {
	Category     models.Category `json:"category"`
	Label        string          `json:"label"`
	DefaultValue float64         `json:"default_value"`
	CurrentValue float64         `json:"current_value"`
	Delta        float64         `json:"delta"`
}

// DiffWeights lists the categories whose weight moved more than 0.01 from the default
func DiffWeights(current, defaults models.Weights) []WeightChange {
	var changes []WeightChange
	for _, c := range models.Categories {
		delta := current.Get(c) - defaults.Get(c)
		if math.Abs(delta) <= weightChangeThreshold {
			continue
		}
		changes = append(changes, WeightChange{
			Category:     c,
			Label:        c.Label(),
			DefaultValue: defaults.Get(c),
			CurrentValue: current.Get(c),
			Delta:        delta,
		})
	}
	return changes
}

// DiffAllRows scans every row and reports those whose current total is off by more than
// the tolerance, whether or not they were committed. defaults marks which of them were edited.
func DiffAllRows(table, defaults *Table) []*RowImbalanceError {
	var problems []*RowImbalanceError
	table.Each(func(category models.Category, mealTime string, index int, row models.Row) {
		seg, _ := table.Segment(mealTime)
		b := balanceOf(DistributionTotal(row.Probabilities, seg.AvailableProteins()))
		if b.Balanced {
			return
		}
		edited := true
		if defaults != nil {
			if def, err := defaults.rowRef(category, mealTime, index); err == nil {
				edited = !distributionsEqual(row.Probabilities, def.Probabilities)
			}
		}
		problems = append(problems, &RowImbalanceError{
			Category:   category,
			MealTime:   mealTime,
			Index:      index,
			RowKey:     RowKey(category, mealTime, row),
			Identifier: RowIdentifier(category, mealTime, row),
			Total:      b.Total,
			Edited:     edited,
		})
	})
	return problems
}

// ValidationReport is the full read-only picture used to gate a submission
type ValidationReport struct {
	WeightBalance Balance               `json:"weight_balance"`
	WeightChanges []WeightChange        `json:"weight_changes"`
	WeightError   *WeightImbalanceError `json:"weight_error,omitempty"`
	RowErrors     []*RowImbalanceError  `json:"row_errors"`
}

// Valid reports whether nothing blocks submission
func (r ValidationReport) Valid() bool {
	return r.WeightError == nil && len(r.RowErrors) == 0
}

// Err returns a *ValidationError when the report has problems
func (r ValidationReport) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Weight: r.WeightError, Rows: r.RowErrors}
}

// Report builds a ValidationReport from weights and the current table
func Report(weights models.Weights, table, defaults *Table) ValidationReport {
	report := ValidationReport{
		WeightBalance: ValidateWeights(weights),
		WeightChanges: DiffWeights(weights, models.DefaultWeights()),
		RowErrors:     DiffAllRows(table, defaults),
	}
	if !report.WeightBalance.Balanced {
		report.WeightError = &WeightImbalanceError{Total: report.WeightBalance.Total}
	}
	return report
}
