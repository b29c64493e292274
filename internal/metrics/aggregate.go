package metrics

import "github.com/yishak-cs/meal-metrics/internal/models"

// Overrides holds committed rows by category and row key
type Overrides map[models.Category]map[string]models.ModifiedRow

// Clone returns a deep copy of the overrides
func (o Overrides) Clone() Overrides {
	out := make(Overrides, len(o))
	for category, rows := range o {
		copied := make(map[string]models.ModifiedRow, len(rows))
		for key, row := range rows {
			copied[key] = row.Clone()
		}
		out[category] = copied
	}
	return out
}

// Count returns the number of committed rows
func (o Overrides) Count() int {
	n := 0
	for _, rows := range o {
		n += len(rows)
	}
	return n
}

// List returns the overrides sorted by category then row key
func (o Overrides) List() []models.ModifiedRow {
	out := make([]models.ModifiedRow, 0, o.Count())
	for _, rows := range o {
		for _, row := range rows {
			out = append(out, row.Clone())
		}
	}
	models.SortModifiedRows(out)
	return out
}

// BuildPayload assembles the weights and committed rows for the prediction service.
// Rows absent from overrides are left out; the predictor applies its own defaults to them.
func BuildPayload(weights models.Weights, table *Table, overrides Overrides) (models.ConfigurationPayload, error) {
	if b := ValidateWeights(weights); !b.Balanced {
		return models.ConfigurationPayload{}, &ValidationError{Weight: &WeightImbalanceError{Total: b.Total}}
	}

	payload := models.ConfigurationPayload{
		Weights:   weights,
		Overrides: make(map[models.Category]map[string]models.Distribution, len(models.Categories)),
	}

	var problems []*RowImbalanceError
	for _, category := range models.Categories {
		rows := make(map[string]models.Distribution)
		for key, entry := range overrides[category] {
			if len(entry.Current) == 0 {
				continue
			}
			proteins := entry.AvailableProteins
			if table != nil {
				if seg, ok := table.Segment(entry.MealTime); ok {
					proteins = seg.AvailableProteins()
				}
			}
			if len(proteins) == 0 {
				proteins = models.CanonicalProteins
			}
			if b := balanceOf(DistributionTotal(entry.Current, proteins)); !b.Balanced {
				problems = append(problems, &RowImbalanceError{
					Category:   category,
					MealTime:   entry.MealTime,
					Index:      -1,
					RowKey:     key,
					Identifier: key,
					Total:      b.Total,
					Edited:     true,
				})
				continue
			}
			rows[key] = entry.Current.Restrict(proteins)
		}
		payload.Overrides[category] = rows
	}

	if len(problems) > 0 {
		return models.ConfigurationPayload{}, &ValidationError{Rows: problems}
	}
	return payload, nil
}
