package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

func TestValidateRowTolerance(t *testing.T) {
	tests := []struct {
		name     string
		pork     float64
		chicken  float64
		balanced bool
	}{
		{"exact", 0.30, 0.70, true},
		{"lower edge", 0.30, 0.699, true},
		{"upper edge", 0.30, 0.701, true},
		{"below", 0.30, 0.698, false},
		{"above", 0.30, 0.702, false},
		{"edited to 90 percent", 0.30, 0.60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(testMasterMetrics())
			require.NoError(t, table.SetCell(models.CategoryAge, "Lunch", 0, models.ProteinPork, tt.pork))
			require.NoError(t, table.SetCell(models.CategoryAge, "Lunch", 0, models.ProteinChicken, tt.chicken))

			b, err := ValidateRow(table, models.CategoryAge, "Lunch", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.balanced, b.Balanced)
			assert.InDelta(t, (tt.pork+tt.chicken)*100, b.Total, 1e-6)
		})
	}
}

func TestValidateRowOnlyCountsAvailableProteins(t *testing.T) {
	seed := testMasterMetrics()
	// Beef is not offered at lunch and must not count toward the total
	seed.Categories[models.CategoryAge]["Lunch"][0].Probabilities[models.ProteinBeef] = 0.5
	table := NewTable(seed)

	b, err := ValidateRow(table, models.CategoryAge, "Lunch", 0)
	require.NoError(t, err)
	assert.True(t, b.Balanced)
	assert.InDelta(t, 100, b.Total, 1e-6)
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name     string
		weights  models.Weights
		balanced bool
		total    float64
	}{
		{"defaults", models.DefaultWeights(), true, 100},
		{"nationality raised to 45", models.Weights{Nationality: 45, Age: 20, Destination: 25, MealTime: 15}, false, 105},
		{"lower edge", models.Weights{Nationality: 39.9, Age: 20, Destination: 25, MealTime: 15}, true, 99.9},
		{"upper edge", models.Weights{Nationality: 40.1, Age: 20, Destination: 25, MealTime: 15}, true, 100.1},
		{"just under", models.Weights{Nationality: 39.8, Age: 20, Destination: 25, MealTime: 15}, false, 99.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ValidateWeights(tt.weights)
			assert.Equal(t, tt.balanced, b.Balanced)
			assert.InDelta(t, tt.total, b.Total, 1e-6)
		})
	}
}

func TestCheckWeightBands(t *testing.T) {
	assert.NoError(t, CheckWeightBands(models.DefaultWeights()))
	assert.NoError(t, CheckWeightBands(models.Weights{Nationality: 35, Age: 25, Destination: 30, MealTime: 10}))

	err := CheckWeightBands(models.Weights{Nationality: 40, Age: 30, Destination: 25, MealTime: 15})
	var bandErr *WeightBandError
	require.True(t, errors.As(err, &bandErr))
	assert.Equal(t, models.CategoryAge, bandErr.Category)
	assert.Equal(t, 30.0, bandErr.Value)
	assert.Equal(t, models.WeightBand{Min: 15, Max: 25}, bandErr.Band)
}

func TestErrorMessages(t *testing.T) {
	rowErr := &RowImbalanceError{Category: models.CategoryAge, Identifier: "AgeGroup25 - Lunch", Total: 90}
	assert.Equal(t, "Age - AgeGroup25 - Lunch: Total is 90.0% (must be 100%)", rowErr.Error())

	weightErr := &WeightImbalanceError{Total: 105}
	assert.Equal(t, "Total importance weights: 105.0% (must equal 100%)", weightErr.Error())

	verr := &ValidationError{Weight: weightErr, Rows: []*RowImbalanceError{rowErr}}
	assert.Equal(t, []string{weightErr.Error(), rowErr.Error()}, verr.Messages())

	var found *WeightImbalanceError
	require.True(t, errors.As(verr, &found))
	assert.Equal(t, 105.0, found.Total)
}
