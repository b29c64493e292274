package metrics

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

func TestDiffWeights(t *testing.T) {
	defaults := models.DefaultWeights()

	assert.Empty(t, DiffWeights(defaults, defaults))

	current := defaults
	current.Nationality = 45
	current.MealTime = 15.005
	changes := DiffWeights(current, defaults)
	require.Len(t, changes, 1)
	assert.Equal(t, models.CategoryNationality, changes[0].Category)
	assert.Equal(t, "Weekday-Adjusted Nationality", changes[0].Label)
	assert.Equal(t, 40.0, changes[0].DefaultValue)
	assert.Equal(t, 45.0, changes[0].CurrentValue)
	assert.InDelta(t, 5, changes[0].Delta, 1e-9)
}

func TestDiffAllRows(t *testing.T) {
	table := NewTable(testMasterMetrics())
	defaults := table.Clone()

	assert.Empty(t, DiffAllRows(table, defaults))

	require.NoError(t, table.SetCell(models.CategoryAge, "Lunch", 0, models.ProteinChicken, 0.5))
	require.NoError(t, table.SetCell(models.CategoryNationality, "Dinner", 0, models.ProteinBeef, 0.5))

	problems := DiffAllRows(table, defaults)
	require.Len(t, problems, 2)

	assert.Equal(t, models.CategoryNationality, problems[0].Category)
	assert.Equal(t, "SG_Monday_Dinner", problems[0].RowKey)
	assert.Equal(t, "SG (Monday) - Dinner", problems[0].Identifier)
	assert.InDelta(t, 130, problems[0].Total, 1e-6)
	assert.True(t, problems[0].Edited)

	assert.Equal(t, "AgeGroup25_Lunch", problems[1].RowKey)
	assert.InDelta(t, 90, problems[1].Total, 1e-6)
}

func TestDiffAllRowsFlagsUneditedDefaults(t *testing.T) {
	seed := testMasterMetrics()
	seed.Categories[models.CategoryDestination]["Lunch"][0].Probabilities = models.Distribution{models.ProteinPork: 0.2}
	table := NewTable(seed)

	problems := DiffAllRows(table, table.Clone())
	require.Len(t, problems, 1)
	assert.False(t, problems[0].Edited)
	assert.Equal(t, "SIN - Lunch", problems[0].Identifier)
}

func TestReport(t *testing.T) {
	table := NewTable(testMasterMetrics())

	report := Report(models.DefaultWeights(), table, table.Clone())
	assert.True(t, report.Valid())
	assert.NoError(t, report.Err())

	weights := models.Weights{Nationality: 45, Age: 20, Destination: 25, MealTime: 15}
	report = Report(weights, table, table.Clone())
	assert.False(t, report.Valid())
	require.NotNil(t, report.WeightError)
	assert.InDelta(t, 105, report.WeightError.Total, 1e-9)
	assert.Len(t, report.WeightChanges, 1)

	var verr *ValidationError
	require.True(t, errors.As(report.Err(), &verr))
	assert.Contains(t, verr.Error(), "105.0%")
}

func TestBuildPayloadDefaultsOnly(t *testing.T) {
	table := NewTable(testMasterMetrics())

	payload, err := BuildPayload(models.DefaultWeights(), table, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, models.DefaultWeights(), payload.Weights)
	require.Len(t, payload.Overrides, 4)
	for _, c := range models.Categories {
		rows, ok := payload.Overrides[c]
		require.True(t, ok, c)
		assert.Empty(t, rows)
	}
	assert.Zero(t, payload.OverrideCount())
}

func TestBuildPayloadRejectsOverweightTotal(t *testing.T) {
	table := NewTable(testMasterMetrics())

	_, err := BuildPayload(models.Weights{Nationality: 45, Age: 20, Destination: 25, MealTime: 15}, table, Overrides{})

	var weightErr *WeightImbalanceError
	require.True(t, errors.As(err, &weightErr))
	assert.InDelta(t, 105, weightErr.Total, 1e-9)
	assert.Contains(t, err.Error(), "105.0%")
}

func TestBuildPayloadOnlyCommittedRows(t *testing.T) {
	table := NewTable(testMasterMetrics())
	// balanced edit that was never committed
	require.NoError(t, table.SetCell(models.CategoryNationality, "Lunch", 1, models.ProteinPork, 0.2))
	require.NoError(t, table.SetCell(models.CategoryNationality, "Lunch", 1, models.ProteinChicken, 0.8))

	lunch := []models.Protein{models.ProteinPork, models.ProteinChicken}
	overrides := Overrides{
		models.CategoryAge: {
			"AgeGroup25_Lunch": {
				Category:          models.CategoryAge,
				RowKey:            "AgeGroup25_Lunch",
				MealTime:          "Lunch",
				Current:           models.Distribution{models.ProteinPork: 0.3, models.ProteinChicken: 0.7},
				AvailableProteins: lunch,
			},
		},
	}

	payload, err := BuildPayload(models.DefaultWeights(), table, overrides)
	require.NoError(t, err)
	assert.Equal(t, 1, payload.OverrideCount())
	assert.Equal(t,
		models.Distribution{models.ProteinPork: 0.3, models.ProteinChicken: 0.7},
		payload.Overrides[models.CategoryAge]["AgeGroup25_Lunch"])
	assert.Empty(t, payload.Overrides[models.CategoryNationality])

	again, err := BuildPayload(models.DefaultWeights(), table, overrides)
	require.NoError(t, err)
	first, err := json.Marshal(payload)
	require.NoError(t, err)
	second, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildPayloadRechecksOverrides(t *testing.T) {
	table := NewTable(testMasterMetrics())
	overrides := Overrides{
		models.CategoryAge: {
			"AgeGroup25_Lunch": {
				Category: models.CategoryAge,
				RowKey:   "AgeGroup25_Lunch",
				MealTime: "Lunch",
				Current:  models.Distribution{models.ProteinPork: 0.3, models.ProteinChicken: 0.6},
			},
		},
	}

	_, err := BuildPayload(models.DefaultWeights(), table, overrides)
	var rowErr *RowImbalanceError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, "AgeGroup25_Lunch", rowErr.RowKey)
	assert.InDelta(t, 90, rowErr.Total, 1e-6)
}
