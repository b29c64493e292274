package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
)

const (
	testFlight = "SQ 286 (AKL → SIN)"
	testDate   = "2025-03-10"
)

func TestFileSourceFetchMasterMetrics(t *testing.T) {
	src, err := NewFileSource("testdata", nil)
	require.NoError(t, err)

	m, err := src.FetchMasterMetrics(context.Background(), testFlight, testDate)
	require.NoError(t, err)

	assert.Equal(t, "Monday", m.Weekday)
	require.Len(t, m.Segments, 2)
	assert.Equal(t, "Lunch", m.Segments[0].Name)
	assert.Equal(t, "Dinner", m.Segments[1].Name)

	// Y cabin wins at lunch, dinner only has S; unknown proteins are skipped
	assert.Equal(t, []models.Protein{models.ProteinChicken, models.ProteinPork}, m.AvailableProteinsByMealTime["Lunch"])
	assert.Equal(t, []models.Protein{models.ProteinLamb, models.ProteinSeafood}, m.AvailableProteinsByMealTime["Dinner"])

	nationality := m.Categories[models.CategoryNationality]
	require.Len(t, nationality["Lunch"], 3)
	sg := nationality["Lunch"][0]
	assert.Equal(t, "SG", sg.NationalityCode)
	assert.Equal(t, "Monday", sg.DayOfWeek)
	assert.Equal(t, "Lunch", sg.MealTime)
	assert.Equal(t, "Weekday business travellers", sg.Reasoning)
	assert.InDelta(t, 0.4, sg.Probabilities[models.ProteinPork], 1e-9)
	assert.InDelta(t, 0.6, sg.Probabilities[models.ProteinChicken], 1e-9)
	assert.Zero(t, sg.Probabilities[models.ProteinBeef])

	dinnerSG := nationality["Dinner"][0]
	assert.InDelta(t, 2.0/3.0, dinnerSG.Probabilities[models.ProteinSeafood], 1e-9)
	assert.InDelta(t, 1.0/3.0, dinnerSG.Probabilities[models.ProteinLamb], 1e-9)

	age := m.Categories[models.CategoryAge]["Lunch"]
	require.Len(t, age, 2)
	assert.Equal(t, "Senior", age[1].AgeGroup)
	assert.InDelta(t, 0.5, age[1].Probabilities[models.ProteinPork], 1e-9, "all-zero row becomes uniform")
	assert.InDelta(t, 0.5, age[1].Probabilities[models.ProteinChicken], 1e-9)

	dest := m.Categories[models.CategoryDestination]["Lunch"]
	require.Len(t, dest, 1)
	assert.Equal(t, "Asia", dest[0].DestinationRegion)
	assert.Equal(t, "SIN", dest[0].AirportCode)

	mealTime := m.Categories[models.CategoryMealTime]
	require.Len(t, mealTime["Lunch"], 1)
	assert.InDelta(t, 0.75, mealTime["Lunch"][0].Probabilities[models.ProteinPork], 1e-9)
	assert.NotContains(t, mealTime, "Breakfast")

	// every seeded row satisfies the 100% rule
	table := metrics.NewTable(m)
	assert.Empty(t, metrics.DiffAllRows(table, table.Clone()))
	table.Each(func(category models.Category, meal string, index int, row models.Row) {
		balance, err := metrics.ValidateRow(table, category, meal, index)
		assert.NoError(t, err)
		assert.True(t, balance.Balanced, "%s %s %d", category, meal, index)
	})
}

func TestFileSourceNoMealService(t *testing.T) {
	src, err := NewFileSource("testdata", nil)
	require.NoError(t, err)

	_, err = src.FetchMasterMetrics(context.Background(), testFlight, "2025-04-01")
	assert.True(t, errors.Is(err, ErrNoMealService))

	_, err = src.FetchMasterMetrics(context.Background(), "SQ 286", testDate)
	assert.Error(t, err)

	_, err = src.FetchMasterMetrics(context.Background(), testFlight, "10/03/2025")
	assert.Error(t, err)
}

func TestFileSourceMissingDefaults(t *testing.T) {
	dir := t.TempDir()
	meals, err := os.ReadFile(filepath.Join("testdata", MealServiceFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MealServiceFile), meals, 0o644))

	src, err := NewFileSource(dir, nil)
	require.NoError(t, err)

	m, err := src.FetchMasterMetrics(context.Background(), testFlight, testDate)
	require.NoError(t, err)
	assert.Len(t, m.Segments, 2)
	assert.Empty(t, m.Categories[models.CategoryNationality]["Lunch"])
}

func TestNewFileSourceRejectsMissingDirectory(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.csv")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewFileSource(file, nil)
	assert.Error(t, err)
}

func TestParseDepartureDate(t *testing.T) {
	cases := map[string]string{
		"2025-03-10":          "2025-03-10",
		"2025-03-10 23:55:00": "2025-03-10",
		"2025-03-10T06:00:00": "2025-03-10",
		"3/10/2025":           "2025-03-10",
		"3/10/2025 14:30":     "2025-03-10",
	}
	for in, want := range cases {
		got, ok := parseDepartureDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := parseDepartureDate("")
	assert.False(t, ok)
	_, ok = parseDepartureDate("next tuesday")
	assert.False(t, ok)
}

func TestAvailabilityFallsBackToPremiumEconomy(t *testing.T) {
	availability := availabilityFromOfferings([]mealOffering{
		{MealTime: "Lunch", CabinClass: "y", Protein: "pork"},
		{MealTime: "Lunch", CabinClass: "S", Protein: "Beef"},
		{MealTime: "Dinner", CabinClass: "S", Protein: "Vegetarian"},
		{MealTime: "Dinner", CabinClass: "S", Protein: "Beef"},
		{MealTime: "Dinner", CabinClass: "J", Protein: "Lamb"},
		{MealTime: "Supper", CabinClass: "J", Protein: "Lamb"},
		{MealTime: "", CabinClass: "Y", Protein: "Lamb"},
	})

	assert.Equal(t, map[string][]models.Protein{
		"Lunch":  {models.ProteinPork},
		"Dinner": {models.ProteinBeef, models.ProteinVegetarian},
	}, availability)
}
