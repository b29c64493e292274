package database

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// fakeGraph answers reads by matching the node pattern in the query
type fakeGraph struct {
	mu       sync.Mutex
	reads    map[string][]map[string]interface{}
	readErr  error
	writeErr error
	writes   []string
	params   []map[string]interface{}
}

func (f *fakeGraph) ExecuteRead(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	for pattern, rows := range f.reads {
		if strings.Contains(query, pattern) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeGraph) ExecuteWrite(ctx context.Context, query string, params map[string]interface{}) error {
	_, err := f.ExecuteWriteWithResult(ctx, query, params)
	return err
}

func (f *fakeGraph) ExecuteWriteWithResult(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.writes = append(f.writes, query)
	f.params = append(f.params, params)
	return []map[string]interface{}{{"imported": int64(1)}}, nil
}

func collected(pairs ...interface{}) []interface{} {
	var out []interface{}
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, map[string]interface{}{"protein": pairs[i], "probability": pairs[i+1]})
	}
	return out
}

func seededGraph() *fakeGraph {
	return &fakeGraph{reads: map[string][]map[string]interface{}{
		"(s:MealService": {
			{"meal_time": "Lunch", "cabin_class": "Y", "protein": "Pork"},
			{"meal_time": "Lunch", "cabin_class": "Y", "protein": "Chicken"},
			{"meal_time": "Lunch", "cabin_class": "S", "protein": "Beef"},
			{"meal_time": "Dinner", "cabin_class": "S", "protein": "Seafood"},
		},
		"(n:Nationality)": {
			{"nationality_code": "SG", "day_of_week": "Monday", "reasoning": nil,
				"probabilities": collected("Pork", 0.2, "Chicken", 0.3, "Seafood", 0.5)},
		},
		"(a:AgeGroup)": {
			{"age_group": "AgeGroup25", "reasoning": "young",
				"probabilities": collected("Pork", 0.0, "Chicken", int64(0), "Tofu", 1.0)},
		},
		"(d:Destination)": {
			{"destination_region": "Asia", "airport_code": "SIN", "reasoning": nil,
				"probabilities": collected("Pork", 0.5, "Chicken", 0.5)},
		},
		"(m:MealTime)": {
			{"meal_time": "Lunch", "reasoning": nil, "probabilities": collected("Pork", 0.1, "Chicken", 0.3)},
			{"meal_time": "Breakfast", "reasoning": nil, "probabilities": collected("Pork", 1.0)},
		},
	}}
}

func TestNeo4jSourceFetchMasterMetrics(t *testing.T) {
	src := NewNeo4jSource(seededGraph(), nil)

	m, err := src.FetchMasterMetrics(context.Background(), testFlight, testDate)
	require.NoError(t, err)

	assert.Equal(t, "Monday", m.Weekday)
	assert.Equal(t, []models.Protein{models.ProteinChicken, models.ProteinPork}, m.AvailableProteinsByMealTime["Lunch"])
	assert.Equal(t, []models.Protein{models.ProteinSeafood}, m.AvailableProteinsByMealTime["Dinner"])

	sg := m.Categories[models.CategoryNationality]["Lunch"][0]
	assert.InDelta(t, 0.4, sg.Probabilities[models.ProteinPork], 1e-9)
	assert.InDelta(t, 0.6, sg.Probabilities[models.ProteinChicken], 1e-9)
	assert.Zero(t, sg.Probabilities[models.ProteinSeafood])

	dinner := m.Categories[models.CategoryNationality]["Dinner"][0]
	assert.InDelta(t, 1.0, dinner.Probabilities[models.ProteinSeafood], 1e-9)

	age := m.Categories[models.CategoryAge]["Lunch"][0]
	assert.Equal(t, "young", age.Reasoning)
	assert.InDelta(t, 0.5, age.Probabilities[models.ProteinPork], 1e-9)

	dest := m.Categories[models.CategoryDestination]["Dinner"][0]
	assert.Equal(t, "SIN", dest.AirportCode)
	assert.InDelta(t, 1.0, dest.Probabilities[models.ProteinSeafood], 1e-9, "no offered protein has weight, so uniform")

	mealTime := m.Categories[models.CategoryMealTime]
	require.Len(t, mealTime["Lunch"], 1)
	assert.InDelta(t, 0.25, mealTime["Lunch"][0].Probabilities[models.ProteinPork], 1e-9)
	assert.Empty(t, mealTime["Dinner"])
	assert.NotContains(t, mealTime, "Breakfast")
}

func TestNeo4jSourceErrors(t *testing.T) {
	graph := seededGraph()
	graph.readErr = errors.New("connection refused")
	src := NewNeo4jSource(graph, nil)

	_, err := src.FetchMasterMetrics(context.Background(), testFlight, testDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	empty := seededGraph()
	delete(empty.reads, "(s:MealService")
	_, err = NewNeo4jSource(empty, nil).FetchMasterMetrics(context.Background(), testFlight, testDate)
	assert.True(t, errors.Is(err, ErrNoMealService))

	_, err = src.FetchMasterMetrics(context.Background(), "no route", testDate)
	assert.Error(t, err)
}
