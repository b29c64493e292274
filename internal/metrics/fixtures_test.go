package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

const (
	testFlight = "SQ 286 (AKL → SIN)"
	testDate   = "2025-03-10"
)

func testMasterMetrics() *models.MasterMetrics {
	lunch := []models.Protein{models.ProteinPork, models.ProteinChicken}
	dinner := models.Distribution{
		models.ProteinPork:       0.1,
		models.ProteinChicken:    0.3,
		models.ProteinBeef:       0.2,
		models.ProteinSeafood:    0.2,
		models.ProteinLamb:       0.1,
		models.ProteinVegetarian: 0.1,
	}
	half := models.Distribution{models.ProteinPork: 0.5, models.ProteinChicken: 0.5}

	return &models.MasterMetrics{
		FlightNumber: testFlight,
		FlightDate:   testDate,
		Weekday:      "Monday",
		Segments: []models.MealTimeSegment{
			{Name: "Dinner"},
			{Name: "Lunch", Proteins: lunch},
		},
		AvailableProteinsByMealTime: map[string][]models.Protein{
			"Lunch":  lunch,
			"Dinner": models.CanonicalProteins,
		},
		Categories: map[models.Category]map[string][]models.Row{
			models.CategoryNationality: {
				"Lunch": {
					{NationalityCode: "SG", DayOfWeek: "Monday", Probabilities: half.Clone()},
					{NationalityCode: "NZ", DayOfWeek: "Monday", Probabilities: half.Clone()},
				},
				"Dinner": {
					{NationalityCode: "SG", DayOfWeek: "Monday", Probabilities: dinner.Clone()},
				},
			},
			models.CategoryAge: {
				"Lunch": {
					{AgeGroup: "AgeGroup25", Probabilities: models.Distribution{models.ProteinPork: 0.4, models.ProteinChicken: 0.6}},
				},
			},
			models.CategoryDestination: {
				"Lunch": {
					{DestinationRegion: "Asia", AirportCode: "SIN", Probabilities: half.Clone()},
				},
			},
			models.CategoryMealTime: {
				"Lunch":  {{Probabilities: half.Clone()}},
				"Dinner": {{Probabilities: dinner.Clone()}},
			},
		},
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
	seed  func() *models.MasterMetrics
}

func (f *fakeSource) FetchMasterMetrics(ctx context.Context, flightNumber, flightDate string) (*models.MasterMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.seed != nil {
		return f.seed(), nil
	}
	return testMasterMetrics(), nil
}

type fakeMemory struct {
	mu        sync.Mutex
	inits     int
	initErr   error
	commitErr error
	commits   []models.ModifiedRow
	keys      []string
	deleted   []string
	// block, when set, holds CommitRowOverride until it is closed
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeMemory) InitializeSession(ctx context.Context, flightNumber, flightDate string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return "", f.initErr
	}
	return fmt.Sprintf("%s|%d", models.SessionKey(flightNumber, flightDate), f.inits), nil
}

func (f *fakeMemory) CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, row)
	f.keys = append(f.keys, sessionKey)
	return nil
}

func (f *fakeMemory) FetchModifiedRows(ctx context.Context, sessionKey string) ([]models.ModifiedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ModifiedRow
	for i, row := range f.commits {
		if f.keys[i] == sessionKey {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (f *fakeMemory) Delete(ctx context.Context, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionKey)
	return nil
}

func (f *fakeMemory) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeMemory) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

var errUnreachable = errors.New("connection refused")

func openTestSession(source *fakeSource, memory *fakeMemory) (*Session, error) {
	if source == nil {
		source = &fakeSource{}
	}
	cfg := SessionConfig{Source: source}
	if memory != nil {
		cfg.Memory = memory
	}
	s, err := OpenSession(context.Background(), cfg, testFlight, testDate)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}
