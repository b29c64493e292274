package database

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
)

// ErrNoMealService is returned when no meal is scheduled for the flight and date
var ErrNoMealService = errors.New("no meal service found for flight and date")

// Cabin classes consulted for protein availability, in order of preference
const (
	primaryCabin  = "Y"
	fallbackCabin = "S"
)

// mealOffering is one scheduled meal of a flight
type mealOffering struct {
	MealTime   string
	CabinClass string
	Protein    string
}

// availabilityFromOfferings groups offerings by meal time. Economy is used when the meal
// time has any economy offering, otherwise premium economy. Proteins are sorted by name.
func availabilityFromOfferings(offerings []mealOffering) map[string][]models.Protein {
	byCabin := make(map[string]map[string]map[models.Protein]bool)
	for _, o := range offerings {
		protein, ok := models.ParseProtein(o.Protein)
		if !ok || o.MealTime == "" {
			continue
		}
		cabins, ok := byCabin[o.MealTime]
		if !ok {
			cabins = make(map[string]map[models.Protein]bool)
			byCabin[o.MealTime] = cabins
		}
		cabin := strings.ToUpper(strings.TrimSpace(o.CabinClass))
		if cabins[cabin] == nil {
			cabins[cabin] = make(map[models.Protein]bool)
		}
		cabins[cabin][protein] = true
	}

	out := make(map[string][]models.Protein, len(byCabin))
	for mealTime, cabins := range byCabin {
		chosen := cabins[primaryCabin]
		if len(chosen) == 0 {
			chosen = cabins[fallbackCabin]
		}
		if len(chosen) == 0 {
			continue
		}
		proteins := make([]models.Protein, 0, len(chosen))
		for p := range chosen {
			proteins = append(proteins, p)
		}
		sort.Slice(proteins, func(i, j int) bool { return proteins[i] < proteins[j] })
		out[mealTime] = proteins
	}
	return out
}

// defaultRows holds the per-entity default distributions before they are fanned out by meal time
type defaultRows struct {
	nationality []models.Row
	age         []models.Row
	destination []models.Row
	mealTime    []models.Row
}

// assembleMasterMetrics builds the seed data for a flight. Nationality, age and destination rows
// are repeated for every meal time; meal time rows only for their own meal time. Each copy is
// normalized over the proteins its meal time offers.
func assembleMasterMetrics(flightNumber, flightDate, weekday string, availability map[string][]models.Protein, rows defaultRows) *models.MasterMetrics {
	mealTimes := make([]string, 0, len(availability))
	for mealTime := range availability {
		mealTimes = append(mealTimes, mealTime)
	}
	models.SortMealTimes(mealTimes)

	m := &models.MasterMetrics{
		FlightNumber:                flightNumber,
		FlightDate:                  flightDate,
		Weekday:                     weekday,
		Segments:                    make([]models.MealTimeSegment, 0, len(mealTimes)),
		Categories:                  make(map[models.Category]map[string][]models.Row, len(models.Categories)),
		AvailableProteinsByMealTime: make(map[string][]models.Protein, len(mealTimes)),
	}
	for _, c := range models.Categories {
		m.Categories[c] = make(map[string][]models.Row)
	}

	for _, mealTime := range mealTimes {
		proteins := append([]models.Protein(nil), availability[mealTime]...)
		m.Segments = append(m.Segments, models.MealTimeSegment{Name: mealTime, Proteins: proteins})
		m.AvailableProteinsByMealTime[mealTime] = proteins

		fanOut := func(src []models.Row) []models.Row {
			out := make([]models.Row, 0, len(src))
			for _, r := range src {
				row := r.Clone()
				row.MealTime = mealTime
				row.Probabilities = metrics.NormalizeForProteins(r.Probabilities, proteins)
				out = append(out, row)
			}
			return out
		}

		m.Categories[models.CategoryNationality][mealTime] = fanOut(rows.nationality)
		m.Categories[models.CategoryAge][mealTime] = fanOut(rows.age)
		m.Categories[models.CategoryDestination][mealTime] = fanOut(rows.destination)

		for _, r := range rows.mealTime {
			if r.MealTime == mealTime {
				m.Categories[models.CategoryMealTime][mealTime] = fanOut([]models.Row{r})
				break
			}
		}
	}
	return m
}

// departureDateLayouts are the date formats seen in meal service exports
var departureDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
}

// parseDepartureDate returns the calendar date of a departure timestamp as YYYY-MM-DD
func parseDepartureDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, layout := range departureDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
