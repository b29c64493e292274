package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category identifies one of the four weighted prediction factors
type Category string

const (
	CategoryNationality Category = "nationality"
	CategoryAge         Category = "age"
	CategoryDestination Category = "destination"
	CategoryMealTime    Category = "mealtime"
)

// Categories lists every category in canonical order
var Categories = []Category{
	CategoryNationality,
	CategoryAge,
	CategoryDestination,
	CategoryMealTime,
}

// ParseCategory converts a user supplied name into a Category
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nationality":
		return CategoryNationality, true
	case "age":
		return CategoryAge, true
	case "destination":
		return CategoryDestination, true
	case "mealtime", "meal_time":
		return CategoryMealTime, true
	}
	return "", false
}

// Label returns the display name used in change summaries
func (c Category) Label() string {
	switch c {
	case CategoryNationality:
		return "Weekday-Adjusted Nationality"
	case CategoryAge:
		return "Age"
	case CategoryDestination:
		return "Destination"
	case CategoryMealTime:
		return "Meal Time"
	}
	return string(c)
}

// WeightBand is the inclusive range a category importance weight must stay in
type WeightBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the band
func (b WeightBand) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Band returns the allowed importance range for the category
func (c Category) Band() WeightBand {
	switch c {
	case CategoryNationality:
		return WeightBand{Min: 35, Max: 45}
	case CategoryAge:
		return WeightBand{Min: 15, Max: 25}
	case CategoryDestination:
		return WeightBand{Min: 20, Max: 30}
	case CategoryMealTime:
		return WeightBand{Min: 10, Max: 20}
	}
	return WeightBand{}
}

// Protein is a protein type a meal can be built around
type Protein string

const (
	ProteinPork       Protein = "Pork"
	ProteinChicken    Protein = "Chicken"
	ProteinBeef       Protein = "Beef"
	ProteinSeafood    Protein = "Seafood"
	ProteinLamb       Protein = "Lamb"
	ProteinVegetarian Protein = "Vegetarian"
)

// CanonicalProteins is the full protein set, used when a meal time has no availability list
var CanonicalProteins = []Protein{
	ProteinPork,
	ProteinChicken,
	ProteinBeef,
	ProteinSeafood,
	ProteinLamb,
	ProteinVegetarian,
}

// ParseProtein matches a protein name case-insensitively
func ParseProtein(s string) (Protein, bool) {
	s = strings.TrimSpace(s)
	for _, p := range CanonicalProteins {
		if strings.EqualFold(string(p), s) {
			return p, true
		}
	}
	return "", false
}

// Distribution maps each protein to a probability between 0 and 1
type Distribution map[Protein]float64

// Clone returns an independent copy of the distribution
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	for p, v := range d {
		out[p] = v
	}
	return out
}

// Restrict returns a copy holding only the given proteins
func (d Distribution) Restrict(proteins []Protein) Distribution {
	out := make(Distribution, len(proteins))
	for _, p := range proteins {
		out[p] = d[p]
	}
	return out
}

// MealTimeSegment is one meal service on a flight together with the proteins it offers
type MealTimeSegment struct {
	Name     string    `json:"name"`
	Proteins []Protein `json:"proteins"`
}

// AvailableProteins returns the proteins taking part in this segment's 100% invariant
func (s MealTimeSegment) AvailableProteins() []Protein {
	if len(s.Proteins) == 0 {
		return CanonicalProteins
	}
	return s.Proteins
}

// Offers reports whether the protein is served in this segment
func (s MealTimeSegment) Offers(p Protein) bool {
	for _, available := range s.AvailableProteins() {
		if available == p {
			return true
		}
	}
	return false
}

// Row is one entity's protein distribution within a category and meal time
type Row struct {
	NationalityCode   string       `json:"nationality_code,omitempty"`
	DayOfWeek         string       `json:"day_of_week,omitempty"`
	AgeGroup          string       `json:"age_group,omitempty"`
	DestinationRegion string       `json:"destination_region,omitempty"`
	AirportCode       string       `json:"airport_code,omitempty"`
	MealTime          string       `json:"meal_time"`
	Reasoning         string       `json:"reasoning,omitempty"`
	Probabilities     Distribution `json:"probabilities"`
}

// Clone returns a deep copy of the row
func (r Row) Clone() Row {
	r.Probabilities = r.Probabilities.Clone()
	return r
}

// Weights holds the importance percentage of each category
type Weights struct {
	Nationality float64 `json:"nationality_importance"`
	Age         float64 `json:"age_importance"`
	Destination float64 `json:"destination_importance"`
	MealTime    float64 `json:"mealtime_importance"`
}

// DefaultWeights returns the system default importance weights
func DefaultWeights() Weights {
	return Weights{
		Nationality: 40,
		Age:         20,
		Destination: 25,
		MealTime:    15,
	}
}

// Sum returns the total of all four weights
func (w Weights) Sum() float64 {
	return w.Nationality + w.Age + w.Destination + w.MealTime
}

// Get returns the weight of a single category
func (w Weights) Get(c Category) float64 {
	switch c {
	case CategoryNationality:
		return w.Nationality
	case CategoryAge:
		return w.Age
	case CategoryDestination:
		return w.Destination
	case CategoryMealTime:
		return w.MealTime
	}
	return 0
}

// MasterMetrics is the seed data for one flight and date
type MasterMetrics struct {
	FlightNumber                string                        `json:"flight_number"`
	FlightDate                  string                        `json:"flight_date"`
	Weekday                     string                        `json:"weekday"`
	Segments                    []MealTimeSegment             `json:"segments"`
	Categories                  map[Category]map[string][]Row `json:"categories"`
	AvailableProteinsByMealTime map[string][]Protein          `json:"available_proteins_by_mealtime"`
}

// ConfigurationPayload is what the prediction service receives: weights plus committed rows only
type ConfigurationPayload struct {
	SessionKey   string                               `json:"session_key"`
	FlightNumber string                               `json:"flight_number"`
	FlightDate   string                               `json:"flight_date"`
	Weights      Weights                              `json:"weights"`
	Overrides    map[Category]map[string]Distribution `json:"overrides"`
}

// OverrideCount returns how many committed rows the payload carries
func (p ConfigurationPayload) OverrideCount() int {
	n := 0
	for _, rows := range p.Overrides {
		n += len(rows)
	}
	return n
}

// MealPrediction is the predicted count for one protein at one meal time
type MealPrediction struct {
	MealTime      string  `json:"meal_time"`
	Protein       Protein `json:"protein"`
	Count         int     `json:"count"`
	OriginalCount *int    `json:"original_count,omitempty"`
}

// PredictionResult is returned by the external prediction service
type PredictionResult struct {
	FlightNumber        string              `json:"flight_number"`
	FlightDate          string              `json:"flight_date"`
	TotalPassengers     int                 `json:"total_passengers"`
	MealPredictions     []MealPrediction    `json:"meal_predictions"`
	ProteinDistribution map[Protein]float64 `json:"protein_distribution"`
	WorkflowCompleted   bool                `json:"workflow_completed"`
}

// ModifiedRow is a committed override as held by the session-memory service
type ModifiedRow struct {
	Category          Category          `json:"metric_type"`
	RowKey            string            `json:"row_key"`
	MealTime          string            `json:"meal_time"`
	Defaults          Distribution      `json:"default_probabilities"`
	Current           Distribution      `json:"current_probabilities"`
	AvailableProteins []Protein         `json:"available_proteins"`
	RowDetails        map[string]string `json:"row_details,omitempty"`
}

// Clone returns a deep copy of the modified row
func (m ModifiedRow) Clone() ModifiedRow {
	m.Defaults = m.Defaults.Clone()
	m.Current = m.Current.Clone()
	m.AvailableProteins = append([]Protein(nil), m.AvailableProteins...)
	if m.RowDetails != nil {
		details := make(map[string]string, len(m.RowDetails))
		for k, v := range m.RowDetails {
			details[k] = v
		}
		m.RowDetails = details
	}
	return m
}

// SortModifiedRows orders rows by category then row key
func SortModifiedRows(rows []ModifiedRow) {
	rank := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		rank[c] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rank[rows[i].Category] < rank[rows[j].Category]
		}
		return rows[i].RowKey < rows[j].RowKey
	})
}

// SessionKey derives the session identifier for a flight and date
func SessionKey(flightNumber, flightDate string) string {
	return fmt.Sprintf("%s|%s", flightNumber, flightDate)
}

// ParseFlightRoute extracts origin and destination from a label like "SQ 286 (AKL → SIN)"
func ParseFlightRoute(label string) (origin, destination string, err error) {
	open := strings.Index(label, "(")
	closing := strings.LastIndex(label, ")")
	if open < 0 || closing < open {
		return "", "", fmt.Errorf("invalid flight number format: %q", label)
	}
	parts := strings.Split(label[open+1:closing], "→")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid flight number format: %q", label)
	}
	origin = strings.TrimSpace(parts[0])
	destination = strings.TrimSpace(parts[1])
	if origin == "" || destination == "" {
		return "", "", fmt.Errorf("invalid flight number format: %q", label)
	}
	return origin, destination, nil
}

// RouteSegment returns the "ORIGIN DEST" segment string used by meal service data
func RouteSegment(label string) (string, error) {
	origin, destination, err := ParseFlightRoute(label)
	if err != nil {
		return "", err
	}
	return origin + " " + destination, nil
}

// Weekday returns the English weekday name for a YYYY-MM-DD date
func Weekday(flightDate string) (string, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(flightDate))
	if err != nil {
		return "", fmt.Errorf("invalid flight date %q: %w", flightDate, err)
	}
	return t.Weekday().String(), nil
}

var mealTimeOrder = map[string]int{
	"Breakfast": 0,
	"Brunch":    1,
	"Lunch":     2,
	"Snack":     3,
	"Dinner":    4,
	"Supper":    5,
}

// SortMealTimes orders meal times by time of day, unknown names last and alphabetically
func SortMealTimes(mealTimes []string) {
	sort.SliceStable(mealTimes, func(i, j int) bool {
		ri, okI := mealTimeOrder[mealTimes[i]]
		rj, okJ := mealTimeOrder[mealTimes[j]]
		switch {
		case okI && okJ:
			return ri < rj
		case okI != okJ:
			return okI
		}
		return mealTimes[i] < mealTimes[j]
	})
}
