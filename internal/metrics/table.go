package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// Table is the category × meal time × protein probability matrix of one session.
// Edits never normalize; a row may violate the 100% invariant between edits.
type Table struct {
	mealTimes []string
	segments  map[string]models.MealTimeSegment
	rows      map[models.Category]map[string][]models.Row
}

// NewTable builds a table from seed data. Rows are deep copied.
func NewTable(m *models.MasterMetrics) *Table {
	t := &Table{
		segments: make(map[string]models.MealTimeSegment),
		rows:     make(map[models.Category]map[string][]models.Row),
	}
	if m == nil {
		return t
	}

	for _, seg := range m.Segments {
		t.addSegment(seg)
	}
	// Availability lists without an explicit segment still define a meal time
	for mealTime, proteins := range m.AvailableProteinsByMealTime {
		if _, ok := t.segments[mealTime]; !ok {
			t.addSegment(models.MealTimeSegment{Name: mealTime, Proteins: proteins})
		}
	}
	models.SortMealTimes(t.mealTimes)

	for _, category := range models.Categories {
		t.Load(category, m.Categories[category])
	}
	return t
}

func (t *Table) addSegment(seg models.MealTimeSegment) {
	seg.Proteins = append([]models.Protein(nil), seg.Proteins...)
	if _, ok := t.segments[seg.Name]; !ok {
		t.mealTimes = append(t.mealTimes, seg.Name)
	}
	t.segments[seg.Name] = seg
}

// Load replaces every row of a category. Rows for unknown meal times are dropped.
func (t *Table) Load(category models.Category, byMealTime map[string][]models.Row) {
	loaded := make(map[string][]models.Row, len(byMealTime))
	for mealTime, rows := range byMealTime {
		if _, ok := t.segments[mealTime]; !ok {
			continue
		}
		copied := make([]models.Row, len(rows))
		for i, r := range rows {
			copied[i] = r.Clone()
			if copied[i].Probabilities == nil {
				copied[i].Probabilities = models.Distribution{}
			}
			if copied[i].MealTime == "" {
				copied[i].MealTime = mealTime
			}
		}
		loaded[mealTime] = copied
	}
	t.rows[category] = loaded
}

// MealTimes returns the meal times offered, in time-of-day order
func (t *Table) MealTimes() []string {
	return append([]string(nil), t.mealTimes...)
}

// Segments returns every meal time segment in order
func (t *Table) Segments() []models.MealTimeSegment {
	out := make([]models.MealTimeSegment, 0, len(t.mealTimes))
	for _, mt := range t.mealTimes {
		out = append(out, t.segments[mt])
	}
	return out
}

// Segment looks up a meal time segment
func (t *Table) Segment(mealTime string) (models.MealTimeSegment, bool) {
	seg, ok := t.segments[mealTime]
	return seg, ok
}

// Rows returns a copy of the rows of a category for one meal time
func (t *Table) Rows(category models.Category, mealTime string) []models.Row {
	rows := t.rows[category][mealTime]
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Row returns a snapshot of a single row
func (t *Table) Row(category models.Category, mealTime string, index int) (models.Row, error) {
	row, err := t.rowRef(category, mealTime, index)
	if err != nil {
		return models.Row{}, err
	}
	return row.Clone(), nil
}

func (t *Table) rowRef(category models.Category, mealTime string, index int) (*models.Row, error) {
	byMealTime, ok := t.rows[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if _, ok := t.segments[mealTime]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMealTime, mealTime)
	}
	rows := byMealTime[mealTime]
	if index < 0 || index >= len(rows) {
		return nil, fmt.Errorf("%w: %s/%s/%d", ErrRowNotFound, category, mealTime, index)
	}
	return &rows[index], nil
}

// SetCell overwrites one probability. value is a fraction between 0 and 1.
func (t *Table) SetCell(category models.Category, mealTime string, index int, protein models.Protein, value float64) error {
	row, err := t.rowRef(category, mealTime, index)
	if err != nil {
		return err
	}
	if !t.segments[mealTime].Offers(protein) {
		return fmt.Errorf("%w: %s at %s", ErrProteinUnavailable, protein, mealTime)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	row.Probabilities[protein] = value
	return nil
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	out := &Table{
		mealTimes: append([]string(nil), t.mealTimes...),
		segments:  make(map[string]models.MealTimeSegment, len(t.segments)),
		rows:      make(map[models.Category]map[string][]models.Row, len(t.rows)),
	}
	for name, seg := range t.segments {
		seg.Proteins = append([]models.Protein(nil), seg.Proteins...)
		out.segments[name] = seg
	}
	for category, byMealTime := range t.rows {
		out.Load(category, byMealTime)
	}
	return out
}

// Each visits every row in category, meal time, index order
func (t *Table) Each(fn func(category models.Category, mealTime string, index int, row models.Row)) {
	for _, category := range models.Categories {
		for _, mealTime := range t.mealTimes {
			for i, row := range t.rows[category][mealTime] {
				fn(category, mealTime, i, row)
			}
		}
	}
}

// RowCount returns the number of rows in the table
func (t *Table) RowCount() int {
	n := 0
	for _, byMealTime := range t.rows {
		for _, rows := range byMealTime {
			n += len(rows)
		}
	}
	return n
}

// ParsePercentInput converts operator input such as "30" or "12.5" into a fraction.
// Empty or non-numeric input counts as 0.
func ParsePercentInput(input string) float64 {
	input = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(input), "%"))
	if input == "" {
		return 0
	}
	v, err := strconv.ParseFloat(input, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v / 100
}
