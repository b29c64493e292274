package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// ProteinColumns are the probability columns shared by every defaults file
type ProteinColumns struct {
	Pork       float64 `csv:"Pork"`
	Chicken    float64 `csv:"Chicken"`
	Beef       float64 `csv:"Beef"`
	Seafood    float64 `csv:"Seafood"`
	Lamb       float64 `csv:"Lamb"`
	Vegetarian float64 `csv:"Vegetarian"`
}

func (p ProteinColumns) distribution() models.Distribution {
	return models.Distribution{
		models.ProteinPork:       p.Pork,
		models.ProteinChicken:    p.Chicken,
		models.ProteinBeef:       p.Beef,
		models.ProteinSeafood:    p.Seafood,
		models.ProteinLamb:       p.Lamb,
		models.ProteinVegetarian: p.Vegetarian,
	}
}

type nationalityRecord struct {
	NationalityCode string `csv:"nationality_code"`
	DayOfWeek       string `csv:"day_of_week"`
	Reasoning       string `csv:"reasoning"`
	ProteinColumns
}

type ageRecord struct {
	AgeGroup  string `csv:"age_group"`
	Reasoning string `csv:"reasoning"`
	ProteinColumns
}

type destinationRecord struct {
	DestinationRegion string `csv:"destination_region"`
	AirportCode       string `csv:"airport_code"`
	Reasoning         string `csv:"reasoning"`
	ProteinColumns
}

type mealTimeRecord struct {
	MealTime  string `csv:"meal_time"`
	Reasoning string `csv:"reasoning"`
	ProteinColumns
}

type mealServiceRecord struct {
	Segment       string `csv:"segment"`
	DepartureDate string `csv:"segment_local_departure_date"`
	MealTime      string `csv:"meal_time"`
	CabinClass    string `csv:"cabin_class"`
	MealName      string `csv:"meal_name"`
	MealPref      string `csv:"meal_pref"`
}

// FileSource reads master metrics straight from the CSV exports in a directory
type FileSource struct {
	dir string
	log *logger.Logger
}

// NewFileSource creates a master metrics source over a CSV directory
func NewFileSource(dir string, log *logger.Logger) (*FileSource, error) {
	if log == nil {
		log = logger.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path %s is not a directory", dir)
	}
	return &FileSource{dir: dir, log: log.With("service", "FileSource")}, nil
}

func readCSV(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FetchMasterMetrics reads the files fresh on every call, so edited exports take effect on reload
func (s *FileSource) FetchMasterMetrics(ctx context.Context, flightNumber, flightDate string) (*models.MasterMetrics, error) {
	weekday, err := models.Weekday(flightDate)
	if err != nil {
		return nil, err
	}
	segment, err := models.RouteSegment(flightNumber)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	availability, err := s.availability(segment, flightDate)
	if err != nil {
		return nil, err
	}
	if len(availability) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoMealService, segment, flightDate)
	}

	rows, err := s.defaults()
	if err != nil {
		return nil, err
	}
	return assembleMasterMetrics(flightNumber, flightDate, weekday, availability, rows), nil
}

func (s *FileSource) availability(segment, flightDate string) (map[string][]models.Protein, error) {
	var records []*mealServiceRecord
	if err := readCSV(filepath.Join(s.dir, MealServiceFile), &records); err != nil {
		return nil, err
	}

	var offerings []mealOffering
	for _, r := range records {
		if strings.TrimSpace(r.Segment) != segment {
			continue
		}
		date, ok := parseDepartureDate(r.DepartureDate)
		if !ok || date != flightDate {
			continue
		}
		offerings = append(offerings, mealOffering{
			MealTime:   strings.TrimSpace(r.MealTime),
			CabinClass: r.CabinClass,
			Protein:    r.MealPref,
		})
	}
	return availabilityFromOfferings(offerings), nil
}

// defaults loads the four category files; a missing file yields no rows for that category
func (s *FileSource) defaults() (defaultRows, error) {
	var rows defaultRows

	var nationality []*nationalityRecord
	if err := s.readOptional(NationalityFile, &nationality); err != nil {
		return rows, err
	}
	for _, r := range nationality {
		rows.nationality = append(rows.nationality, models.Row{
			NationalityCode: r.NationalityCode,
			DayOfWeek:       r.DayOfWeek,
			Reasoning:       r.Reasoning,
			Probabilities:   r.distribution(),
		})
	}

	var age []*ageRecord
	if err := s.readOptional(AgeFile, &age); err != nil {
		return rows, err
	}
	for _, r := range age {
		rows.age = append(rows.age, models.Row{
			AgeGroup:      r.AgeGroup,
			Reasoning:     r.Reasoning,
			Probabilities: r.distribution(),
		})
	}

	var destination []*destinationRecord
	if err := s.readOptional(DestinationFile, &destination); err != nil {
		return rows, err
	}
	for _, r := range destination {
		rows.destination = append(rows.destination, models.Row{
			DestinationRegion: r.DestinationRegion,
			AirportCode:       r.AirportCode,
			Reasoning:         r.Reasoning,
			Probabilities:     r.distribution(),
		})
	}

	var mealTime []*mealTimeRecord
	if err := s.readOptional(MealTimeFile, &mealTime); err != nil {
		return rows, err
	}
	for _, r := range mealTime {
		rows.mealTime = append(rows.mealTime, models.Row{
			MealTime:      r.MealTime,
			Reasoning:     r.Reasoning,
			Probabilities: r.distribution(),
		})
	}
	return rows, nil
}

func (s *FileSource) readOptional(name string, out interface{}) error {
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.log.Warn("defaults file missing", "file", name)
		return nil
	}
	return readCSV(path, out)
}
