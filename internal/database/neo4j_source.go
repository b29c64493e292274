package database

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// Neo4jSource reads master metrics from the graph written by CSVImporter
type Neo4jSource struct {
	client Graph
	log    *logger.Logger
}

// NewNeo4jSource creates a master metrics source backed by Neo4j
func NewNeo4jSource(client Graph, log *logger.Logger) *Neo4jSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &Neo4jSource{client: client, log: log.With("service", "Neo4jSource")}
}

// FetchMasterMetrics loads availability and the four default categories concurrently
func (s *Neo4jSource) FetchMasterMetrics(ctx context.Context, flightNumber, flightDate string) (*models.MasterMetrics, error) {
	weekday, err := models.Weekday(flightDate)
	if err != nil {
		return nil, err
	}
	segment, err := models.RouteSegment(flightNumber)
	if err != nil {
		return nil, err
	}

	var (
		availability map[string][]models.Protein
		rows         defaultRows
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		availability, err = s.availability(gctx, segment, flightDate)
		return err
	})
	g.Go(func() error {
		var err error
		rows.nationality, err = s.categoryRows(gctx, nationalityQuery, nationalityRow)
		return err
	})
	g.Go(func() error {
		var err error
		rows.age, err = s.categoryRows(gctx, ageQuery, ageRow)
		return err
	})
	g.Go(func() error {
		var err error
		rows.destination, err = s.categoryRows(gctx, destinationQuery, destinationRow)
		return err
	})
	g.Go(func() error {
		var err error
		rows.mealTime, err = s.categoryRows(gctx, mealTimeQuery, mealTimeRow)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(availability) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoMealService, segment, flightDate)
	}

	s.log.Debug("master metrics loaded",
		"flight", flightNumber,
		"date", flightDate,
		"meal_times", len(availability),
		"nationality", len(rows.nationality),
		"age", len(rows.age),
		"destination", len(rows.destination))
	return assembleMasterMetrics(flightNumber, flightDate, weekday, availability, rows), nil
}

func (s *Neo4jSource) availability(ctx context.Context, segment, flightDate string) (map[string][]models.Protein, error) {
	query := `
		MATCH (s:MealService {segment: $segment, date: $date})-[:OFFERS]->(p:Protein)
		RETURN s.meal_time AS meal_time, s.cabin_class AS cabin_class, p.name AS protein
	`
	results, err := s.client.ExecuteRead(ctx, query, map[string]interface{}{
		"segment": segment,
		"date":    flightDate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load meal services: %w", err)
	}

	offerings := make([]mealOffering, 0, len(results))
	for _, r := range results {
		offerings = append(offerings, mealOffering{
			MealTime:   stringValue(r["meal_time"]),
			CabinClass: stringValue(r["cabin_class"]),
			Protein:    stringValue(r["protein"]),
		})
	}
	return availabilityFromOfferings(offerings), nil
}

const (
	nationalityQuery = `
		MATCH (n:Nationality)-[r:PREFERS]->(p:Protein)
		RETURN n.code AS nationality_code, n.day_of_week AS day_of_week, n.reasoning AS reasoning,
		       collect({protein: p.name, probability: r.probability}) AS probabilities
		ORDER BY nationality_code, day_of_week
	`
	ageQuery = `
		MATCH (a:AgeGroup)-[r:PREFERS]->(p:Protein)
		RETURN a.name AS age_group, a.reasoning AS reasoning,
		       collect({protein: p.name, probability: r.probability}) AS probabilities
		ORDER BY age_group
	`
	destinationQuery = `
		MATCH (d:Destination)-[r:PREFERS]->(p:Protein)
		RETURN d.region AS destination_region, d.airport_code AS airport_code, d.reasoning AS reasoning,
		       collect({protein: p.name, probability: r.probability}) AS probabilities
		ORDER BY destination_region, airport_code
	`
	mealTimeQuery = `
		MATCH (m:MealTime)-[r:PREFERS]->(p:Protein)
		RETURN m.name AS meal_time, m.reasoning AS reasoning,
		       collect({protein: p.name, probability: r.probability}) AS probabilities
		ORDER BY meal_time
	`
)

func nationalityRow(r map[string]interface{}) models.Row {
	return models.Row{
		NationalityCode: stringValue(r["nationality_code"]),
		DayOfWeek:       stringValue(r["day_of_week"]),
		Reasoning:       stringValue(r["reasoning"]),
	}
}

func ageRow(r map[string]interface{}) models.Row {
	return models.Row{
		AgeGroup:  stringValue(r["age_group"]),
		Reasoning: stringValue(r["reasoning"]),
	}
}

func destinationRow(r map[string]interface{}) models.Row {
	return models.Row{
		DestinationRegion: stringValue(r["destination_region"]),
		AirportCode:       stringValue(r["airport_code"]),
		Reasoning:         stringValue(r["reasoning"]),
	}
}

func mealTimeRow(r map[string]interface{}) models.Row {
	return models.Row{
		MealTime:  stringValue(r["meal_time"]),
		Reasoning: stringValue(r["reasoning"]),
	}
}

func (s *Neo4jSource) categoryRows(ctx context.Context, query string, build func(map[string]interface{}) models.Row) ([]models.Row, error) {
	results, err := s.client.ExecuteRead(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load default distributions: %w", err)
	}

	rows := make([]models.Row, 0, len(results))
	for _, r := range results {
		row := build(r)
		row.Probabilities = distributionValue(r["probabilities"])
		rows = append(rows, row)
	}
	return rows, nil
}

// distributionValue converts a collected list of {protein, probability} maps
func distributionValue(v interface{}) models.Distribution {
	d := make(models.Distribution)
	items, ok := v.([]interface{})
	if !ok {
		return d
	}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		protein, ok := models.ParseProtein(stringValue(m["protein"]))
		if !ok {
			continue
		}
		d[protein] = floatValue(m["probability"])
	}
	return d
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func floatValue(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}
