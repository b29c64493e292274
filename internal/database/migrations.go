package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// Graph is the subset of Neo4jClient used by the importer and the graph source
type Graph interface {
	ExecuteRead(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)
	ExecuteWrite(ctx context.Context, query string, params map[string]interface{}) error
	ExecuteWriteWithResult(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// CSV file names shared by the importer and the file source
const (
	NationalityFile = "Nationality.csv"
	AgeFile         = "Age.csv"
	DestinationFile = "Destination.csv"
	MealTimeFile    = "MealTime.csv"
	MealServiceFile = "meal_df_new.csv"
)

// CSVImporter loads the default distribution CSVs into Neo4j
type CSVImporter struct {
	client Graph
	log    *logger.Logger
}

// NewCSVImporter creates a new CSV importer
func NewCSVImporter(client Graph, log *logger.Logger) *CSVImporter {
	if log == nil {
		log = logger.NewNop()
	}
	return &CSVImporter{client: client, log: log.With("service", "CSVImporter")}
}

func proteinNames() []string {
	names := make([]string, len(models.CanonicalProteins))
	for i, p := range models.CanonicalProteins {
		names[i] = string(p)
	}
	return names
}

func csvURL(baseURL, file string) string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(baseURL, "/"), file)
}

// ImportAllData imports all CSV files in the correct order
func (i *CSVImporter) ImportAllData(ctx context.Context, baseURL string) error {
	if strings.TrimSpace(baseURL) == "" {
		return fmt.Errorf("csv base url required")
	}
	i.log.Info("starting CSV import", "base_url", baseURL)

	if err := i.clearMetrics(ctx); err != nil {
		return fmt.Errorf("failed to clear metrics: %w", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"proteins", i.ImportProteins},
		{"nationality", i.ImportNationality},
		{"age", i.ImportAge},
		{"destination", i.ImportDestination},
		{"mealtime", i.ImportMealTime},
		{"meal_service", i.ImportMealService},
	}

	for _, step := range steps {
		i.log.Info("importing", "step", step.name)
		if err := step.fn(ctx, baseURL); err != nil {
			return fmt.Errorf("failed to import %s: %w", step.name, err)
		}
	}

	i.log.Info("CSV import completed")
	return nil
}

func (i *CSVImporter) run(ctx context.Context, step, query string, params map[string]interface{}) error {
	results, err := i.client.ExecuteWriteWithResult(ctx, query, params)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		i.log.Info("imported", "step", step, "count", results[0]["imported"])
	}
	return nil
}

// ImportProteins creates the canonical protein nodes
func (i *CSVImporter) ImportProteins(ctx context.Context, baseURL string) error {
	query := `
		UNWIND $proteins AS name
		MERGE (p:Protein {name: name})
		RETURN count(p) AS imported
	`
	return i.run(ctx, "proteins", query, map[string]interface{}{"proteins": proteinNames()})
}

// ImportNationality imports weekday-adjusted nationality preferences
func (i *CSVImporter) ImportNationality(ctx context.Context, baseURL string) error {
	query := `
		LOAD CSV WITH HEADERS FROM $csvURL AS row
		WITH row WHERE row.nationality_code IS NOT NULL AND row.day_of_week IS NOT NULL
		MERGE (n:Nationality {code: row.nationality_code, day_of_week: row.day_of_week})
		SET n.reasoning = row.reasoning
		WITH n, row
		UNWIND $proteins AS protein
		MATCH (p:Protein {name: protein})
		MERGE (n)-[r:PREFERS]->(p)
		SET r.probability = coalesce(toFloat(row[protein]), 0.0)
		RETURN count(DISTINCT n) AS imported
	`
	return i.run(ctx, "nationality", query, map[string]interface{}{
		"csvURL":   csvURL(baseURL, NationalityFile),
		"proteins": proteinNames(),
	})
}

// ImportAge imports age group preferences
func (i *CSVImporter) ImportAge(ctx context.Context, baseURL string) error {
	query := `
		LOAD CSV WITH HEADERS FROM $csvURL AS row
		WITH row WHERE row.age_group IS NOT NULL
		MERGE (a:AgeGroup {name: row.age_group})
		SET a.reasoning = row.reasoning
		WITH a, row
		UNWIND $proteins AS protein
		MATCH (p:Protein {name: protein})
		MERGE (a)-[r:PREFERS]->(p)
		SET r.probability = coalesce(toFloat(row[protein]), 0.0)
		RETURN count(DISTINCT a) AS imported
	`
	return i.run(ctx, "age", query, map[string]interface{}{
		"csvURL":   csvURL(baseURL, AgeFile),
		"proteins": proteinNames(),
	})
}

// ImportDestination imports destination preferences, one node per airport
func (i *CSVImporter) ImportDestination(ctx context.Context, baseURL string) error {
	query := `
		LOAD CSV WITH HEADERS FROM $csvURL AS row
		WITH row WHERE row.destination_region IS NOT NULL
		MERGE (d:Destination {region: row.destination_region, airport_code: coalesce(row.airport_code, '')})
		SET d.reasoning = row.reasoning
		WITH d, row
		UNWIND $proteins AS protein
		MATCH (p:Protein {name: protein})
		MERGE (d)-[r:PREFERS]->(p)
		SET r.probability = coalesce(toFloat(row[protein]), 0.0)
		RETURN count(DISTINCT d) AS imported
	`
	return i.run(ctx, "destination", query, map[string]interface{}{
		"csvURL":   csvURL(baseURL, DestinationFile),
		"proteins": proteinNames(),
	})
}

// ImportMealTime imports time-of-day preferences
func (i *CSVImporter) ImportMealTime(ctx context.Context, baseURL string) error {
	query := `
		LOAD CSV WITH HEADERS FROM $csvURL AS row
		WITH row WHERE row.meal_time IS NOT NULL
		MERGE (m:MealTime {name: row.meal_time})
		SET m.reasoning = row.reasoning
		WITH m, row
		UNWIND $proteins AS protein
		MATCH (p:Protein {name: protein})
		MERGE (m)-[r:PREFERS]->(p)
		SET r.probability = coalesce(toFloat(row[protein]), 0.0)
		RETURN count(DISTINCT m) AS imported
	`
	return i.run(ctx, "mealtime", query, map[string]interface{}{
		"csvURL":   csvURL(baseURL, MealTimeFile),
		"proteins": proteinNames(),
	})
}

// ImportMealService imports the scheduled meal services and the protein each one offers.
// Departure dates are stored as their first ten characters, so the file must use ISO dates.
func (i *CSVImporter) ImportMealService(ctx context.Context, baseURL string) error {
	query := `
		LOAD CSV WITH HEADERS FROM $csvURL AS row
		WITH row WHERE row.segment IS NOT NULL AND row.meal_pref IS NOT NULL
		MERGE (s:MealService {
			segment: row.segment,
			date: left(row.segment_local_departure_date, 10),
			meal_time: row.meal_time,
			cabin_class: row.cabin_class
		})
		WITH s, row
		MATCH (p:Protein {name: row.meal_pref})
		MERGE (s)-[o:OFFERS]->(p)
		SET o.meal_name = row.meal_name
		RETURN count(DISTINCT s) AS imported
	`
	return i.run(ctx, "meal_service", query, map[string]interface{}{
		"csvURL": csvURL(baseURL, MealServiceFile),
	})
}

// clearMetrics removes previously imported metric nodes
func (i *CSVImporter) clearMetrics(ctx context.Context) error {
	query := `
		MATCH (n)
		WHERE n:Nationality OR n:AgeGroup OR n:Destination OR n:MealTime OR n:MealService
		DETACH DELETE n
	`
	i.log.Info("clearing existing metrics")
	return i.client.ExecuteWrite(ctx, query, nil)
}

// GetImportStatus returns how many metric nodes the graph holds
func (i *CSVImporter) GetImportStatus(ctx context.Context) (map[string]int, error) {
	query := `
		OPTIONAL MATCH (n:Nationality) WITH count(n) AS nationality
		OPTIONAL MATCH (a:AgeGroup) WITH nationality, count(a) AS age
		OPTIONAL MATCH (d:Destination) WITH nationality, age, count(d) AS destination
		OPTIONAL MATCH (m:MealTime) WITH nationality, age, destination, count(m) AS mealtime
		OPTIONAL MATCH (s:MealService) WITH nationality, age, destination, mealtime, count(s) AS meal_service
		RETURN nationality, age, destination, mealtime, meal_service
	`

	results, err := i.client.ExecuteRead(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	keys := []string{"nationality", "age", "destination", "mealtime", "meal_service"}
	status := make(map[string]int, len(keys))
	for _, key := range keys {
		status[key] = 0
		if len(results) > 0 {
			if n, ok := results[0][key].(int64); ok {
				status[key] = int(n)
			}
		}
	}
	return status, nil
}
