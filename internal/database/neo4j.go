package database

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// Neo4jClient wraps the Neo4j driver with application-specific methods
type Neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// Config holds the Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string // typically "neo4j" for AuraDB
}

// NewNeo4jClient creates a new Neo4j client connection
func NewNeo4jClient(config Config, log *logger.Logger) (*Neo4jClient, error) {
	if log == nil {
		log = logger.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(config.URI, neo4j.BasicAuth(config.Username, config.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	log.Info("connected to Neo4j", "uri", config.URI, "database", config.Database)
	return &Neo4jClient{
		driver:   driver,
		database: config.Database,
		log:      log.With("service", "Neo4jClient"),
	}, nil
}

// Close closes the Neo4j driver connection
func (c *Neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// ExecuteWrite executes a write query (CREATE, MERGE, DELETE, etc.)
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, query string, params map[string]interface{}) error {
	_, err := c.ExecuteWriteWithResult(ctx, query, params)
	return err
}

// ExecuteWriteWithResult executes a write query and returns results
func (c *Neo4jClient) ExecuteWriteWithResult(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := neo4j.ExecuteQuery(
		ctx,
		c.driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithWritersRouting())

	if err != nil {
		return nil, fmt.Errorf("failed to execute write query: %w", err)
	}
	return recordsToMaps(result.Records), nil
}

// ExecuteRead executes a read query and processes results
func (c *Neo4jClient) ExecuteRead(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := neo4j.ExecuteQuery(
		ctx,
		c.driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())

	if err != nil {
		return nil, fmt.Errorf("failed to execute read query: %w", err)
	}
	return recordsToMaps(result.Records), nil
}

func recordsToMaps(records []*neo4j.Record) []map[string]interface{} {
	var results []map[string]interface{}
	for _, record := range records {
		recordMap := make(map[string]interface{}, len(record.Keys))
		for i, key := range record.Keys {
			recordMap[key] = record.Values[i]
		}
		results = append(results, recordMap)
	}
	return results
}

// Health checks the database connection health
func (c *Neo4jClient) Health(ctx context.Context) error {
	_, err := neo4j.ExecuteQuery(
		ctx,
		c.driver,
		"RETURN 1",
		nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
		neo4j.ExecuteQueryWithReadersRouting())

	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}
