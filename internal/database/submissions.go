package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// Submission is one configuration sent to the prediction service, with its result
type Submission struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionKey    string         `gorm:"index;not null" json:"session_key"`
	FlightNumber  string         `gorm:"index;not null" json:"flight_number"`
	FlightDate    string         `gorm:"not null" json:"flight_date"`
	Weights       datatypes.JSON `json:"weights"`
	Payload       datatypes.JSON `json:"payload"`
	Result        datatypes.JSON `json:"result"`
	OverrideCount int            `json:"override_count"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an ID when the caller did not
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SubmissionStore archives successful submissions
type SubmissionStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// OpenSubmissionStore connects to Postgres for postgres:// DSNs and to SQLite otherwise
func OpenSubmissionStore(dsn string, log *logger.Logger) (*SubmissionStore, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("submissions dsn required")
	}

	var dialector gorm.Dialector
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
		driver = "postgres"
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open submissions database: %w", err)
	}
	return NewSubmissionStore(db, log.With("driver", driver))
}

// NewSubmissionStore wraps an open gorm handle and migrates the schema
func NewSubmissionStore(db *gorm.DB, log *logger.Logger) (*SubmissionStore, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := db.AutoMigrate(&Submission{}); err != nil {
		return nil, fmt.Errorf("failed to migrate submissions schema: %w", err)
	}
	return &SubmissionStore{db: db, log: log.With("service", "SubmissionStore")}, nil
}

// Record stores a payload together with the prediction it produced
func (s *SubmissionStore) Record(ctx context.Context, payload models.ConfigurationPayload, result *models.PredictionResult) error {
	weights, err := json.Marshal(payload.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	submission := &Submission{
		SessionKey:    payload.SessionKey,
		FlightNumber:  payload.FlightNumber,
		FlightDate:    payload.FlightDate,
		Weights:       datatypes.JSON(weights),
		Payload:       datatypes.JSON(body),
		Result:        datatypes.JSON(out),
		OverrideCount: payload.OverrideCount(),
	}
	if err := s.db.WithContext(ctx).Create(submission).Error; err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	s.log.Info("submission archived", "id", submission.ID, "session", payload.SessionKey, "overrides", submission.OverrideCount)
	return nil
}

// List returns the newest submissions first, optionally for one flight
func (s *SubmissionStore) List(ctx context.Context, flightNumber string, limit int) ([]Submission, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if flightNumber != "" {
		q = q.Where("flight_number = ?", flightNumber)
	}

	var submissions []Submission
	if err := q.Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return submissions, nil
}

// Health pings the underlying database
func (s *SubmissionStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (s *SubmissionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
