package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrPredictorUnconfigured = errors.New("prediction service not configured")
)

// Predictor runs the external meal prediction for a configuration payload
type Predictor interface {
	RunPrediction(ctx context.Context, payload models.ConfigurationPayload) (*models.PredictionResult, error)
}

// SubmissionArchive records successful submissions
type SubmissionArchive interface {
	Record(ctx context.Context, payload models.ConfigurationPayload, result *models.PredictionResult) error
}

// Config holds the collaborators of MasterMetricsService
type Config struct {
	Source    metrics.MasterMetricsSource
	Memory    metrics.SessionMemory
	Predictor Predictor
	Archive   SubmissionArchive
	Logger    *logger.Logger
}

// MasterMetricsService is the operator surface over the live configuration sessions
type MasterMetricsService struct {
	source    metrics.MasterMetricsSource
	memory    metrics.SessionMemory
	predictor Predictor
	archive   SubmissionArchive
	log       *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*metrics.Session
}

// NewMasterMetricsService creates a new master metrics service
func NewMasterMetricsService(cfg Config) *MasterMetricsService {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &MasterMetricsService{
		source:    cfg.Source,
		memory:    cfg.Memory,
		predictor: cfg.Predictor,
		archive:   cfg.Archive,
		log:       log.With("service", "MasterMetricsService"),
		sessions:  make(map[string]*metrics.Session),
	}
}

// StartSession opens a session for a flight and date. Selecting the same flight and
// date again replaces the previous session.
func (s *MasterMetricsService) StartSession(ctx context.Context, flightNumber, flightDate string) (metrics.SessionView, error) {
	flightNumber = strings.TrimSpace(flightNumber)
	flightDate = strings.TrimSpace(flightDate)
	if flightNumber == "" || flightDate == "" {
		return metrics.SessionView{}, fmt.Errorf("flight number and date are required")
	}

	session, err := metrics.OpenSession(ctx, metrics.SessionConfig{
		Source: s.source,
		Memory: s.memory,
		Logger: s.log,
	}, flightNumber, flightDate)
	if err != nil {
		return metrics.SessionView{}, fmt.Errorf("failed to start session: %w", err)
	}

	s.mu.Lock()
	previous := s.sessions[session.Key()]
	s.sessions[session.Key()] = session
	s.mu.Unlock()

	if previous != nil {
		previous.Close(ctx)
		s.log.Info("replaced existing session", "session", session.Key())
	}
	return session.View(), nil
}

func (s *MasterMetricsService) lookup(key string) (*metrics.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return session, nil
}

// View returns a snapshot of a session
func (s *MasterMetricsService) View(key string) (metrics.SessionView, error) {
	session, err := s.lookup(key)
	if err != nil {
		return metrics.SessionView{}, err
	}
	return session.View(), nil
}

// LoadCategory reloads one category's rows from the source
func (s *MasterMetricsService) LoadCategory(ctx context.Context, key string, category models.Category) error {
	session, err := s.lookup(key)
	if err != nil {
		return err
	}
	if err := session.ReloadCategory(ctx, category); err != nil {
		return fmt.Errorf("failed to load category %s: %w", category, err)
	}
	return nil
}

// EditCell applies operator input to one protein of one row
func (s *MasterMetricsService) EditCell(key string, category models.Category, mealTime string, index int, protein models.Protein, input string) (metrics.RowStatus, metrics.Balance, error) {
	session, err := s.lookup(key)
	if err != nil {
		return "", metrics.Balance{}, err
	}
	return session.EditCell(category, mealTime, index, protein, input)
}

// CommitRow validates a row and saves it as an override
func (s *MasterMetricsService) CommitRow(ctx context.Context, key string, category models.Category, mealTime string, index int) (metrics.RowStatus, error) {
	session, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	return session.Commit(ctx, category, mealTime, index)
}

// ResetAll discards every override and reloads the defaults
func (s *MasterMetricsService) ResetAll(ctx context.Context, key string) (metrics.SessionView, error) {
	session, err := s.lookup(key)
	if err != nil {
		return metrics.SessionView{}, err
	}
	if err := session.Reset(ctx); err != nil {
		return metrics.SessionView{}, fmt.Errorf("failed to reset session: %w", err)
	}
	return session.View(), nil
}

// SetWeights replaces the category importance weights of a session
func (s *MasterMetricsService) SetWeights(key string, weights models.Weights) error {
	session, err := s.lookup(key)
	if err != nil {
		return err
	}
	return session.SetWeights(weights)
}

// Validate runs the change detector over a session
func (s *MasterMetricsService) Validate(key string) (metrics.ValidationReport, error) {
	session, err := s.lookup(key)
	if err != nil {
		return metrics.ValidationReport{}, err
	}
	return session.Validate(), nil
}

// BuildAndSubmit validates the session, builds the payload and runs the prediction.
// A failed prediction leaves the session untouched, so resubmitting is always safe.
func (s *MasterMetricsService) BuildAndSubmit(ctx context.Context, key string) (*models.PredictionResult, error) {
	session, err := s.lookup(key)
	if err != nil {
		return nil, err
	}

	if err := session.Validate().Err(); err != nil {
		return nil, err
	}
	generation := session.Generation()
	payload, err := session.Payload()
	if err != nil {
		return nil, err
	}

	if s.predictor == nil {
		return nil, &metrics.SubmissionError{Err: ErrPredictorUnconfigured}
	}

	s.log.Info("submitting configuration",
		"session", key,
		"overrides", payload.OverrideCount(),
		"weights", payload.Weights)

	start := time.Now()
	result, err := s.predictor.RunPrediction(ctx, payload)
	if err != nil {
		s.log.Error("prediction failed", "session", key, "error", err)
		return nil, &metrics.SubmissionError{Err: err}
	}
	if session.Closed() || session.Generation() != generation {
		s.log.Info("discarding prediction for replaced session", "session", key)
		return nil, metrics.ErrStaleSession
	}

	s.log.Info("prediction completed",
		"session", key,
		"total_passengers", result.TotalPassengers,
		"meal_predictions", len(result.MealPredictions),
		"elapsed", time.Since(start))

	if s.archive != nil {
		if err := s.archive.Record(ctx, payload, result); err != nil {
			s.log.Warn("failed to archive submission", "session", key, "error", err)
		}
	}
	return result, nil
}

// ModifiedRows lists the committed rows held by the session
func (s *MasterMetricsService) ModifiedRows(key string) ([]models.ModifiedRow, error) {
	session, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return session.Overrides().List(), nil
}

// RemoteModifiedRows lists the committed rows as stored by session memory
func (s *MasterMetricsService) RemoteModifiedRows(ctx context.Context, key string) ([]models.ModifiedRow, error) {
	session, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return session.RemoteModifiedRows(ctx)
}

// Subscribe streams change events of a session until it closes or the caller cancels
func (s *MasterMetricsService) Subscribe(key string, buffer int) (<-chan metrics.ChangeEvent, func(), error) {
	session, err := s.lookup(key)
	if err != nil {
		return nil, nil, err
	}
	events, cancel := session.Subscribe(buffer)
	return events, cancel, nil
}

// CloseSession ends a session, clears its session memory and forgets it
func (s *MasterMetricsService) CloseSession(ctx context.Context, key string) error {
	s.mu.Lock()
	session, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	session.Close(ctx)
	return nil
}

// SweepIdle closes sessions with no activity for longer than maxIdle and returns how many
func (s *MasterMetricsService) SweepIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*metrics.Session
	for key, session := range s.sessions {
		if session.LastActive().Before(cutoff) {
			idle = append(idle, session)
			delete(s.sessions, key)
		}
	}
	s.mu.Unlock()

	for _, session := range idle {
		session.Close(ctx)
	}
	if len(idle) > 0 {
		s.log.Info("closed idle sessions", "count", len(idle), "max_idle", maxIdle)
	}
	return len(idle)
}

// SessionCount returns the number of live sessions
func (s *MasterMetricsService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
