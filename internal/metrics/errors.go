package metrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

var (
	ErrUnknownCategory    = errors.New("unknown category")
	ErrUnknownMealTime    = errors.New("unknown meal time")
	ErrUnknownProtein     = errors.New("unknown protein")
	ErrProteinUnavailable = errors.New("protein not served at this meal time")
	ErrRowNotFound        = errors.New("row not found")
	ErrCommitInProgress   = errors.New("commit already in progress for this row")
	ErrSessionClosed      = errors.New("session closed")
	ErrStaleSession       = errors.New("session was replaced while the request was in flight")
	ErrNoRemoteSession    = errors.New("no remote session key; session memory was not initialized")
	ErrWeightOutOfBand    = errors.New("weight outside allowed band")
	ErrSourceUnavailable  = errors.New("failed to fetch master metrics")
)

// RowImbalanceError reports a row whose available proteins do not add up to 100%
type RowImbalanceError struct {
	Category   models.Category `json:"category"`
	MealTime   string          `json:"meal_time"`
	Index      int             `json:"index"`
	RowKey     string          `json:"row_key"`
	Identifier string          `json:"identifier"`
	Total      float64         `json:"total"`
	Edited     bool            `json:"edited"`
}

func (e *RowImbalanceError) Error() string {
	return fmt.Sprintf("%s - %s: Total is %.1f%% (must be 100%%)", categoryTitle(e.Category), e.Identifier, e.Total)
}

// WeightImbalanceError reports category weights that do not add up to 100%
type WeightImbalanceError struct {
	Total float64 `json:"total"`
}

func (e *WeightImbalanceError) Error() string {
	return fmt.Sprintf("Total importance weights: %.1f%% (must equal 100%%)", e.Total)
}

// WeightBandError reports a weight outside its category's allowed range
type WeightBandError struct {
	Category models.Category   `json:"category"`
	Value    float64           `json:"value"`
	Band     models.WeightBand `json:"band"`
}

func (e *WeightBandError) Error() string {
	return fmt.Sprintf("%s importance %.1f%% is outside the allowed range %.0f-%.0f%%",
		e.Category.Label(), e.Value, e.Band.Min, e.Band.Max)
}

func (e *WeightBandError) Unwrap() error { return ErrWeightOutOfBand }

// RemoteCommitError means the session-memory push failed and the commit was rolled back
type RemoteCommitError struct {
	RowKey string
	Err    error
}

func (e *RemoteCommitError) Error() string {
	return fmt.Sprintf("failed to save row %s to session memory: %v", e.RowKey, e.Err)
}

func (e *RemoteCommitError) Unwrap() error { return e.Err }

// SessionInitError means the session-memory service could not be initialized
type SessionInitError struct {
	Err error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("failed to initialize session memory: %v", e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// SubmissionError means the prediction service call failed
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("prediction failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ValidationError collects everything that blocks a submission
type ValidationError struct {
	Weight *WeightImbalanceError `json:"weight,omitempty"`
	Rows   []*RowImbalanceError  `json:"rows,omitempty"`
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Weight != nil {
		parts = append(parts, e.Weight.Error())
	}
	if n := len(e.Rows); n > 0 {
		parts = append(parts, fmt.Sprintf("%d rows do not sum to 100%%", n))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual problems to errors.As
func (e *ValidationError) Unwrap() []error {
	var errs []error
	if e.Weight != nil {
		errs = append(errs, e.Weight)
	}
	for _, r := range e.Rows {
		errs = append(errs, r)
	}
	return errs
}

// Messages returns one human readable line per problem
func (e *ValidationError) Messages() []string {
	var out []string
	for _, err := range e.Unwrap() {
		out = append(out, err.Error())
	}
	return out
}

func categoryTitle(c models.Category) string {
	s := string(c)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
