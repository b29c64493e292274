// Package sessionstore holds the session-memory backends that keep committed rows per
// session key.
package sessionstore

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// ErrUnknownSession is returned when a row is committed to a session that was never initialized
var ErrUnknownSession = errors.New("session memory has no such session")

// Event is published whenever session memory changes
type Event struct {
	SessionKey string          `json:"session_key"`
	Kind       string          `json:"kind"`
	Category   models.Category `json:"category,omitempty"`
	RowKey     string          `json:"row_key,omitempty"`
	At         time.Time       `json:"at"`
}

const (
	EventInitialized = "initialized"
	EventCommitted   = "committed"
	EventDeleted     = "deleted"
)

// sessionMeta is stored alongside the rows of a session
type sessionMeta struct {
	FlightNumber  string    `json:"flight_number"`
	FlightDate    string    `json:"flight_date"`
	Weekday       string    `json:"weekday,omitempty"`
	InitializedAt time.Time `json:"initialized_at"`
}

// newSessionKey gives every initialization its own key, so a write aimed at an
// earlier session for the same flight and date can never land in a newer one
func newSessionKey(flightNumber, flightDate string) string {
	return models.SessionKey(flightNumber, flightDate) + "|" + uuid.NewString()
}

func rowField(category models.Category, rowKey string) string {
	return string(category) + "/" + rowKey
}
