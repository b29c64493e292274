package sessionstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

type memorySession struct {
	meta sessionMeta
	rows map[string]models.ModifiedRow
}

// MemoryStore keeps session memory inside the process
type MemoryStore struct {
	log *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*memorySession
}

// NewMemoryStore creates an empty in-process session store
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &MemoryStore{
		log:      log.With("service", "MemorySessionStore"),
		sessions: make(map[string]*memorySession),
	}
}

// InitializeSession creates a fresh, empty session for a flight and date under a new key
func (m *MemoryStore) InitializeSession(ctx context.Context, flightNumber, flightDate string) (string, error) {
	key := newSessionKey(flightNumber, flightDate)
	weekday, _ := models.Weekday(flightDate)

	m.mu.Lock()
	m.sessions[key] = &memorySession{
		meta: sessionMeta{
			FlightNumber:  flightNumber,
			FlightDate:    flightDate,
			Weekday:       weekday,
			InitializedAt: time.Now(),
		},
		rows: make(map[string]models.ModifiedRow),
	}
	m.mu.Unlock()

	m.log.Debug("session memory initialized", "session", key)
	return key, nil
}

// CommitRowOverride stores a committed row, replacing any earlier commit of the same key
func (m *MemoryStore) CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}
	session.rows[rowField(row.Category, row.RowKey)] = row.Clone()
	return nil
}

// FetchModifiedRows lists the committed rows of a session
func (m *MemoryStore) FetchModifiedRows(ctx context.Context, sessionKey string) ([]models.ModifiedRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}
	rows := make([]models.ModifiedRow, 0, len(session.rows))
	for _, row := range session.rows {
		rows = append(rows, row.Clone())
	}
	models.SortModifiedRows(rows)
	return rows, nil
}

// Delete forgets a session
func (m *MemoryStore) Delete(ctx context.Context, sessionKey string) error {
	m.mu.Lock()
	delete(m.sessions, sessionKey)
	m.mu.Unlock()

	m.log.Debug("session memory deleted", "session", sessionKey)
	return nil
}

// Len returns the number of sessions held
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
