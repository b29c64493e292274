package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

// MasterMetricsSource provides the default distributions for a flight and date
type MasterMetricsSource interface {
	FetchMasterMetrics(ctx context.Context, flightNumber, flightDate string) (*models.MasterMetrics, error)
}

// SessionMemory is the external service that keeps committed rows per session key.
// InitializeSession must return a key that no earlier initialization has used.
type SessionMemory interface {
	InitializeSession(ctx context.Context, flightNumber, flightDate string) (string, error)
	CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error
	FetchModifiedRows(ctx context.Context, sessionKey string) ([]models.ModifiedRow, error)
	Delete(ctx context.Context, sessionKey string) error
}

// RowStatus is where a row stands relative to its default and the last commit
type RowStatus string

const (
	StatusDefault          RowStatus = "DEFAULT"
	StatusEditedUnbalanced RowStatus = "EDITED_UNBALANCED"
	StatusEditedBalanced   RowStatus = "EDITED_BALANCED"
	StatusCommitted        RowStatus = "COMMITTED"
)

// Label is the text shown on the row's save button
func (s RowStatus) Label() string {
	switch s {
	case StatusDefault:
		return "Default Setting"
	case StatusEditedUnbalanced:
		return "Probability Not Added to 100"
	case StatusEditedBalanced:
		return "Validate and Save Below"
	case StatusCommitted:
		return "Custom Settings Saved"
	}
	return string(s)
}

// CanCommit reports whether a commit would do anything
func (s RowStatus) CanCommit() bool {
	return s == StatusEditedBalanced
}

// SessionConfig carries the collaborators a session talks to
type SessionConfig struct {
	Source MasterMetricsSource
	Memory SessionMemory
	Logger *logger.Logger
}

type rowRef struct {
	category models.Category
	mealTime string
	index    int
}

// Session is the configuration scope of one flight and date. It owns the editable
// table, the default snapshot and the committed overrides.
//
// Remote calls run without holding the lock. Every response is checked against the
// generation it was issued for, so answers that arrive after a reset or close are dropped.
type Session struct {
	mu sync.Mutex

	key          string
	flightNumber string
	flightDate   string
	weekday      string

	remoteKey  string
	initErr    error
	generation string

	table     *Table
	defaults  *Table
	weights   models.Weights
	overrides Overrides
	validated map[rowRef]bool
	inflight  map[rowRef]bool

	closed     bool
	lastActive time.Time

	source   MasterMetricsSource
	memory   SessionMemory
	notifier *Notifier
	log      *logger.Logger
}

// OpenSession seeds a new session for a flight and date. If the session-memory service
// cannot be reached the session still opens in degraded mode; see InitError.
func OpenSession(ctx context.Context, cfg SessionConfig, flightNumber, flightDate string) (*Session, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("master metrics source required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	weekday, err := models.Weekday(flightDate)
	if err != nil {
		return nil, err
	}

	seed, err := cfg.Source.FetchMasterMetrics(ctx, flightNumber, flightDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	key := models.SessionKey(flightNumber, flightDate)
	s := &Session{
		key:          key,
		flightNumber: flightNumber,
		flightDate:   flightDate,
		weekday:      weekday,
		source:       cfg.Source,
		memory:       cfg.Memory,
		notifier:     NewNotifier(),
		log:          log.With("service", "Session", "session", key),
	}

	remoteKey, initErr := s.initializeRemote(ctx)
	s.install(seed, remoteKey, initErr)

	s.log.Info("session opened",
		"rows", s.table.RowCount(),
		"meal_times", s.table.MealTimes(),
		"degraded", s.remoteKey == "")
	return s, nil
}

func (s *Session) initializeRemote(ctx context.Context) (string, error) {
	if s.memory == nil {
		return "", &SessionInitError{Err: ErrNoRemoteSession}
	}
	remoteKey, err := s.memory.InitializeSession(ctx, s.flightNumber, s.flightDate)
	if err != nil {
		s.log.Warn("session memory unavailable, continuing in degraded mode", "error", err)
		return "", &SessionInitError{Err: err}
	}
	return remoteKey, nil
}

// install replaces all state; callers hold the lock or own the session exclusively
func (s *Session) install(seed *models.MasterMetrics, remoteKey string, initErr error) {
	s.table = NewTable(seed)
	s.defaults = s.table.Clone()
	s.weights = models.DefaultWeights()
	s.overrides = make(Overrides)
	s.validated = make(map[rowRef]bool)
	s.inflight = make(map[rowRef]bool)
	s.remoteKey = remoteKey
	s.initErr = initErr
	s.generation = uuid.NewString()
	s.lastActive = time.Now()
	if seed != nil && seed.Weekday != "" {
		s.weekday = seed.Weekday
	}
}

func (s *Session) Key() string          { return s.key }
func (s *Session) FlightNumber() string { return s.flightNumber }
func (s *Session) FlightDate() string   { return s.flightDate }

// Generation identifies the current incarnation of the session; it changes on reset
func (s *Session) Generation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// InitError returns the *SessionInitError from the last remote initialization, if any
func (s *Session) InitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// LastActive returns the time of the last operator action
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Closed reports whether the session has been closed
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) touch() { s.lastActive = time.Now() }

func (s *Session) statusLocked(ref rowRef, row *models.Row) RowStatus {
	if s.validated[ref] {
		return StatusCommitted
	}
	if def, err := s.defaults.rowRef(ref.category, ref.mealTime, ref.index); err == nil &&
		distributionsEqual(row.Probabilities, def.Probabilities) {
		return StatusDefault
	}
	seg := s.table.segments[ref.mealTime]
	if balanceOf(DistributionTotal(row.Probabilities, seg.AvailableProteins())).Balanced {
		return StatusEditedBalanced
	}
	return StatusEditedUnbalanced
}

// Status returns the state of a row
func (s *Session) Status(category models.Category, mealTime string, index int) (RowStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.table.rowRef(category, mealTime, index)
	if err != nil {
		return "", err
	}
	return s.statusLocked(rowRef{category, mealTime, index}, row), nil
}

// ValidateRow checks a row against the 100% invariant
func (s *Session) ValidateRow(category models.Category, mealTime string, index int) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ValidateRow(s.table, category, mealTime, index)
}

// SetCell changes one probability (a fraction) and clears the row's committed marker.
// The committed override, if any, stays until the next commit or reset.
func (s *Session) SetCell(category models.Category, mealTime string, index int, protein models.Protein, value float64) (RowStatus, Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", Balance{}, ErrSessionClosed
	}
	if err := s.table.SetCell(category, mealTime, index, protein, value); err != nil {
		return "", Balance{}, err
	}
	ref := rowRef{category, mealTime, index}
	delete(s.validated, ref)
	s.touch()

	row, _ := s.table.rowRef(category, mealTime, index)
	b, _ := ValidateRow(s.table, category, mealTime, index)
	return s.statusLocked(ref, row), b, nil
}

// EditCell applies raw operator input such as "30" (percent) to a cell
func (s *Session) EditCell(category models.Category, mealTime string, index int, protein models.Protein, input string) (RowStatus, Balance, error) {
	return s.SetCell(category, mealTime, index, protein, ParsePercentInput(input))
}

// Commit validates a row and promotes its current values into the overrides.
// The row is pushed to session memory first; if that fails nothing is recorded.
// A row still at its default is left alone and no remote call is made.
func (s *Session) Commit(ctx context.Context, category models.Category, mealTime string, index int) (RowStatus, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	row, err := s.table.rowRef(category, mealTime, index)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	ref := rowRef{category, mealTime, index}
	if s.inflight[ref] {
		s.mu.Unlock()
		return "", ErrCommitInProgress
	}

	key := RowKey(category, mealTime, *row)
	status := s.statusLocked(ref, row)
	switch status {
	case StatusDefault, StatusCommitted:
		s.mu.Unlock()
		return status, nil
	case StatusEditedUnbalanced:
		seg := s.table.segments[mealTime]
		imbalance := &RowImbalanceError{
			Category:   category,
			MealTime:   mealTime,
			Index:      index,
			RowKey:     key,
			Identifier: RowIdentifier(category, mealTime, *row),
			Total:      DistributionTotal(row.Probabilities, seg.AvailableProteins()),
			Edited:     true,
		}
		s.mu.Unlock()
		s.log.Debug("commit rejected", "row_key", key, "total", imbalance.Total)
		return status, imbalance
	}

	if s.remoteKey == "" {
		s.mu.Unlock()
		return status, &RemoteCommitError{RowKey: key, Err: ErrNoRemoteSession}
	}

	proteins := append([]models.Protein(nil), s.table.segments[mealTime].AvailableProteins()...)
	entry := models.ModifiedRow{
		Category:          category,
		RowKey:            key,
		MealTime:          mealTime,
		Current:           row.Probabilities.Restrict(proteins),
		AvailableProteins: proteins,
		RowDetails:        RowDetails(category, *row),
	}
	if def, err := s.defaults.rowRef(category, mealTime, index); err == nil {
		entry.Defaults = def.Probabilities.Restrict(proteins)
	}
	remoteKey, generation := s.remoteKey, s.generation
	s.inflight[ref] = true
	s.touch()
	s.mu.Unlock()

	pushErr := s.memory.CommitRowOverride(ctx, remoteKey, entry.Clone())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation || s.closed {
		s.log.Info("discarding commit response for replaced session", "row_key", key)
		return "", ErrStaleSession
	}
	delete(s.inflight, ref)

	row, err = s.table.rowRef(category, mealTime, index)
	if err != nil {
		return "", err
	}
	if pushErr != nil {
		s.log.Warn("commit rolled back, session memory push failed", "row_key", key, "error", pushErr)
		return s.statusLocked(ref, row), &RemoteCommitError{RowKey: key, Err: pushErr}
	}

	if s.overrides[category] == nil {
		s.overrides[category] = make(map[string]models.ModifiedRow)
	}
	s.overrides[category][key] = entry
	// An edit that landed while the push was in flight keeps the row uncommitted
	if distributionsEqual(row.Probabilities.Restrict(proteins), entry.Current) {
		s.validated[ref] = true
	}

	s.log.Info("row committed", "category", category, "row_key", key)
	s.notifier.Publish(ChangeEvent{
		SessionKey: s.key,
		Generation: s.generation,
		Kind:       ChangeCommitted,
		Category:   category,
		RowKey:     key,
		At:         time.Now(),
	})
	return s.statusLocked(ref, row), nil
}

// Reset reloads the defaults, clears every override and re-initializes session memory.
// If the source cannot be reached the session is left untouched.
func (s *Session) Reset(ctx context.Context) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	seed, err := s.source.FetchMasterMetrics(ctx, s.flightNumber, s.flightDate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	remoteKey, initErr := s.initializeRemote(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseRemote(ctx, remoteKey)
		return ErrSessionClosed
	}
	discarded := s.overrides.Count()
	previousKey := s.remoteKey
	s.install(seed, remoteKey, initErr)
	ev := ChangeEvent{
		SessionKey: s.key,
		Generation: s.generation,
		Kind:       ChangeReset,
		At:         time.Now(),
	}
	degraded := s.remoteKey == ""
	s.mu.Unlock()

	s.releaseRemote(ctx, previousKey)
	s.log.Info("session reset to defaults", "discarded_overrides", discarded, "degraded", degraded)
	s.notifier.Publish(ev)
	return nil
}

// ReloadCategory replaces one category's rows with fresh defaults from the source.
// Uncommitted edits in that category are lost; committed overrides are kept.
func (s *Session) ReloadCategory(ctx context.Context, category models.Category) error {
	if !isCategory(category) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	s.mu.Lock()
	generation := s.generation
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	seed, err := s.source.FetchMasterMetrics(ctx, s.flightNumber, s.flightDate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation || s.closed {
		return ErrStaleSession
	}
	s.table.Load(category, seed.Categories[category])
	s.defaults.Load(category, seed.Categories[category])
	for ref := range s.validated {
		if ref.category == category {
			delete(s.validated, ref)
		}
	}
	s.touch()
	return nil
}

// Weights returns the current category weights
func (s *Session) Weights() models.Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}

// SetWeights replaces the category weights. Each weight must lie in its band; the
// sum is checked at submission time.
func (s *Session) SetWeights(w models.Weights) error {
	if err := CheckWeightBands(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.weights = w
	s.touch()
	return nil
}

// Validate runs the change detector over weights and every row
func (s *Session) Validate() ValidationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report(s.weights, s.table, s.defaults)
}

// Payload builds the configuration payload from the weights and committed rows
func (s *Session) Payload() (models.ConfigurationPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := BuildPayload(s.weights, s.table, s.overrides)
	if err != nil {
		return models.ConfigurationPayload{}, err
	}
	payload.SessionKey = s.key
	payload.FlightNumber = s.flightNumber
	payload.FlightDate = s.flightDate
	return payload, nil
}

// Overrides returns a copy of the committed rows
func (s *Session) Overrides() Overrides {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides.Clone()
}

// RemoteModifiedRows reads the committed rows back from session memory for display.
// It never writes into the session.
func (s *Session) RemoteModifiedRows(ctx context.Context) ([]models.ModifiedRow, error) {
	s.mu.Lock()
	remoteKey, generation := s.remoteKey, s.generation
	s.mu.Unlock()
	if remoteKey == "" {
		return nil, ErrNoRemoteSession
	}

	rows, err := s.memory.FetchModifiedRows(ctx, remoteKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch modified rows: %w", err)
	}
	if s.Generation() != generation {
		return nil, ErrStaleSession
	}
	return rows, nil
}

// Subscribe returns a channel of change events for this session
func (s *Session) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	return s.notifier.Subscribe(buffer)
}

// Close ends the session and clears its session memory; later operations fail with
// ErrSessionClosed
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	generation := s.generation
	remoteKey := s.remoteKey
	s.mu.Unlock()

	s.releaseRemote(ctx, remoteKey)
	s.notifier.Publish(ChangeEvent{
		SessionKey: s.key,
		Generation: generation,
		Kind:       ChangeClosed,
		At:         time.Now(),
	})
	s.notifier.Close()
	s.log.Info("session closed")
}

// releaseRemote deletes a session-memory key this session no longer uses. A commit
// still in flight for that key then fails instead of writing.
func (s *Session) releaseRemote(ctx context.Context, remoteKey string) {
	if remoteKey == "" || s.memory == nil {
		return
	}
	if err := s.memory.Delete(ctx, remoteKey); err != nil {
		s.log.Warn("failed to clear session memory", "remote_session", remoteKey, "error", err)
	}
}

func isCategory(c models.Category) bool {
	for _, known := range models.Categories {
		if known == c {
			return true
		}
	}
	return false
}
