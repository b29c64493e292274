package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/internal/sessionstore"
)

// heldMemory is a real in-process store whose commits wait until released
type heldMemory struct {
	*sessionstore.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (h *heldMemory) CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error {
	h.entered <- struct{}{}
	<-h.release
	return h.MemoryStore.CommitRowOverride(ctx, sessionKey, row)
}

func TestCommitInFlightDuringResetNeverReachesNewSession(t *testing.T) {
	store := &heldMemory{
		MemoryStore: sessionstore.NewMemoryStore(nil),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s, err := OpenSession(context.Background(), SessionConfig{Source: &fakeSource{}, Memory: store}, testFlight, testDate)
	require.NoError(t, err)
	oldKey := s.View().RemoteSessionKey
	editAgeRowTo30And70(t, s)

	done := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background(), models.CategoryAge, "Lunch", 0)
		done <- err
	}()
	<-store.entered

	require.NoError(t, s.Reset(context.Background()))
	close(store.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleSession)
	case <-time.After(2 * time.Second):
		t.Fatal("commit did not return")
	}

	newKey := s.View().RemoteSessionKey
	require.NotEmpty(t, newKey)
	assert.NotEqual(t, oldKey, newKey)

	rows, err := store.FetchModifiedRows(context.Background(), newKey)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, s.Overrides().Count())

	_, err = store.FetchModifiedRows(context.Background(), oldKey)
	assert.ErrorIs(t, err, sessionstore.ErrUnknownSession)
	assert.Equal(t, 1, store.Len())
}

func TestResetReleasesPreviousRemoteSession(t *testing.T) {
	memory := &fakeMemory{}
	s, err := openTestSession(nil, memory)
	require.NoError(t, err)
	first := s.View().RemoteSessionKey

	require.NoError(t, s.Reset(context.Background()))

	assert.NotEqual(t, first, s.View().RemoteSessionKey)
	assert.Equal(t, []string{first}, memory.deletedKeys())
}

func TestCloseClearsSessionMemory(t *testing.T) {
	store := sessionstore.NewMemoryStore(nil)
	s, err := OpenSession(context.Background(), SessionConfig{Source: &fakeSource{}, Memory: store}, testFlight, testDate)
	require.NoError(t, err)
	key := s.View().RemoteSessionKey

	editAgeRowTo30And70(t, s)
	_, err = s.Commit(context.Background(), models.CategoryAge, "Lunch", 0)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	s.Close(context.Background())

	_, err = store.FetchModifiedRows(context.Background(), key)
	assert.ErrorIs(t, err, sessionstore.ErrUnknownSession)
	assert.Zero(t, store.Len())
}

func TestDegradedSessionCloseSkipsSessionMemory(t *testing.T) {
	memory := &fakeMemory{initErr: errUnreachable}
	s, err := openTestSession(nil, memory)
	require.NoError(t, err)

	s.Close(context.Background())
	assert.Empty(t, memory.deletedKeys())
}
