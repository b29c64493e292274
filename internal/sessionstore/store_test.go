package sessionstore

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

const (
	testFlight = "SQ 286 (AKL → SIN)"
	testDate   = "2025-03-10"
)

func ageRow(pork, chicken float64) models.ModifiedRow {
	return models.ModifiedRow{
		Category:          models.CategoryAge,
		RowKey:            "AgeGroup25_Lunch",
		MealTime:          "Lunch",
		Defaults:          models.Distribution{models.ProteinPork: 0.4, models.ProteinChicken: 0.6},
		Current:           models.Distribution{models.ProteinPork: pork, models.ProteinChicken: chicken},
		AvailableProteins: []models.Protein{models.ProteinPork, models.ProteinChicken},
		RowDetails:        map[string]string{"age_group": "AgeGroup25", "meal_time": "Lunch"},
	}
}

func nationalityRow() models.ModifiedRow {
	return models.ModifiedRow{
		Category: models.CategoryNationality,
		RowKey:   "SG_Monday_Lunch",
		MealTime: "Lunch",
		Current:  models.Distribution{models.ProteinPork: 0.1, models.ProteinChicken: 0.9},
	}
}

type store interface {
	InitializeSession(ctx context.Context, flightNumber, flightDate string) (string, error)
	CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error
	FetchModifiedRows(ctx context.Context, sessionKey string) ([]models.ModifiedRow, error)
	Delete(ctx context.Context, sessionKey string) error
}

func exerciseStore(t *testing.T, s store) {
	ctx := context.Background()

	err := s.CommitRowOverride(ctx, "missing|2025-01-01", ageRow(0.3, 0.7))
	assert.ErrorIs(t, err, ErrUnknownSession)

	key, err := s.InitializeSession(ctx, testFlight, testDate)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, models.SessionKey(testFlight, testDate)+"|"), key)

	require.NoError(t, s.CommitRowOverride(ctx, key, ageRow(0.3, 0.7)))
	require.NoError(t, s.CommitRowOverride(ctx, key, nationalityRow()))
	// re-committing the same key overwrites
	require.NoError(t, s.CommitRowOverride(ctx, key, ageRow(0.2, 0.8)))

	rows, err := s.FetchModifiedRows(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SG_Monday_Lunch", rows[0].RowKey)
	assert.Equal(t, "AgeGroup25_Lunch", rows[1].RowKey)
	assert.Equal(t, models.Distribution{models.ProteinPork: 0.2, models.ProteinChicken: 0.8}, rows[1].Current)
	assert.Equal(t, "AgeGroup25", rows[1].RowDetails["age_group"])

	// re-initializing opens a separate session; writes to the old key stay there
	again, err := s.InitializeSession(ctx, testFlight, testDate)
	require.NoError(t, err)
	assert.NotEqual(t, key, again)
	rows, err = s.FetchModifiedRows(ctx, again)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.FetchModifiedRows(ctx, key)
	assert.ErrorIs(t, err, ErrUnknownSession)

	// a commit aimed at a deleted session is refused rather than recreating it
	err = s.CommitRowOverride(ctx, key, ageRow(0.3, 0.7))
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = s.FetchModifiedRows(ctx, key)
	assert.ErrorIs(t, err, ErrUnknownSession)

	require.NoError(t, s.Delete(ctx, again))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(logger.NewNop()))
}

func TestMemoryStoreCopiesRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	key, err := s.InitializeSession(ctx, testFlight, testDate)
	require.NoError(t, err)

	row := ageRow(0.3, 0.7)
	require.NoError(t, s.CommitRowOverride(ctx, key, row))
	row.Current[models.ProteinPork] = 0.9

	rows, err := s.FetchModifiedRows(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.3, rows[0].Current[models.ProteinPork])
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(RedisConfig{Addr: addr, Channel: "mealmetrics:test", TTL: time.Minute}, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	exerciseStore(t, s)

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, EventInitialized, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewRedisStore(RedisConfig{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
}

func TestDecodeRowsSkipsMetaAndGarbage(t *testing.T) {
	raw, err := json.Marshal(ageRow(0.3, 0.7))
	require.NoError(t, err)

	rows := decodeRows(map[string]string{
		metaField:                  `{"flight_number":"SQ 286 (AKL → SIN)"}`,
		"age/AgeGroup25_Lunch":     string(raw),
		"nationality/SG_Monday_Lu": "{not json",
	}, logger.NewNop())

	require.Len(t, rows, 1)
	assert.Equal(t, "AgeGroup25_Lunch", rows[0].RowKey)
	assert.Equal(t, models.CategoryAge, rows[0].Category)
}
