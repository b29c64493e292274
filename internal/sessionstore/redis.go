package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

const (
	keyPrefix = "mealmetrics:session:"
	metaField = "__meta"
)

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Addr    string
	Channel string
	TTL     time.Duration
}

// RedisStore keeps session memory in one Redis hash per session and announces
// changes on a pub/sub channel
type RedisStore struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	ttl     time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig, log *logger.Logger) (*RedisStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "mealmetrics:events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisStore(rdb, channel, cfg.TTL, log), nil
}

func newRedisStore(rdb *goredis.Client, channel string, ttl time.Duration, log *logger.Logger) *RedisStore {
	return &RedisStore{
		log:     log.With("service", "RedisSessionStore"),
		rdb:     rdb,
		channel: channel,
		ttl:     ttl,
	}
}

func hashKey(sessionKey string) string {
	return keyPrefix + sessionKey
}

// InitializeSession stores an empty session for the flight and date under a new key
func (r *RedisStore) InitializeSession(ctx context.Context, flightNumber, flightDate string) (string, error) {
	key := newSessionKey(flightNumber, flightDate)
	weekday, _ := models.Weekday(flightDate)

	meta, err := json.Marshal(sessionMeta{
		FlightNumber:  flightNumber,
		FlightDate:    flightDate,
		Weekday:       weekday,
		InitializedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	hash := hashKey(key)
	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, hash, metaField, meta)
		if r.ttl > 0 {
			pipe.Expire(ctx, hash, r.ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to initialize session %s: %w", key, err)
	}

	r.publish(ctx, Event{SessionKey: key, Kind: EventInitialized, At: time.Now().UTC()})
	return key, nil
}

// CommitRowOverride stores a committed row under its category and row key
func (r *RedisStore) CommitRowOverride(ctx context.Context, sessionKey string, row models.ModifiedRow) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}

	hash := hashKey(sessionKey)
	// WATCH keeps a concurrent Delete from being undone by the HSET
	err = r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, hash).Result()
		if err != nil {
			return fmt.Errorf("failed to look up session %s: %w", sessionKey, err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, hash, rowField(row.Category, row.RowKey), raw)
			if r.ttl > 0 {
				pipe.Expire(ctx, hash, r.ttl)
			}
			return nil
		})
		return err
	}, hash)
	if err != nil {
		if errors.Is(err, ErrUnknownSession) {
			return err
		}
		return fmt.Errorf("failed to save row %s: %w", row.RowKey, err)
	}

	r.publish(ctx, Event{
		SessionKey: sessionKey,
		Kind:       EventCommitted,
		Category:   row.Category,
		RowKey:     row.RowKey,
		At:         time.Now().UTC(),
	})
	return nil
}

// FetchModifiedRows reads every committed row of a session
func (r *RedisStore) FetchModifiedRows(ctx context.Context, sessionKey string) ([]models.ModifiedRow, error) {
	fields, err := r.rdb.HGetAll(ctx, hashKey(sessionKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session %s: %w", sessionKey, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}
	return decodeRows(fields, r.log), nil
}

// Delete removes a session
func (r *RedisStore) Delete(ctx context.Context, sessionKey string) error {
	if err := r.rdb.Del(ctx, hashKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionKey, err)
	}
	r.publish(ctx, Event{SessionKey: sessionKey, Kind: EventDeleted, At: time.Now().UTC()})
	return nil
}

// Health pings Redis
func (r *RedisStore) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// publish is best effort; a lost event never fails the write that caused it
func (r *RedisStore) publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn("failed to publish session event", "session", ev.SessionKey, "kind", ev.Kind, "error", err)
	}
}

func decodeRows(fields map[string]string, log *logger.Logger) []models.ModifiedRow {
	rows := make([]models.ModifiedRow, 0, len(fields))
	for field, raw := range fields {
		if field == metaField {
			continue
		}
		var row models.ModifiedRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			log.Warn("skipping unreadable session row", "field", field, "error", err)
			continue
		}
		rows = append(rows, row)
	}
	models.SortModifiedRows(rows)
	return rows
}
