package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sellerpulse/automation-hub/internal/model"
	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/metrics"
)

// ErrNotFound is returned when no live context exists for the key.
var ErrNotFound = errors.New("conversation context not found")

const DefaultTTL = 30 * time.Minute

// kv is the slice of the Redis API the store needs. Tests supply an
// in-memory implementation.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store keeps per-user conversation state in Redis. Entries carry a
// native TTL and additionally a logical expiry on read: a context whose
// last interaction is older than the TTL is treated as gone even if the
// Redis key still exists.
type Store struct {
	client  kv
	ttl     time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStore(client kv, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
		logger: log,
		now:    time.Now,
	}
}

// WithMetrics attaches the Redis operation counters.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

func (s *Store) count(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	s.metrics.RedisOperations.WithLabelValues(op, status).Inc()
}

func contextKey(channel, userID string) string {
	return fmt.Sprintf("context:%s:%s", channel, userID)
}

func (s *Store) Get(ctx context.Context, channel, userID string) (*model.ConversationContext, error) {
	key := contextKey(channel, userID)

	data, err := s.client.Get(ctx, key).Bytes()
	s.count("get", err)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read context %s: %w", key, err)
	}

	var cc model.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("failed to decode context %s: %w", key, err)
	}

	if cc.Expired(s.now(), s.ttl) {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("failed to delete expired context", "key", key, "error", err.Error())
		}
		return nil, ErrNotFound
	}
	return &cc, nil
}

// Set stores the state map for (channel, userID), refreshing both the
// interaction timestamps and the native TTL.
func (s *Store) Set(ctx context.Context, channel, userID string, state map[string]interface{}) error {
	now := s.now()
	cc := model.ConversationContext{
		Channel:         channel,
		UserID:          userID,
		State:           state,
		LastInteraction: now,
		UpdatedAt:       now,
	}

	data, err := json.Marshal(&cc)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	key := contextKey(channel, userID)
	err = s.client.Set(ctx, key, data, s.ttl).Err()
	s.count("set", err)
	if err != nil {
		return fmt.Errorf("failed to write context %s: %w", key, err)
	}
	return nil
}

// Update merges fields into the existing state, treating a missing or
// expired context as empty.
func (s *Store) Update(ctx context.Context, channel, userID string, fields map[string]interface{}) error {
	existing, err := s.Get(ctx, channel, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	state := map[string]interface{}{}
	if existing != nil {
		state = existing.State
	}
	for k, v := range fields {
		state[k] = v
	}
	return s.Set(ctx, channel, userID, state)
}

func (s *Store) Delete(ctx context.Context, channel, userID string) error {
	key := contextKey(channel, userID)
	err := s.client.Del(ctx, key).Err()
	s.count("del", err)
	if err != nil {
		return fmt.Errorf("failed to delete context %s: %w", key, err)
	}
	return nil
}
