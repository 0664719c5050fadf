package repo

import (
	"Boxchat/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix = "presence:user:"
	onlineSetKey      = "presence:online"

	// presence records outlive their lease so last-seen survives going offline
	presenceRetention = 30 * 24 * time.Hour
)

// PresenceRepository stores presence records and the lease index of online users.
type PresenceRepository interface {
	// Upsert stores the record; an online record is indexed until p.ExpiresAt.
	Upsert(ctx context.Context, p model.Presence) error
	// Get returns the stored record, or an offline record with zero LastSeen.
	Get(ctx context.Context, userID string) (*model.Presence, error)
	// ListOnline returns the ids whose lease is still valid at now, sorted.
	ListOnline(ctx context.Context, now time.Time) ([]string, error)
	// Expire drops leases that ended at or before now and returns those ids.
	Expire(ctx context.Context, now time.Time) ([]string, error)
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

type redisPresenceRepository struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisPresenceRepository keeps each record as JSON under presence:user:<uid> and
// the online index as a sorted set scored by lease expiry in unix millis.
func NewRedisPresenceRepository(client *redis.Client, logger *zap.Logger) PresenceRepository {
	return &redisPresenceRepository{
		redis:  client,
		logger: logger,
	}
}

func (r *redisPresenceRepository) Upsert(ctx context.Context, p model.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, presenceKeyPrefix+p.UserID, data, presenceRetention)
	if p.Status == model.PresenceOnline {
		pipe.ZAdd(ctx, onlineSetKey, redis.Z{
			Score:  float64(p.ExpiresAt.UnixMilli()),
			Member: p.UserID,
		})
	} else {
		pipe.ZRem(ctx, onlineSetKey, p.UserID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("failed to update presence",
			zap.String("user_id", p.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (r *redisPresenceRepository) Get(ctx context.Context, userID string) (*model.Presence, error) {
	data, err := r.redis.Get(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &model.Presence{UserID: userID, Status: model.PresenceOffline}, nil
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence model.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence data: %w", err)
	}
	return &presence, nil
}

func (r *redisPresenceRepository) ListOnline(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.redis.ZRangeByScore(ctx, onlineSetKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

func (r *redisPresenceRepository) Expire(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := r.redis.TxPipeline()
	expired := pipe.ZRangeByScore(ctx, onlineSetKey, &redis.ZRangeBy{Min: "-inf", Max: cutoff})
	pipe.ZRemRangeByScore(ctx, onlineSetKey, "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to expire presence: %w", err)
	}

	ids := expired.Val()
	sort.Strings(ids)
	return ids, nil
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

// MemoryPresenceRepository is a mutex-based in-memory presence store.
type MemoryPresenceRepository struct {
	mu      sync.RWMutex
	records map[string]model.Presence
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{
		records: make(map[string]model.Presence),
	}
}

func (r *MemoryPresenceRepository) Upsert(ctx context.Context, p model.Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[p.UserID] = p
	return nil
}

func (r *MemoryPresenceRepository) Get(ctx context.Context, userID string) (*model.Presence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.records[userID]
	if !ok {
		return &model.Presence{UserID: userID, Status: model.PresenceOffline}, nil
	}
	return &p, nil
}

func (r *MemoryPresenceRepository) ListOnline(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, p := range r.records {
		if p.IsOnlineAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryPresenceRepository) Expire(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]string, 0)
	for id, p := range r.records {
		if p.Status == model.PresenceOnline && !now.Before(p.ExpiresAt) {
			p.Status = model.PresenceOffline
			r.records[id] = p
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired, nil
}
