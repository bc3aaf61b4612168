package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const keyScope = "payment"

// IdempotencyStore holds the per-reference processing lock and the processed
// marker. They are the only state shared between reconciliation passes.
type IdempotencyStore interface {
	AcquireLock(ctx context.Context, reference string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, reference, token string) error
	ProcessedStatus(ctx context.Context, reference string) (enums.ReconciliationStatus, bool, error)
	MarkProcessed(ctx context.Context, reference string, status enums.ReconciliationStatus, ttl time.Duration) error
}

type redisKV interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(scope, id string) string
	ProcessedKey(scope, id string) string
}

// RedisStore keeps locks and markers in Redis so every instance sees them.
type RedisStore struct {
	kv redisKV
}

func NewRedisStore(kv redisKV) (*RedisStore, error) {
	if kv == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisStore{kv: kv}, nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, reference string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.kv.SetNX(ctx, s.kv.LockKey(keyScope, reference), token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock only deletes the lock while it still carries token, so a holder
// whose TTL already expired cannot drop a newer holder's lock.
func (s *RedisStore) ReleaseLock(ctx context.Context, reference, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.kv.CompareAndDelete(ctx, s.kv.LockKey(keyScope, reference), token); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *RedisStore) ProcessedStatus(ctx context.Context, reference string) (enums.ReconciliationStatus, bool, error) {
	value, err := s.kv.Get(ctx, s.kv.ProcessedKey(keyScope, reference))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read processed marker: %w", err)
	}
	status, err := enums.ParseReconciliationStatus(value)
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, reference string, status enums.ReconciliationStatus, ttl time.Duration) error {
	if err := s.kv.Set(ctx, s.kv.ProcessedKey(keyScope, reference), string(status), ttl); err != nil {
		return fmt.Errorf("write processed marker: %w", err)
	}
	return nil
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore keeps locks and markers in a process-local map. It only
// guarantees mutual exclusion and at-most-once creation within a single
// process; separate instances do not see each other's entries.
type MemoryStore struct {
	mu        sync.Mutex
	locks     map[string]memoryEntry
	processed map[string]memoryEntry
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		locks:     make(map[string]memoryEntry),
		processed: make(map[string]memoryEntry),
		now:       now,
	}
}

func (s *MemoryStore) AcquireLock(_ context.Context, reference string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if entry, ok := s.locks[reference]; ok && !entry.expired(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[reference] = memoryEntry{value: token, expiresAt: expiry(now, ttl)}
	return token, true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, reference, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.locks[reference]; ok && entry.value == token {
		delete(s.locks, reference)
	}
	return nil
}

func (s *MemoryStore) ProcessedStatus(_ context.Context, reference string) (enums.ReconciliationStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.processed[reference]
	if !ok {
		return "", false, nil
	}
	if entry.expired(s.now()) {
		delete(s.processed, reference)
		return "", false, nil
	}
	return enums.ReconciliationStatus(entry.value), true, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, reference string, status enums.ReconciliationStatus, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[reference] = memoryEntry{value: string(status), expiresAt: expiry(s.now(), ttl)}
	return nil
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// FallbackStore uses primary and degrades to the in-process fallback when
// primary errors. Markers are written to both so they survive a primary
// outage. While degraded, guarantees hold for this process only.
type FallbackStore struct {
	primary  IdempotencyStore
	fallback IdempotencyStore
	logg     *logger.Logger
}

func NewFallbackStore(primary, fallback IdempotencyStore, logg *logger.Logger) (*FallbackStore, error) {
	if primary == nil || fallback == nil {
		return nil, errors.New("primary and fallback stores required")
	}
	return &FallbackStore{primary: primary, fallback: fallback, logg: logg}, nil
}

func (s *FallbackStore) AcquireLock(ctx context.Context, reference string, ttl time.Duration) (string, bool, error) {
	token, ok, err := s.primary.AcquireLock(ctx, reference, ttl)
	if err == nil {
		return token, ok, nil
	}
	s.degraded(ctx, "acquire lock", err)
	return s.fallback.AcquireLock(ctx, reference, ttl)
}

func (s *FallbackStore) ReleaseLock(ctx context.Context, reference, token string) error {
	if err := s.primary.ReleaseLock(ctx, reference, token); err != nil {
		s.degraded(ctx, "release lock", err)
	}
	return s.fallback.ReleaseLock(ctx, reference, token)
}

func (s *FallbackStore) ProcessedStatus(ctx context.Context, reference string) (enums.ReconciliationStatus, bool, error) {
	status, ok, err := s.primary.ProcessedStatus(ctx, reference)
	if err != nil {
		s.degraded(ctx, "read processed marker", err)
	} else if ok {
		return status, true, nil
	}
	return s.fallback.ProcessedStatus(ctx, reference)
}

func (s *FallbackStore) MarkProcessed(ctx context.Context, reference string, status enums.ReconciliationStatus, ttl time.Duration) error {
	if err := s.primary.MarkProcessed(ctx, reference, status, ttl); err != nil {
		s.degraded(ctx, "write processed marker", err)
	}
	return s.fallback.MarkProcessed(ctx, reference, status, ttl)
}

func (s *FallbackStore) degraded(ctx context.Context, op string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"op": op, "error": err.Error()}), "idempotency store degraded to in-process fallback")
}
