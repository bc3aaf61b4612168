package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestCompareAndDeleteOnlyRemovesOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.LockKey("reconcile", "PNR123")
	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock acquisition, ok=%v err=%v", ok, err)
	}

	removed, err := client.CompareAndDelete(ctx, key, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Fatalf("foreign owner must not release the lock")
	}

	removed, err = client.CompareAndDelete(ctx, key, "owner-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Fatalf("owner should release the lock")
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestIncrByWithTTLSetsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	total, err := client.IncrByWithTTL(ctx, "bl:counter:revenue", 12550, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 12550 {
		t.Fatalf("expected 12550, got %d", total)
	}
	if _, err := client.IncrByWithTTL(ctx, "bl:counter:revenue", 450, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.expireCalls) != 1 || mock.expireCalls[0].ttl != time.Hour {
		t.Fatalf("expected a single one hour expiry, got %+v", mock.expireCalls)
	}
	if mock.incr["bl:counter:revenue"] != 13000 {
		t.Fatalf("unexpected total %d", mock.incr["bl:counter:revenue"])
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "bl:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "bl:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CounterKey("tickets"); got != "bl:counter:tickets" {
		t.Fatalf("unexpected counter key %s", got)
	}
	if got := client.LockKey("reconcile", "PNR123"); got != "bl:lock:reconcile:PNR123" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.ProcessedKey("", "PNR123"); got != "bl:processed:PNR123" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	m.incr[key] += value
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	switch script {
	case compareAndDeleteScript:
		if len(keys) != 1 || len(args) != 1 {
			return redis.NewCmdResult(nil, fmt.Errorf("unexpected eval arity"))
		}
		if m.data[keys[0]] != fmt.Sprint(args[0]) {
			return redis.NewCmdResult(int64(0), nil)
		}
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	case incrByWithTTLScript:
		if len(keys) != 1 || len(args) != 2 {
			return redis.NewCmdResult(nil, fmt.Errorf("unexpected eval arity"))
		}
		delta := args[0].(int64)
		ttlMS := args[1].(int64)
		m.incr[keys[0]] += delta
		if m.incr[keys[0]] == delta && ttlMS > 0 {
			m.expireCalls = append(m.expireCalls, expireCall{key: keys[0], ttl: time.Duration(ttlMS) * time.Millisecond})
		}
		return redis.NewCmdResult(m.incr[keys[0]], nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
