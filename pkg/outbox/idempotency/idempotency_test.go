package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

type fakeStore struct {
	keys        map[string]bool
	setNXError  error
	setKeys     []string
	lastTTL     time.Duration
	lastDeleted []string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if f.setNXError != nil {
		return false, f.setNXError
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	f.setKeys = append(f.setKeys, key)
	f.lastTTL = ttl
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "bl:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.lastDeleted = keys
	for _, k := range keys {
		delete(f.keys, k)
	}
	return nil
}

func confirmedDelivery(reference string) Delivery {
	return Delivery{
		Consumer:  "ticket-notifications",
		EventID:   uuid.New(),
		Reference: reference,
		EventType: enums.EventTicketConfirmed,
	}
}

func TestClaimFirstTime(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	d := confirmedDelivery("PNR123")
	already, err := manager.Claim(context.Background(), d)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if already {
		t.Fatalf("expected first claim to return false")
	}

	want := []string{
		"bl:idempotency:evt:processed:ticket-notifications:" + d.EventID.String(),
		"bl:idempotency:outcome:ticket-notifications:ticket_confirmed:PNR123",
	}
	if len(store.setKeys) != 2 || store.setKeys[0] != want[0] || store.setKeys[1] != want[1] {
		t.Fatalf("unexpected keys: %v", store.setKeys)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", store.lastTTL)
	}
}

func TestClaimSameEventTwice(t *testing.T) {
	manager, err := NewManager(&fakeStore{}, 12*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	d := confirmedDelivery("PNR123")
	if _, err := manager.Claim(context.Background(), d); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	already, err := manager.Claim(context.Background(), d)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !already {
		t.Fatalf("expected already processed")
	}
}

func TestClaimReplayedOutcomeForReference(t *testing.T) {
	manager, err := NewManager(&fakeStore{}, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	if already, _ := manager.Claim(ctx, confirmedDelivery("PNR123")); already {
		t.Fatalf("first confirmation should be new")
	}
	if already, _ := manager.Claim(ctx, confirmedDelivery("PNR123")); !already {
		t.Fatalf("second confirmation for the same reference should be a duplicate")
	}

	failed := confirmedDelivery("PNR123")
	failed.EventType = enums.EventTicketFailed
	if already, _ := manager.Claim(ctx, failed); already {
		t.Fatalf("a different outcome type should be new")
	}
	if already, _ := manager.Claim(ctx, confirmedDelivery("PNR999")); already {
		t.Fatalf("another reference should be new")
	}
}

func TestClaimWithoutReferenceTracksEventOnly(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := manager.Claim(context.Background(), confirmedDelivery("  ")); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(store.setKeys) != 1 {
		t.Fatalf("expected only the event key, got %v", store.setKeys)
	}
}

func TestClaimValidatesAndPropagatesErrors(t *testing.T) {
	manager, err := NewManager(&fakeStore{setNXError: errors.New("boom")}, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := manager.Claim(context.Background(), confirmedDelivery("PNR1")); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := manager.Claim(context.Background(), Delivery{EventID: uuid.New()}); err == nil {
		t.Fatal("expected consumer error")
	}
	if _, err := manager.Claim(context.Background(), Delivery{Consumer: "c"}); err == nil {
		t.Fatal("expected event id error")
	}
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatal("expected store required")
	}
}

func TestReleaseForgetsBothKeys(t *testing.T) {
	store := &fakeStore{}
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	d := confirmedDelivery("PNR123")
	if _, err := manager.Claim(context.Background(), d); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := manager.Release(context.Background(), d); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(store.lastDeleted) != 2 {
		t.Fatalf("expected both keys deleted, got %v", store.lastDeleted)
	}
	already, err := manager.Claim(context.Background(), d)
	if err != nil || already {
		t.Fatalf("expected released delivery to be claimable, already=%v err=%v", already, err)
	}
}
