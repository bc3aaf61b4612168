package reconcile

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/internal/carts"
	"github.com/angelmondragon/busline-backend/internal/invoices"
	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

type fakeInvoices struct {
	mu       sync.Mutex
	snapshot *invoices.Snapshot
	err      error
	calls    int32
}

func paidInvoice(reference string) *fakeInvoices {
	return &fakeInvoices{snapshot: &invoices.Snapshot{
		Reference: reference,
		State:     enums.InvoicePaid,
		RawState:  "paid",
		Amount:    decimal.NewFromInt(850),
		Currency:  "MXN",
	}}
}

func (f *fakeInvoices) FetchInvoice(_ context.Context, reference string) (*invoices.Snapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	snap := *f.snapshot
	snap.Reference = reference
	return &snap, nil
}

func (f *fakeInvoices) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeProvider struct {
	mu            sync.Mutex
	createCalls   int32
	completeCalls int32
	createdFor    []string
	completedWith [][2]string
	patches       []purchases.BookingPatch
	createErr     error
	completion    *purchases.Completion
	completeErr   error
	createStarted chan struct{}
	createGate    chan struct{}
	// completeStarted/completeGate hold CompletePurchase open; a context
	// cancelled by then fails the call like a real HTTP client would.
	completeStarted chan struct{}
	completeGate    chan struct{}
}

func completingProvider() *fakeProvider {
	return &fakeProvider{completion: &purchases.Completion{Status: "completed", PollOutcome: purchases.OutcomeCompleted}}
}

func (f *fakeProvider) CreatePurchase(_ context.Context, cartID string, _ purchases.CreateOptions) (*purchases.Purchase, error) {
	atomic.AddInt32(&f.createCalls, 1)
	if f.createStarted != nil {
		f.createStarted <- struct{}{}
	}
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdFor = append(f.createdFor, cartID)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &purchases.Purchase{ID: "p-100", UUID: "uuid-100", Status: "pending"}, nil
}

func (f *fakeProvider) CompletePurchase(ctx context.Context, id, purchaseUUID string, _ purchases.CompletionContext) (*purchases.Completion, error) {
	atomic.AddInt32(&f.completeCalls, 1)
	if f.completeStarted != nil {
		f.completeStarted <- struct{}{}
	}
	if f.completeGate != nil {
		<-f.completeGate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedWith = append(f.completedWith, [2]string{id, purchaseUUID})
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	c := *f.completion
	return &c, nil
}

func (f *fakeProvider) UpdateBookingStatus(_ context.Context, _ string, patch purchases.BookingPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeProvider) Creates() int   { return int(atomic.LoadInt32(&f.createCalls)) }
func (f *fakeProvider) Completes() int { return int(atomic.LoadInt32(&f.completeCalls)) }

type fakeCarts struct {
	mu         sync.Mutex
	resolution carts.Resolution
	payments   map[string]*models.Payment
	applied    []carts.Outcome
	applyErr   error
}

func cartsWithProviderCart(providerCartID string) *fakeCarts {
	return &fakeCarts{
		payments: map[string]*models.Payment{},
		resolution: carts.Resolution{
			Carts: []models.Cart{{
				ID:             "cart-1",
				ProviderCartID: providerCartID,
				PaymentType:    enums.PaymentTypeInvoice,
				Currency:       "MXN",
				Cost:           decimal.NewFromInt(800),
				Markup:         decimal.NewFromInt(50),
			}},
		},
	}
}

func (f *fakeCarts) KeyFor(_ context.Context, reference string) (carts.CartKey, error) {
	return carts.KeyForReference(reference), nil
}

func (f *fakeCarts) Resolve(_ context.Context, key carts.CartKey) (carts.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.resolution
	res.Key = key
	return res, nil
}

func (f *fakeCarts) Apply(_ context.Context, o carts.Outcome) (carts.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, o)
	p, ok := f.payments[o.Reference]
	if !ok {
		p = &models.Payment{Reference: o.Reference}
		f.payments[o.Reference] = p
	}
	p.Status = enums.NextReconciliationStatus(p.Status, o.Status)
	if p.PurchaseID == nil && o.PurchaseID != "" {
		id, uuid := o.PurchaseID, o.PurchaseUUID
		p.PurchaseID, p.PurchaseUUID = &id, &uuid
	}
	if p.Status == o.Status {
		p.FailureStage = o.FailureStage
	}
	if o.ManualRetry {
		p.ManualRetryCount++
	}
	p.InvoiceState = o.InvoiceState
	p.Amount = o.Amount
	p.Currency = o.Currency
	return f.resolution, f.applyErr
}

func (f *fakeCarts) LoadPayment(_ context.Context, reference string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[reference]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCarts) seed(p models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.Reference] = &p
}

func (f *fakeCarts) Applied() []carts.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]carts.Outcome(nil), f.applied...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

type harness struct {
	engine   *Engine
	invoices *fakeInvoices
	provider *fakeProvider
	carts    *fakeCarts
	store    *MemoryStore
	notifier *fakeNotifier
}

func newHarness(t *testing.T, inv *fakeInvoices, provider *fakeProvider, cartStore *fakeCarts) *harness {
	t.Helper()
	h := &harness{
		invoices: inv,
		provider: provider,
		carts:    cartStore,
		store:    NewMemoryStore(),
		notifier: &fakeNotifier{},
	}
	engine, err := NewEngine(Params{
		Invoices:  inv,
		Purchases: provider,
		Carts:     cartStore,
		Store:     h.store,
		Notifier:  h.notifier,
		Limiter:   &fakeLimiter{},
		Logger:    logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard}),
		Settings: config.ReconcileConfig{
			LockTTL:           5 * time.Minute,
			ProcessedTTL:      time.Hour,
			ManualRetryLimit:  3,
			ManualRetryWindow: time.Hour,
		},
		CreateOptions: purchases.CreateOptions{Locale: "es-MX", Currency: "MXN"},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = engine
	return h
}
