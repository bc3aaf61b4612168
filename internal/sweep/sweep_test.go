package sweep

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

type fakeStore struct {
	refs  []string
	err   error
	since time.Time
	limit int
}

func (f *fakeStore) ListPendingReferences(_ context.Context, since time.Time, limit int) ([]string, error) {
	f.since = since
	f.limit = limit
	return f.refs, f.err
}

type fakeEngine struct {
	mu       sync.Mutex
	seen     map[string]enums.TriggerSource
	failures map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeEngine) Reconcile(_ context.Context, reference string, source enums.TriggerSource) (*reconcile.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]enums.TriggerSource{}
	}
	f.seen[reference] = source
	if err := f.failures[reference]; err != nil {
		return nil, err
	}
	return &reconcile.Result{Reference: reference, Status: enums.PollPaymentProcessing}, nil
}

func newSweeper(t *testing.T, engine *fakeEngine, store *fakeStore, concurrency int) *Sweeper {
	t.Helper()
	s, err := New(Params{
		Engine:      engine,
		Store:       store,
		Logger:      logger.New(logger.Options{ServiceName: "sweep-test", Output: io.Discard}),
		Lookback:    48 * time.Hour,
		BatchSize:   25,
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return s
}

func TestSweepReconcilesEveryPendingReference(t *testing.T) {
	store := &fakeStore{refs: []string{"INV-1", "INV-2", "INV-3", "INV-4", "INV-5", "INV-6"}}
	engine := &fakeEngine{}
	s := newSweeper(t, engine, store, 2)
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, now.Add(-48*time.Hour), store.since)
	assert.Equal(t, 25, store.limit)
	require.Len(t, engine.seen, 6)
	for ref, source := range engine.seen {
		assert.Equal(t, enums.TriggerSweep, source, ref)
	}
	assert.LessOrEqual(t, engine.peak.Load(), int32(2))
}

func TestSweepAggregatesFailures(t *testing.T) {
	store := &fakeStore{refs: []string{"INV-1", "INV-2", "INV-3"}}
	engine := &fakeEngine{failures: map[string]error{
		"INV-1": errors.New("accounting unavailable"),
		"INV-3": errors.New("lock store down"),
	}}
	s := newSweeper(t, engine, store, 4)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "INV-1")
	assert.Contains(t, err.Error(), "INV-3")
	assert.Len(t, engine.seen, 3)
}

func TestSweepListFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	engine := &fakeEngine{}
	s := newSweeper(t, engine, store, 1)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, engine.seen)
}

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Params{
		Engine: &fakeEngine{},
		Store:  &fakeStore{},
		Logger: logger.New(logger.Options{ServiceName: "sweep-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	assert.Equal(t, defaultLookback, s.lookback)
	assert.Equal(t, defaultBatchSize, s.batchSize)
	assert.Equal(t, defaultConcurrency, s.concurrency)
	assert.Equal(t, "reconcile-sweep", s.Name())

	_, err = New(Params{Store: &fakeStore{}})
	assert.Error(t, err)
}
