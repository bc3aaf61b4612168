// Package sweep re-drives payment references that no trigger has settled yet.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const (
	defaultLookback    = 72 * time.Hour
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

type reconciler interface {
	Reconcile(ctx context.Context, reference string, source enums.TriggerSource) (*reconcile.Result, error)
}

type pendingLister interface {
	ListPendingReferences(ctx context.Context, since time.Time, limit int) ([]string, error)
}

type Params struct {
	Engine      reconciler
	Store       pendingLister
	Logger      *logger.Logger
	Lookback    time.Duration
	BatchSize   int
	Concurrency int
}

// Sweeper is a cron job: each run reconciles up to BatchSize references that
// were touched within Lookback and are still pending or processing.
type Sweeper struct {
	engine      reconciler
	store       pendingLister
	logg        *logger.Logger
	lookback    time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
}

func New(p Params) (*Sweeper, error) {
	if p.Engine == nil {
		return nil, errors.New("reconcile engine required")
	}
	if p.Store == nil {
		return nil, errors.New("pending reference store required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	s := &Sweeper{
		engine:      p.Engine,
		store:       p.Store,
		logg:        p.Logger,
		lookback:    p.Lookback,
		batchSize:   p.BatchSize,
		concurrency: p.Concurrency,
		now:         time.Now,
	}
	if s.lookback <= 0 {
		s.lookback = defaultLookback
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s, nil
}

func (s *Sweeper) Name() string { return "reconcile-sweep" }

// Run never stops on a single reference failure. Every failed reference is
// reported in the returned error.
func (s *Sweeper) Run(ctx context.Context) error {
	since := s.now().UTC().Add(-s.lookback)
	refs, err := s.store.ListPendingReferences(ctx, since, s.batchSize)
	if err != nil {
		return fmt.Errorf("list pending references: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		errs   error
		counts = map[enums.PollStatus]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := s.engine.Reconcile(gctx, ref, enums.TriggerSweep)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", ref, err))
				return nil
			}
			if res != nil {
				counts[res.Status]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	fields := map[string]any{
		"references": len(refs),
		"failed":     len(multierr.Errors(errs)),
	}
	for status, n := range counts {
		fields["status_"+string(status)] = n
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "reconcile sweep finished")
	return errs
}
