package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"go.uber.org/multierr"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

type counterStore interface {
	IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// SalesCounters keeps daily ticket and revenue tallies for confirmed
// outcomes, overall and per branch, operator and payment type.
type SalesCounters struct {
	store counterStore
	ttl   time.Duration
	zone  *time.Location
}

func NewSalesCounters(store counterStore, cfg config.NotificationsConfig) (*SalesCounters, error) {
	if store == nil {
		return nil, errors.New("counter store required")
	}
	zone := time.UTC
	if name := strings.TrimSpace(cfg.CounterZone); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load counter zone %q: %w", name, err)
		}
		zone = loc
	}
	return &SalesCounters{store: store, ttl: cfg.CounterTTL, zone: zone}, nil
}

func (c *SalesCounters) Name() string { return "counters" }

func (c *SalesCounters) Handle(ctx context.Context, evt Event) error {
	if evt.Type != enums.EventTicketConfirmed {
		return nil
	}
	o := evt.Outcome
	at := o.OccurredAt
	if at.IsZero() {
		at = evt.OccurredAt
	}
	cents := o.Amount.Shift(2).Round(0).IntPart()

	var errs error
	for _, scope := range c.scopes(at, o.BranchID, o.OperatorID, o.PaymentType) {
		if _, err := c.store.IncrByWithTTL(ctx, c.store.CounterKey("tickets:"+scope), 1, c.ttl); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tickets %s: %w", scope, err))
		}
		if cents == 0 {
			continue
		}
		if _, err := c.store.IncrByWithTTL(ctx, c.store.CounterKey("revenue_cents:"+scope), cents, c.ttl); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("revenue %s: %w", scope, err))
		}
	}
	return errs
}

func (c *SalesCounters) scopes(at time.Time, branch, operator, paymentType string) []string {
	day := at.In(c.zone).Format("2006-01-02")
	scopes := []string{day}
	if b := strings.TrimSpace(branch); b != "" {
		scopes = append(scopes, day+":branch:"+b)
	}
	if op := strings.TrimSpace(operator); op != "" {
		scopes = append(scopes, day+":operator:"+op)
	}
	if pt := strings.TrimSpace(paymentType); pt != "" {
		scopes = append(scopes, day+":payment_type:"+pt)
	}
	return scopes
}
