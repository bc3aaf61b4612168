package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/busline-backend/internal/carts"
	"github.com/angelmondragon/busline-backend/internal/invoices"
	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
)

const manualRetryScope = "manual_retry:"

// RetryPurchase is the agent-triggered completion retry. It reuses the stored
// purchase id/uuid, calls CompletePurchase exactly once and never creates a
// purchase.
func (e *Engine) RetryPurchase(ctx context.Context, reference, agentID string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	started := e.now()
	ctx = e.logg.WithTrigger(e.logg.WithAgentID(e.logg.WithReference(ctx, reference), agentID), string(enums.TriggerManualRetry))

	res, err := e.retry(ctx, reference, agentID)
	if res != nil {
		e.metrics.ObserveOutcome(string(res.Status), string(enums.TriggerManualRetry), e.now().Sub(started))
	}
	return res, err
}

func (e *Engine) retry(ctx context.Context, reference, agentID string) (*Result, error) {
	payment, err := e.carts.LoadPayment(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no reconciliation record for this reference")
	}

	switch payment.Status {
	case enums.ReconciliationConfirmed:
		return alreadyProcessed(reference, payment.Status, payment), nil
	case enums.ReconciliationCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled payments cannot be retried")
	}
	if !payment.HasPurchase() {
		stage := enums.FailureStagePurchaseCreation
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no purchase was created for this reference").
			WithDetails(map[string]any{"stage": stage, "message": Guidance(stage)})
	}

	allowed, count, err := e.limiter.FixedWindowAllow(ctx, manualRetryScope+reference, int64(e.settings.ManualRetryLimit), e.settings.ManualRetryWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retry limiter unavailable")
	}
	if !allowed {
		e.logg.Warn(e.logg.WithField(ctx, "attempts", count), "manual retry rate limited")
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many retries for this reference").
			WithDetails(map[string]any{"limit": e.settings.ManualRetryLimit, "window": e.settings.ManualRetryWindow.String()})
	}

	o, err := e.retryLocked(ctx, payment)
	if err != nil {
		if errors.Is(err, ErrLockContention) {
			e.metrics.IncLockContention()
			return &Result{
				Reference:            reference,
				Status:               enums.PollPaymentProcessing,
				ReconciliationStatus: payment.Status,
			}, nil
		}
		return nil, err
	}
	o.agentID = agentID
	e.finish(ctx, o)
	e.logg.Info(e.logg.WithField(ctx, "status", string(o.status)), "manual retry finished")
	return o.result(), nil
}

func (e *Engine) retryLocked(ctx context.Context, payment *models.Payment) (*outcome, error) {
	reference := payment.Reference
	token, acquired, err := e.store.AcquireLock(ctx, reference, e.settings.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "processing lock unavailable")
	}
	if !acquired {
		return nil, ErrLockContention
	}
	defer e.releaseLock(ctx, reference, token)
	// Completion and the marker must land even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	o := &outcome{
		reference: reference,
		source:    enums.TriggerManualRetry,
		snapshot: &invoices.Snapshot{
			Reference: reference,
			State:     payment.InvoiceState,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
		},
		key: carts.CartKey{
			Reference:      reference,
			RelationalID:   deref(payment.CartID),
			DocumentID:     deref(payment.DocumentID),
			ProviderCartID: deref(payment.ProviderCartID),
		},
		purchase: &purchases.Purchase{
			ID:   deref(payment.PurchaseID),
			UUID: deref(payment.PurchaseUUID),
		},
		manualRetry: true,
	}
	o.cart = carts.CartSummary{
		CartID:         o.key.RelationalID,
		DocumentID:     o.key.DocumentID,
		ProviderCartID: o.key.ProviderCartID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	}
	if payment.RawInvoiceState != nil {
		o.snapshot.RawState = *payment.RawInvoiceState
	}

	e.complete(ctx, o, payment.Amount, payment.Currency)
	e.markProcessed(ctx, reference, o.status)
	return o, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
