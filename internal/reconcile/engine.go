package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/internal/carts"
	"github.com/angelmondragon/busline-backend/internal/invoices"
	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/metrics"
)

// InvoiceSource reads the current invoice state for a reference.
type InvoiceSource interface {
	FetchInvoice(ctx context.Context, reference string) (*invoices.Snapshot, error)
}

// PurchaseProvider is the booking provider boundary.
type PurchaseProvider interface {
	CreatePurchase(ctx context.Context, cartID string, opts purchases.CreateOptions) (*purchases.Purchase, error)
	CompletePurchase(ctx context.Context, id, purchaseUUID string, cc purchases.CompletionContext) (*purchases.Completion, error)
	UpdateBookingStatus(ctx context.Context, cartID string, patch purchases.BookingPatch) error
}

// CartStore is the slice of the dual-store synchronizer the engine uses.
type CartStore interface {
	KeyFor(ctx context.Context, reference string) (carts.CartKey, error)
	Resolve(ctx context.Context, key carts.CartKey) (carts.Resolution, error)
	Apply(ctx context.Context, outcome carts.Outcome) (carts.Resolution, error)
	LoadPayment(ctx context.Context, reference string) (*models.Payment, error)
}

// Notification describes a terminal outcome for the fan-out.
type Notification struct {
	Reference      string
	Status         enums.ReconciliationStatus
	Source         enums.TriggerSource
	AgentID        string
	Cart           carts.CartSummary
	PurchaseID     string
	PurchaseUUID   string
	Amount         decimal.Decimal
	Currency       string
	FailureStage   *enums.FailureStage
	FailureMessage string
	OccurredAt     time.Time
}

// Notifier hands a terminal outcome to the notification fan-out.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RateLimiter bounds manual retries per reference.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params wires an Engine.
type Params struct {
	Invoices      InvoiceSource
	Purchases     PurchaseProvider
	Carts         CartStore
	Store         IdempotencyStore
	Notifier      Notifier
	Limiter       RateLimiter
	Metrics       *metrics.ReconcileMetrics
	Logger        *logger.Logger
	Settings      config.ReconcileConfig
	CreateOptions purchases.CreateOptions
	Clock         func() time.Time
}

// Engine turns invoice observations into at most one ticket per reference.
type Engine struct {
	invoices  InvoiceSource
	purchases PurchaseProvider
	carts     CartStore
	store     IdempotencyStore
	notifier  Notifier
	limiter   RateLimiter
	metrics   *metrics.ReconcileMetrics
	logg      *logger.Logger
	settings  config.ReconcileConfig
	createOpt purchases.CreateOptions
	now       func() time.Time
}

func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.Invoices == nil:
		return nil, errors.New("invoice source required")
	case p.Purchases == nil:
		return nil, errors.New("purchase provider required")
	case p.Carts == nil:
		return nil, errors.New("cart store required")
	case p.Store == nil:
		return nil, errors.New("idempotency store required")
	case p.Notifier == nil:
		return nil, errors.New("notifier required")
	case p.Limiter == nil:
		return nil, errors.New("rate limiter required")
	case p.Logger == nil:
		return nil, errors.New("logger required")
	}
	settings := p.Settings
	if settings.LockTTL <= 0 {
		settings.LockTTL = 5 * time.Minute
	}
	if settings.ManualRetryLimit <= 0 {
		settings.ManualRetryLimit = 3
	}
	if settings.ManualRetryWindow <= 0 {
		settings.ManualRetryWindow = time.Hour
	}
	clock := p.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		invoices:  p.Invoices,
		purchases: p.Purchases,
		carts:     p.Carts,
		store:     p.Store,
		notifier:  p.Notifier,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
		logg:      p.Logger,
		settings:  settings,
		createOpt: p.CreateOptions,
		now:       clock,
	}, nil
}

// outcome is everything decided while the lock was held.
type outcome struct {
	reference   string
	source      enums.TriggerSource
	snapshot    *invoices.Snapshot
	key         carts.CartKey
	cart        carts.CartSummary
	status      enums.ReconciliationStatus
	poll        enums.PollStatus
	purchase    *purchases.Purchase
	stage       *enums.FailureStage
	message     string
	manualRetry bool
	skipPersist bool
	agentID     string
}

func (o *outcome) fail(stage enums.FailureStage, poll enums.PollStatus, message string) {
	o.status = enums.ReconciliationPaymentFailed
	o.poll = poll
	o.stage = &stage
	o.message = message
}

func (o *outcome) purchaseIDs() (string, string) {
	if o.purchase == nil {
		return "", ""
	}
	return o.purchase.ID, o.purchase.UUID
}

func (o *outcome) result() *Result {
	id, uuid := o.purchaseIDs()
	res := &Result{
		Reference:            o.reference,
		Status:               o.poll,
		ReconciliationStatus: o.status,
		PurchaseID:           id,
		PurchaseUUID:         uuid,
		Stage:                o.stage,
	}
	if o.snapshot != nil {
		res.InvoiceState = o.snapshot.State
	}
	if o.stage != nil {
		res.Message = Guidance(*o.stage)
	}
	return res
}

// Reconcile runs one pass for reference on behalf of source.
func (e *Engine) Reconcile(ctx context.Context, reference string, source enums.TriggerSource) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	started := e.now()
	ctx = e.logg.WithTrigger(e.logg.WithReference(ctx, reference), string(source))

	res, err := e.reconcile(ctx, reference, source)
	if res != nil {
		e.metrics.ObserveOutcome(string(res.Status), string(source), e.now().Sub(started))
	}
	return res, err
}

func (e *Engine) reconcile(ctx context.Context, reference string, source enums.TriggerSource) (*Result, error) {
	if res, err := e.shortCircuit(ctx, reference); err != nil || res != nil {
		return res, err
	}

	snapshot, err := e.invoices.FetchInvoice(ctx, reference)
	if err != nil {
		if errors.Is(err, invoices.ErrNotFound) {
			e.logg.Info(ctx, (&NotFoundError{Reference: reference}).Error())
			return &Result{Reference: reference, Status: enums.PollNotFound}, nil
		}
		adapterErr := &AdapterError{Op: "fetch_invoice", Err: err}
		e.logg.Error(ctx, "invoice lookup failed", adapterErr)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, adapterErr, "invoice lookup failed")
	}

	switch snapshot.State {
	case enums.InvoicePaid:
		return e.handlePaid(ctx, snapshot, source)

	case enums.InvoiceInProgress:
		o := &outcome{
			reference: reference,
			source:    source,
			snapshot:  snapshot,
			key:       carts.KeyForReference(reference),
			status:    enums.ReconciliationPaymentProcessing,
			poll:      enums.PollPaymentProcessing,
		}
		e.finish(ctx, o)
		return o.result(), nil

	case enums.InvoiceCancelled, enums.InvoiceFailed:
		o := &outcome{
			reference: reference,
			source:    source,
			snapshot:  snapshot,
			key:       carts.KeyForReference(reference),
			status:    enums.ReconciliationCancelled,
			poll:      enums.PollCancelled,
		}
		if snapshot.State == enums.InvoiceFailed {
			o.status = enums.ReconciliationPaymentFailed
			o.poll = enums.PollPaymentFailed
			o.message = fmt.Sprintf("invoice reported %q", snapshot.RawState)
		}
		if key, err := e.carts.KeyFor(ctx, reference); err == nil {
			o.key = key
		}
		e.markProcessed(ctx, reference, o.status)
		e.finish(ctx, o)
		return o.result(), nil

	default:
		e.logg.Warn(e.logg.WithField(ctx, "raw_state", snapshot.RawState), "invoice state not recognized")
		return &Result{Reference: reference, Status: enums.PollUnknown, InvoiceState: snapshot.State}, nil
	}
}

// shortCircuit returns a result when the reference is already terminal,
// consulting the durable store first and the processed marker second.
func (e *Engine) shortCircuit(ctx context.Context, reference string) (*Result, error) {
	payment, err := e.carts.LoadPayment(ctx, reference)
	if err != nil {
		e.logg.Error(ctx, "failed to load durable status", err)
	} else if payment != nil && payment.Status.IsTerminal() {
		return alreadyProcessed(reference, payment.Status, payment), nil
	}

	status, found, err := e.store.ProcessedStatus(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "processed marker unavailable")
	}
	if found && status.IsTerminal() {
		return alreadyProcessed(reference, status, payment), nil
	}
	return nil, nil
}

func alreadyProcessed(reference string, status enums.ReconciliationStatus, payment *models.Payment) *Result {
	res := &Result{
		Reference:            reference,
		Status:               enums.PollAlreadyProcessed,
		ReconciliationStatus: status,
	}
	if payment != nil {
		res.InvoiceState = payment.InvoiceState
		if payment.PurchaseID != nil {
			res.PurchaseID = *payment.PurchaseID
		}
		if payment.PurchaseUUID != nil {
			res.PurchaseUUID = *payment.PurchaseUUID
		}
		if status == enums.ReconciliationPaymentFailed && payment.FailureStage != nil {
			res.Stage = payment.FailureStage
			res.Message = Guidance(*payment.FailureStage)
		}
	}
	return res
}

func (e *Engine) handlePaid(ctx context.Context, snapshot *invoices.Snapshot, source enums.TriggerSource) (*Result, error) {
	o, err := e.purchaseOnce(ctx, snapshot, source)
	if errors.Is(err, ErrLockContention) {
		e.metrics.IncLockContention()
		e.logg.Info(ctx, "reference locked by another worker")
		return &Result{
			Reference:            snapshot.Reference,
			Status:               enums.PollPaymentProcessing,
			ReconciliationStatus: enums.ReconciliationPaymentProcessing,
			InvoiceState:         snapshot.State,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	e.finish(ctx, o)
	return o.result(), nil
}

// purchaseOnce holds the processing lock across purchase creation and
// completion only. The lock is released before anything is persisted.
func (e *Engine) purchaseOnce(ctx context.Context, snapshot *invoices.Snapshot, source enums.TriggerSource) (*outcome, error) {
	reference := snapshot.Reference
	token, acquired, err := e.store.AcquireLock(ctx, reference, e.settings.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "processing lock unavailable")
	}
	if !acquired {
		return nil, ErrLockContention
	}
	defer e.releaseLock(ctx, reference, token)

	if status, found, err := e.store.ProcessedStatus(ctx, reference); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "processed marker unavailable")
	} else if found && status.IsTerminal() {
		return &outcome{
			reference:   reference,
			source:      source,
			snapshot:    snapshot,
			status:      status,
			poll:        enums.PollAlreadyProcessed,
			skipPersist: true,
		}, nil
	}

	// Provider calls are bounded by the purchases client; once the lock is
	// held they run to completion regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	o := &outcome{reference: reference, source: source, snapshot: snapshot}
	key, err := e.carts.KeyFor(ctx, reference)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "cart key lookup failed, using reference scan")
	}
	resolution, err := e.carts.Resolve(ctx, key)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "cart resolution incomplete")
	}
	o.key = resolution.Key
	o.cart = resolution.Primary()

	providerCartID := resolution.ProviderCartID()
	if providerCartID == "" {
		o.fail(enums.FailureStageCartNotFound, enums.PollBusbudFailed, "no cart matched the payment reference")
		e.markProcessed(ctx, reference, o.status)
		return o, nil
	}

	opts := e.createOpt
	if snapshot.Currency != "" {
		opts.Currency = snapshot.Currency
	}
	purchase, err := e.purchases.CreatePurchase(ctx, providerCartID, opts)
	if err != nil {
		e.metrics.IncProviderCall("create_purchase", "error")
		e.logg.Error(e.logg.WithField(ctx, "provider_cart_id", providerCartID), "purchase creation failed", err)
		o.fail(enums.FailureStagePurchaseCreation, enums.PollBusbudFailed, err.Error())
		e.markProcessed(ctx, reference, o.status)
		return o, nil
	}
	e.metrics.IncProviderCall("create_purchase", "ok")
	o.purchase = purchase

	e.complete(ctx, o, snapshot.Amount, snapshot.Currency)
	e.markProcessed(ctx, reference, o.status)
	return o, nil
}

// complete performs exactly one completion call for o.purchase and classifies
// the answer.
func (e *Engine) complete(ctx context.Context, o *outcome, amount decimal.Decimal, currency string) {
	completion, err := e.purchases.CompletePurchase(ctx, o.purchase.ID, o.purchase.UUID, purchases.CompletionContext{
		PaymentReference: o.reference,
		Amount:           amount.StringFixed(2),
		Currency:         currency,
		Source:           string(o.source),
	})
	switch {
	case err != nil:
		e.metrics.IncProviderCall("complete_purchase", "error")
		e.logg.Error(e.logg.WithField(ctx, "purchase_id", o.purchase.ID), "purchase completion failed", err)
		o.fail(enums.FailureStagePurchaseCompletion, enums.PollBusbudFailed, err.Error())
	case !IsCompleted(completion):
		e.metrics.IncProviderCall("complete_purchase", "not_completed")
		notCompleted := &PurchaseNotCompletedError{
			PurchaseID:  o.purchase.ID,
			Status:      completion.Status,
			PollOutcome: completion.PollOutcome,
		}
		e.logg.Warn(e.logg.WithField(ctx, "error", notCompleted.Error()), "purchase not completed")
		o.fail(enums.FailureStagePurchaseCompletion, enums.PollPaymentFailed, notCompleted.Error())
	default:
		e.metrics.IncProviderCall("complete_purchase", "ok")
		o.status = enums.ReconciliationConfirmed
		o.poll = enums.PollConfirmed
		o.stage = nil
		o.message = ""
	}
}

func (e *Engine) releaseLock(ctx context.Context, reference, token string) {
	if err := e.store.ReleaseLock(context.WithoutCancel(ctx), reference, token); err != nil {
		e.logg.Error(ctx, "failed to release processing lock", err)
	}
}

func (e *Engine) markProcessed(ctx context.Context, reference string, status enums.ReconciliationStatus) {
	if err := e.store.MarkProcessed(ctx, reference, status, e.settings.ProcessedTTL); err != nil {
		e.logg.Error(ctx, "failed to write processed marker", err)
	}
}

// finish persists the outcome, mirrors it on the provider and hands it to the
// fan-out. None of these steps change the result returned to the caller.
func (e *Engine) finish(ctx context.Context, o *outcome) {
	if o.skipPersist {
		return
	}
	ctx = context.WithoutCancel(ctx)
	purchaseID, purchaseUUID := o.purchaseIDs()
	at := e.now()

	var amount decimal.Decimal
	var currency, rawState string
	var invoiceState enums.InvoiceState
	if o.snapshot != nil {
		amount = o.snapshot.Amount
		currency = o.snapshot.Currency
		rawState = o.snapshot.RawState
		invoiceState = o.snapshot.State
	}

	resolution, err := e.carts.Apply(ctx, carts.Outcome{
		Reference:       o.reference,
		Key:             o.key,
		Status:          o.status,
		InvoiceState:    invoiceState,
		RawInvoiceState: rawState,
		Amount:          amount,
		Currency:        currency,
		PurchaseID:      purchaseID,
		PurchaseUUID:    purchaseUUID,
		FailureStage:    o.stage,
		FailureMessage:  o.message,
		Source:          o.source,
		ManualRetry:     o.manualRetry,
		OccurredAt:      at,
	})
	if err != nil {
		e.logg.Error(ctx, "failed to persist reconciliation outcome", err)
	}
	summary := resolution.Primary()
	if summary.CartID == "" && summary.DocumentID == "" {
		summary = o.cart
	}

	if purchaseID != "" && summary.ProviderCartID != "" {
		patch := purchases.BookingPatch{
			Status:           string(o.status),
			PaymentReference: o.reference,
			PurchaseID:       purchaseID,
			PurchaseUUID:     purchaseUUID,
		}
		if err := e.purchases.UpdateBookingStatus(ctx, summary.ProviderCartID, patch); err != nil {
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "booking status mirror failed")
		}
	}

	if !o.status.IsTerminal() {
		return
	}
	if amount.IsZero() {
		amount = summary.Amount
	}
	if currency == "" {
		currency = summary.Currency
	}
	err = e.notifier.Notify(ctx, Notification{
		Reference:      o.reference,
		Status:         o.status,
		Source:         o.source,
		AgentID:        o.agentID,
		Cart:           summary,
		PurchaseID:     purchaseID,
		PurchaseUUID:   purchaseUUID,
		Amount:         amount,
		Currency:       currency,
		FailureStage:   o.stage,
		FailureMessage: o.message,
		OccurredAt:     at,
	})
	if err != nil {
		e.logg.Error(ctx, "failed to enqueue notification", err)
	}
}
