package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/busline-backend/internal/invoices"
	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
)

func TestReconcileHappyPath(t *testing.T) {
	h := newHarness(t, paidInvoice("PNR123"), completingProvider(), cartsWithProviderCart("bb-9"))

	res, err := h.engine.Reconcile(context.Background(), "PNR123", enums.TriggerPoll)
	require.NoError(t, err)

	assert.Equal(t, enums.PollConfirmed, res.Status)
	assert.Equal(t, enums.ReconciliationConfirmed, res.ReconciliationStatus)
	assert.Equal(t, "p-100", res.PurchaseID)
	assert.Equal(t, "uuid-100", res.PurchaseUUID)
	assert.Empty(t, res.Message)

	assert.Equal(t, 1, h.provider.Creates())
	assert.Equal(t, []string{"bb-9"}, h.provider.createdFor)
	assert.Equal(t, 1, h.provider.Completes())
	assert.Equal(t, [][2]string{{"p-100", "uuid-100"}}, h.provider.completedWith)
	require.Len(t, h.provider.patches, 1)
	assert.Equal(t, "confirmed", h.provider.patches[0].Status)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, enums.ReconciliationConfirmed, sent[0].Status)
	assert.Equal(t, "bb-9", sent[0].Cart.ProviderCartID)
	evt, ok := enums.OutboxEventTypeFor(sent[0].Status)
	require.True(t, ok)
	assert.Equal(t, "payment.confirmed", evt.WebhookEventName())

	status, found, err := h.store.ProcessedStatus(context.Background(), "PNR123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, enums.ReconciliationConfirmed, status)

	applied := h.carts.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, enums.TriggerPoll, applied[0].Source)
}

func TestReconcileProviderRejects(t *testing.T) {
	provider := &fakeProvider{completion: &purchases.Completion{Status: "failed", PollOutcome: purchases.OutcomeFailed}}
	h := newHarness(t, paidInvoice("PNR123"), provider, cartsWithProviderCart("bb-9"))
	ctx := context.Background()

	res, err := h.engine.Reconcile(ctx, "PNR123", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollPaymentFailed, res.Status)
	assert.Equal(t, enums.ReconciliationPaymentFailed, res.ReconciliationStatus)
	require.NotNil(t, res.Stage)
	assert.Equal(t, enums.FailureStagePurchaseCompletion, *res.Stage)
	assert.Equal(t, Guidance(enums.FailureStagePurchaseCompletion), res.Message)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, enums.ReconciliationPaymentFailed, sent[0].Status)
	evt, _ := enums.OutboxEventTypeFor(sent[0].Status)
	assert.Equal(t, enums.EventTicketFailed, evt)

	second, err := h.engine.Reconcile(ctx, "PNR123", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollAlreadyProcessed, second.Status)
	assert.Equal(t, enums.ReconciliationPaymentFailed, second.ReconciliationStatus)
	assert.Equal(t, 1, h.invoices.Calls())
	assert.Equal(t, 1, h.provider.Creates())
}

func TestReconcileConcurrentPolls(t *testing.T) {
	provider := completingProvider()
	provider.createStarted = make(chan struct{}, 1)
	provider.createGate = make(chan struct{})
	h := newHarness(t, paidInvoice("PNR123"), provider, cartsWithProviderCart("bb-9"))
	ctx := context.Background()

	done := make(chan *Result, 1)
	go func() {
		res, err := h.engine.Reconcile(ctx, "PNR123", enums.TriggerPoll)
		if err != nil {
			t.Errorf("winner: %v", err)
		}
		done <- res
	}()

	<-provider.createStarted
	loser, err := h.engine.Reconcile(ctx, "PNR123", enums.TriggerEvent)
	require.NoError(t, err)
	assert.Equal(t, enums.PollPaymentProcessing, loser.Status)

	close(provider.createGate)
	winner := <-done
	require.NotNil(t, winner)
	assert.Equal(t, enums.PollConfirmed, winner.Status)
	assert.Equal(t, 1, provider.Creates())
}

func TestReconcileCallerCancelDuringCompletionStillConfirms(t *testing.T) {
	provider := completingProvider()
	provider.completeStarted = make(chan struct{}, 1)
	provider.completeGate = make(chan struct{})
	h := newHarness(t, paidInvoice("PNR-GONE"), provider, cartsWithProviderCart("bb-9"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *Result, 1)
	go func() {
		res, err := h.engine.Reconcile(ctx, "PNR-GONE", enums.TriggerEvent)
		if err != nil {
			t.Errorf("reconcile: %v", err)
		}
		done <- res
	}()

	<-provider.completeStarted
	cancel()
	close(provider.completeGate)

	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, enums.PollConfirmed, res.Status)
	assert.Equal(t, enums.ReconciliationConfirmed, res.ReconciliationStatus)
	assert.Nil(t, res.Stage)

	status, found, err := h.store.ProcessedStatus(context.Background(), "PNR-GONE")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, enums.ReconciliationConfirmed, status)

	payment, err := h.carts.LoadPayment(context.Background(), "PNR-GONE")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, enums.ReconciliationConfirmed, payment.Status)
}

func TestReconcileAtMostOnceCreateUnderLoad(t *testing.T) {
	h := newHarness(t, paidInvoice("PNR-LOAD"), completingProvider(), cartsWithProviderCart("bb-1"))
	ctx := context.Background()

	const callers = 25
	var wg sync.WaitGroup
	results := make(chan enums.PollStatus, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Reconcile(ctx, "PNR-LOAD", enums.TriggerSweep)
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			results <- res.Status
		}()
	}
	wg.Wait()
	close(results)

	confirmed := 0
	for status := range results {
		switch status {
		case enums.PollConfirmed:
			confirmed++
		case enums.PollPaymentProcessing, enums.PollAlreadyProcessed:
		default:
			t.Fatalf("unexpected status %q", status)
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, h.provider.Creates())
	assert.Equal(t, 1, h.provider.Completes())
}

func TestReconcileShortCircuitsOnDurableStatus(t *testing.T) {
	cartStore := cartsWithProviderCart("bb-9")
	purchaseID, purchaseUUID := "p-1", "u-1"
	cartStore.seed(models.Payment{Reference: "REF-1", Status: enums.ReconciliationConfirmed, PurchaseID: &purchaseID, PurchaseUUID: &purchaseUUID})
	h := newHarness(t, paidInvoice("REF-1"), completingProvider(), cartStore)

	res, err := h.engine.Reconcile(context.Background(), "REF-1", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollAlreadyProcessed, res.Status)
	assert.Equal(t, enums.ReconciliationConfirmed, res.ReconciliationStatus)
	assert.Equal(t, "p-1", res.PurchaseID)
	assert.Equal(t, 0, h.invoices.Calls())
	assert.Equal(t, 0, h.provider.Creates())
	assert.Empty(t, h.notifier.Sent())
}

func TestReconcileShortCircuitsOnProcessedMarker(t *testing.T) {
	h := newHarness(t, paidInvoice("REF-2"), completingProvider(), cartsWithProviderCart("bb-9"))
	require.NoError(t, h.store.MarkProcessed(context.Background(), "REF-2", enums.ReconciliationCancelled, time.Hour))

	res, err := h.engine.Reconcile(context.Background(), "REF-2", enums.TriggerEvent)
	require.NoError(t, err)
	assert.Equal(t, enums.PollAlreadyProcessed, res.Status)
	assert.Equal(t, enums.ReconciliationCancelled, res.ReconciliationStatus)
	assert.Equal(t, 0, h.invoices.Calls())
}

func TestReconcileNeverConfirmsOutsideAllowList(t *testing.T) {
	cases := []purchases.Completion{
		{Status: "pending", PollOutcome: purchases.OutcomeTimeout},
		{Status: "processing", PollOutcome: ""},
		{Status: "", PollOutcome: "unknown"},
	}
	for _, completion := range cases {
		provider := &fakeProvider{completion: &completion}
		h := newHarness(t, paidInvoice("REF-3"), provider, cartsWithProviderCart("bb-3"))

		res, err := h.engine.Reconcile(context.Background(), "REF-3", enums.TriggerPoll)
		require.NoError(t, err)
		assert.NotEqual(t, enums.PollConfirmed, res.Status)
		assert.Equal(t, enums.ReconciliationPaymentFailed, res.ReconciliationStatus)
	}
}

func TestIsCompleted(t *testing.T) {
	assert.True(t, IsCompleted(&purchases.Completion{PollOutcome: "completed"}))
	assert.True(t, IsCompleted(&purchases.Completion{Status: "BOOKED"}))
	assert.True(t, IsCompleted(&purchases.Completion{Status: " confirmed "}))
	assert.False(t, IsCompleted(&purchases.Completion{Status: "pending", PollOutcome: "timeout"}))
	assert.False(t, IsCompleted(&purchases.Completion{Status: "failed", PollOutcome: "failed"}))
	assert.False(t, IsCompleted(nil))
}

func TestReconcileProviderErrorsReportBusbudFailed(t *testing.T) {
	provider := completingProvider()
	provider.createErr = &purchases.ProviderError{Op: "create_purchase", StatusCode: 502, Body: "bad gateway"}
	h := newHarness(t, paidInvoice("REF-4"), provider, cartsWithProviderCart("bb-4"))

	res, err := h.engine.Reconcile(context.Background(), "REF-4", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollBusbudFailed, res.Status)
	require.NotNil(t, res.Stage)
	assert.Equal(t, enums.FailureStagePurchaseCreation, *res.Stage)
	assert.Equal(t, 0, provider.Completes())

	status, found, _ := h.store.ProcessedStatus(context.Background(), "REF-4")
	assert.True(t, found)
	assert.Equal(t, enums.ReconciliationPaymentFailed, status)
}

func TestReconcileCompletionErrorReportsBusbudFailed(t *testing.T) {
	provider := completingProvider()
	provider.completeErr = errors.New("connection reset")
	h := newHarness(t, paidInvoice("REF-5"), provider, cartsWithProviderCart("bb-5"))

	res, err := h.engine.Reconcile(context.Background(), "REF-5", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollBusbudFailed, res.Status)
	require.NotNil(t, res.Stage)
	assert.Equal(t, enums.FailureStagePurchaseCompletion, *res.Stage)
	assert.Equal(t, "p-100", res.PurchaseID)
}

func TestReconcileWithoutCart(t *testing.T) {
	cartStore := cartsWithProviderCart("")
	h := newHarness(t, paidInvoice("REF-6"), completingProvider(), cartStore)

	res, err := h.engine.Reconcile(context.Background(), "REF-6", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollBusbudFailed, res.Status)
	require.NotNil(t, res.Stage)
	assert.Equal(t, enums.FailureStageCartNotFound, *res.Stage)
	assert.Equal(t, Guidance(enums.FailureStageCartNotFound), res.Message)
	assert.Equal(t, 0, h.provider.Creates())
}

func TestReconcileInProgressTouchesStatusWithoutMarking(t *testing.T) {
	inv := paidInvoice("REF-7")
	inv.snapshot.State = enums.InvoiceInProgress
	h := newHarness(t, inv, completingProvider(), cartsWithProviderCart("bb-7"))
	ctx := context.Background()

	res, err := h.engine.Reconcile(ctx, "REF-7", enums.TriggerSweep)
	require.NoError(t, err)
	assert.Equal(t, enums.PollPaymentProcessing, res.Status)

	applied := h.carts.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, enums.ReconciliationPaymentProcessing, applied[0].Status)
	_, found, _ := h.store.ProcessedStatus(ctx, "REF-7")
	assert.False(t, found)
	assert.Empty(t, h.notifier.Sent())

	_, err = h.engine.Reconcile(ctx, "REF-7", enums.TriggerSweep)
	require.NoError(t, err)
	assert.Equal(t, 2, h.invoices.Calls())
}

func TestReconcileCancelledAndFailedInvoices(t *testing.T) {
	for state, want := range map[enums.InvoiceState]enums.PollStatus{
		enums.InvoiceCancelled: enums.PollCancelled,
		enums.InvoiceFailed:    enums.PollPaymentFailed,
	} {
		inv := paidInvoice("REF-8")
		inv.snapshot.State = state
		h := newHarness(t, inv, completingProvider(), cartsWithProviderCart("bb-8"))

		res, err := h.engine.Reconcile(context.Background(), "REF-8", enums.TriggerEvent)
		require.NoError(t, err)
		assert.Equal(t, want, res.Status)
		assert.Equal(t, 0, h.provider.Creates())

		_, found, _ := h.store.ProcessedStatus(context.Background(), "REF-8")
		assert.True(t, found)
		require.Len(t, h.notifier.Sent(), 1)
	}
}

func TestReconcileUnknownAndNotFound(t *testing.T) {
	inv := paidInvoice("REF-9")
	inv.snapshot.State = enums.InvoiceUnknown
	h := newHarness(t, inv, completingProvider(), cartsWithProviderCart("bb-9"))

	res, err := h.engine.Reconcile(context.Background(), "REF-9", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollUnknown, res.Status)
	assert.Empty(t, h.carts.Applied())

	inv.err = invoices.ErrNotFound
	res, err = h.engine.Reconcile(context.Background(), "REF-9", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollNotFound, res.Status)
}

func TestReconcileAdapterErrorPropagates(t *testing.T) {
	inv := paidInvoice("REF-10")
	inv.err = &invoices.SourceError{Backend: "accounting", Op: "search_read", Err: errors.New("401 unauthorized")}
	h := newHarness(t, inv, completingProvider(), cartsWithProviderCart("bb-10"))

	_, err := h.engine.Reconcile(context.Background(), "REF-10", enums.TriggerPoll)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	var adapterErr *AdapterError
	assert.ErrorAs(t, err, &adapterErr)
	_, found, _ := h.store.ProcessedStatus(context.Background(), "REF-10")
	assert.False(t, found)
}

func TestReconcileReportsProcessingWhileLockHeld(t *testing.T) {
	h := newHarness(t, paidInvoice("REF-11"), completingProvider(), cartsWithProviderCart("bb-11"))
	_, ok, err := h.store.AcquireLock(context.Background(), "REF-11", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.engine.Reconcile(context.Background(), "REF-11", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollPaymentProcessing, res.Status)
	assert.Equal(t, 0, h.provider.Creates())
}

func TestReconcilePersistenceErrorDoesNotChangeResult(t *testing.T) {
	cartStore := cartsWithProviderCart("bb-12")
	cartStore.applyErr = &PersistenceError{Reference: "REF-12", Err: errors.New("firestore unavailable")}
	h := newHarness(t, paidInvoice("REF-12"), completingProvider(), cartStore)

	res, err := h.engine.Reconcile(context.Background(), "REF-12", enums.TriggerPoll)
	require.NoError(t, err)
	assert.Equal(t, enums.PollConfirmed, res.Status)
	assert.Len(t, h.notifier.Sent(), 1)
}

func TestReconcileRequiresReference(t *testing.T) {
	h := newHarness(t, paidInvoice("x"), completingProvider(), cartsWithProviderCart("bb"))
	_, err := h.engine.Reconcile(context.Background(), "  ", enums.TriggerPoll)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
