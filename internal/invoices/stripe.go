package invoices

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/invoice"

	pkgstripe "github.com/angelmondragon/busline-backend/pkg/stripe"
)

const stripeBackend = "stripe"

// StripeInvoicePrefix identifies references that are Stripe invoice ids.
const StripeInvoicePrefix = "in_"

type stripeInvoiceGetter func(ctx context.Context, id string) (*stripe.Invoice, error)

// StripeSource reads invoices created for online card payments.
type StripeSource struct {
	get stripeInvoiceGetter
	now func() time.Time
}

// NewStripeSource expects stripe.Key to be configured by pkg/stripe.NewClient.
func NewStripeSource(_ *pkgstripe.Client) *StripeSource {
	return &StripeSource{get: getStripeInvoice, now: time.Now}
}

func getStripeInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return invoice.Get(id, params)
}

// FetchInvoice implements Source.
func (s *StripeSource) FetchInvoice(ctx context.Context, reference string) (*Snapshot, error) {
	inv, err := s.get(ctx, reference)
	if err != nil {
		if pkgstripe.IsResourceMissing(err) {
			return nil, ErrNotFound
		}
		return nil, sourceError(stripeBackend, "get invoice", err)
	}

	rawState := string(inv.Status)
	cents := inv.AmountDue
	if inv.Status == stripe.InvoiceStatusPaid {
		cents = inv.AmountPaid
	}

	return &Snapshot{
		Reference:  reference,
		State:      Normalize(rawState),
		RawState:   rawState,
		Amount:     decimal.New(cents, -2),
		Currency:   strings.ToUpper(string(inv.Currency)),
		Backend:    stripeBackend,
		LastSeenAt: s.now().UTC(),
	}, nil
}
