package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
)

const squareBackend = "square"

type squareInvoiceGetter interface {
	GetInvoice(ctx context.Context, invoiceID string) (*sq.Invoice, error)
}

// SquareSource reads invoices issued from the point-of-sale account.
type SquareSource struct {
	client squareInvoiceGetter
	now    func() time.Time
}

func NewSquareSource(client squareInvoiceGetter) (*SquareSource, error) {
	if client == nil {
		return nil, errors.New("square client is required")
	}
	return &SquareSource{client: client, now: time.Now}, nil
}

// FetchInvoice implements Source.
func (s *SquareSource) FetchInvoice(ctx context.Context, reference string) (*Snapshot, error) {
	invoice, err := s.client.GetInvoice(ctx, reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, ErrNotFound
		}
		return nil, sourceError(squareBackend, "get invoice", err)
	}

	rawState := ""
	if status := invoice.GetStatus(); status != nil {
		rawState = string(*status)
	}

	amount := decimal.Zero
	currency := ""
	for _, req := range invoice.GetPaymentRequests() {
		money := req.GetComputedAmountMoney()
		if money == nil {
			continue
		}
		if cents := money.GetAmount(); cents != nil {
			amount = amount.Add(decimal.New(*cents, -2))
		}
		if cur := money.GetCurrency(); cur != nil && currency == "" {
			currency = string(*cur)
		}
	}

	return &Snapshot{
		Reference:  reference,
		State:      Normalize(rawState),
		RawState:   rawState,
		Amount:     amount,
		Currency:   currency,
		Backend:    squareBackend,
		LastSeenAt: s.now().UTC(),
	}, nil
}
