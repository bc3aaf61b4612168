package invoices

import (
	"context"
	"errors"
	"strings"
)

// Router dispatches a reference to the backend that issued it. Stripe
// invoice ids are recognised by prefix; everything else goes to the primary.
type Router struct {
	primary Source
	stripe  Source
}

func NewRouter(primary, stripe Source) (*Router, error) {
	if primary == nil {
		return nil, errors.New("primary invoice source is required")
	}
	return &Router{primary: primary, stripe: stripe}, nil
}

// FetchInvoice implements Source.
func (r *Router) FetchInvoice(ctx context.Context, reference string) (*Snapshot, error) {
	return r.sourceFor(reference).FetchInvoice(ctx, reference)
}

func (r *Router) sourceFor(reference string) Source {
	if r.stripe != nil && strings.HasPrefix(reference, StripeInvoicePrefix) {
		return r.stripe
	}
	return r.primary
}
