package carts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Outcome is one reconciliation result to be written to both stores.
type Outcome struct {
	Reference       string
	Key             CartKey
	Status          enums.ReconciliationStatus
	InvoiceState    enums.InvoiceState
	RawInvoiceState string
	Amount          decimal.Decimal
	Currency        string
	PurchaseID      string
	PurchaseUUID    string
	FailureStage    *enums.FailureStage
	FailureMessage  string
	Source          enums.TriggerSource
	ManualRetry     bool
	OccurredAt      time.Time
}

// Resolution is every cart row and cart document that answers to one key.
type Resolution struct {
	Key       CartKey
	Carts     []models.Cart
	Documents []CartDocument
}

// Empty reports whether neither store matched.
func (r Resolution) Empty() bool {
	return len(r.Carts) == 0 && len(r.Documents) == 0
}

// ProviderCartID returns the booking provider cart id from the first store
// that knows it.
func (r Resolution) ProviderCartID() string {
	for _, c := range r.Carts {
		if c.ProviderCartID != "" {
			return c.ProviderCartID
		}
	}
	for _, d := range r.Documents {
		if d.BusbudCartID != "" {
			return d.BusbudCartID
		}
	}
	return r.Key.ProviderCartID
}

// Primary returns the descriptive fields used in notifications.
func (r Resolution) Primary() CartSummary {
	var s CartSummary
	if len(r.Carts) > 0 {
		c := r.Carts[0]
		s.CartID = c.ID
		s.PaymentType = string(c.PaymentType)
		s.Amount = c.Total()
		s.Currency = c.Currency
		s.BranchID = deref(c.BranchID)
		s.OperatorID = deref(c.OperatorID)
		s.CustomerEmail = deref(c.CustomerEmail)
		s.CustomerName = deref(c.CustomerName)
		s.DocumentID = deref(c.DocumentID)
	}
	if len(r.Documents) > 0 {
		d := r.Documents[0]
		if s.DocumentID == "" {
			s.DocumentID = d.ID
		}
		if s.CartID == "" {
			s.CartID = d.RelationalCartID
		}
		s.PaymentType = firstNonEmpty(s.PaymentType, d.PaymentType)
		s.BranchID = firstNonEmpty(s.BranchID, d.BranchID)
		s.OperatorID = firstNonEmpty(s.OperatorID, d.OperatorID)
		s.CustomerEmail = firstNonEmpty(s.CustomerEmail, d.CustomerEmail)
		s.CustomerName = firstNonEmpty(s.CustomerName, d.CustomerName)
	}
	s.ProviderCartID = r.ProviderCartID()
	return s
}

// CartSummary flattens the cart fields downstream consumers need.
type CartSummary struct {
	CartID         string
	DocumentID     string
	ProviderCartID string
	PaymentType    string
	BranchID       string
	OperatorID     string
	CustomerEmail  string
	CustomerName   string
	Amount         decimal.Decimal
	Currency       string
}

// Service keeps the relational and document copies of a cart in agreement.
type Service interface {
	KeyFor(ctx context.Context, reference string) (CartKey, error)
	Resolve(ctx context.Context, key CartKey) (Resolution, error)
	Apply(ctx context.Context, outcome Outcome) (Resolution, error)
	CurrentStatus(ctx context.Context, reference string) (enums.ReconciliationStatus, bool, error)
	LoadPayment(ctx context.Context, reference string) (*models.Payment, error)
	ListPendingReferences(ctx context.Context, since time.Time, limit int) ([]string, error)
}

type service struct {
	repo  Repository
	tx    txRunner
	docs  DocumentStore
	logg  *logger.Logger
	now   func() time.Time
	newID func() uuid.UUID
}

// NewService wires the synchronizer over both stores.
func NewService(repo Repository, tx txRunner, docs DocumentStore, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("carts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document store required")
	}
	return &service{
		repo:  repo,
		tx:    tx,
		docs:  docs,
		logg:  logg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}, nil
}

// KeyFor builds the best key known for a reference. Stored cross references
// from an earlier run are used when present.
func (s *service) KeyFor(ctx context.Context, reference string) (CartKey, error) {
	key := KeyForReference(reference)
	payment, err := s.LoadPayment(ctx, reference)
	if err != nil {
		return key, err
	}
	if payment != nil {
		key.RelationalID = deref(payment.CartID)
		key.DocumentID = deref(payment.DocumentID)
		key.ProviderCartID = deref(payment.ProviderCartID)
	}
	return key, nil
}

// Resolve looks each store up by exact id, then by the other store's id, then
// by scanning for the reference. Every match is returned.
func (s *service) Resolve(ctx context.Context, key CartKey) (Resolution, error) {
	res := Resolution{Key: key}
	var errs error

	carts, err := s.resolveRows(ctx, key)
	errs = multierr.Append(errs, err)
	res.Carts = carts

	if key.DocumentID == "" {
		for _, c := range carts {
			if id := deref(c.DocumentID); id != "" {
				key.DocumentID = id
				break
			}
		}
	}
	if key.RelationalID == "" && len(carts) > 0 {
		key.RelationalID = carts[0].ID
	}

	docs, err := s.resolveDocuments(ctx, key)
	errs = multierr.Append(errs, err)
	res.Documents = docs

	if len(res.Carts) == 0 {
		var ids []string
		for _, d := range docs {
			if d.RelationalCartID != "" {
				ids = append(ids, d.RelationalCartID)
			}
		}
		if len(ids) > 0 {
			rows, err := s.repo.FindCartsByIDs(ctx, ids)
			errs = multierr.Append(errs, err)
			res.Carts = rows
		}
	}
	res.Key = key
	return res, errs
}

func (s *service) resolveRows(ctx context.Context, key CartKey) ([]models.Cart, error) {
	if key.RelationalID != "" {
		rows, err := s.repo.FindCartsByIDs(ctx, []string{key.RelationalID})
		if err != nil || len(rows) > 0 {
			return rows, err
		}
	}
	if key.DocumentID != "" {
		rows, err := s.repo.FindCartsByDocumentIDs(ctx, []string{key.DocumentID})
		if err != nil || len(rows) > 0 {
			return rows, err
		}
	}
	return s.repo.FindCartsByReference(ctx, key.Reference, key.ProviderCartID)
}

func (s *service) resolveDocuments(ctx context.Context, key CartKey) ([]CartDocument, error) {
	if key.DocumentID != "" {
		doc, err := s.docs.Get(ctx, key.DocumentID)
		switch {
		case err == nil:
			return []CartDocument{*doc}, nil
		case !errors.Is(err, ErrDocumentNotFound):
			return nil, err
		}
	}
	if key.RelationalID != "" {
		docs, err := s.docs.FindByField(ctx, FieldRelationalCartID, key.RelationalID)
		if err != nil || len(docs) > 0 {
			return docs, err
		}
	}
	if key.Reference != "" {
		docs, err := s.docs.FindByField(ctx, FieldPaymentReference, key.Reference)
		if err != nil || len(docs) > 0 {
			return docs, err
		}
	}
	if key.ProviderCartID != "" {
		return s.docs.FindByField(ctx, FieldBusbudCartID, key.ProviderCartID)
	}
	return nil, nil
}

// Apply writes the outcome to the payment row, every matched cart row and
// every matched cart document. A failure on one side does not stop the
// other; all failures are returned together as a PersistenceError.
func (s *service) Apply(ctx context.Context, outcome Outcome) (Resolution, error) {
	reference := strings.TrimSpace(outcome.Reference)
	if reference == "" {
		return Resolution{}, errors.New("reference is required")
	}
	if outcome.Key.Reference == "" {
		outcome.Key.Reference = reference
	}
	occurredAt := outcome.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	res, errs := s.Resolve(ctx, outcome.Key)
	res.Documents = s.withReferenceDocuments(ctx, res.Documents, reference, &errs)

	summary := res.Primary()
	cartStatus := enums.CartStatusFor(outcome.Status)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := s.paymentRow(outcome, summary, occurredAt)
		if err := repo.UpsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}

		ids := make([]string, 0, len(res.Carts))
		for _, c := range res.Carts {
			ids = append(ids, c.ID)
		}
		update := CartUpdate{
			Status:           cartStatus,
			PaymentReference: reference,
			PurchaseID:       outcome.PurchaseID,
			PurchaseUUID:     outcome.PurchaseUUID,
			UpdatedAt:        occurredAt,
		}
		if len(res.Documents) == 1 {
			update.DocumentID = res.Documents[0].ID
		}
		if outcome.Status == enums.ReconciliationConfirmed {
			update.ConfirmedAt = &occurredAt
		}
		if err := repo.UpdateCarts(ctx, ids, update); err != nil {
			return fmt.Errorf("update carts: %w", err)
		}
		return nil
	})
	errs = multierr.Append(errs, err)

	patch := DocumentPatch{
		Status:           cartStatus,
		PaymentReference: reference,
		PurchaseID:       outcome.PurchaseID,
		PurchaseUUID:     outcome.PurchaseUUID,
		FailureMessage:   outcome.FailureMessage,
		UpdatedAt:        occurredAt,
	}
	if outcome.FailureStage != nil {
		patch.FailureStage = string(*outcome.FailureStage)
	}
	if len(res.Carts) == 1 {
		patch.RelationalCartID = res.Carts[0].ID
	}
	for _, doc := range res.Documents {
		if err := s.docs.MergePatch(ctx, doc.ID, patch); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("patch cart document %s: %w", doc.ID, err))
		}
	}

	if res.Empty() && s.logg != nil {
		s.logg.Warn(s.logg.WithReference(ctx, reference), "no cart matched payment reference")
	}

	if errs != nil {
		return res, &PersistenceError{Reference: reference, Err: errs}
	}
	return res, nil
}

// withReferenceDocuments adds every document carrying the reference that the
// keyed lookup did not already return.
func (s *service) withReferenceDocuments(ctx context.Context, docs []CartDocument, reference string, errs *error) []CartDocument {
	extra, err := s.docs.FindByField(ctx, FieldPaymentReference, reference)
	if err != nil {
		*errs = multierr.Append(*errs, err)
		return docs
	}
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		seen[d.ID] = struct{}{}
	}
	for _, d := range extra {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		docs = append(docs, d)
	}
	return docs
}

func (s *service) paymentRow(outcome Outcome, summary CartSummary, at time.Time) *models.Payment {
	p := &models.Payment{
		ID:              s.newID(),
		Reference:       strings.TrimSpace(outcome.Reference),
		Status:          outcome.Status,
		InvoiceState:    outcome.InvoiceState,
		RawInvoiceState: optional(outcome.RawInvoiceState),
		Amount:          outcome.Amount,
		Currency:        outcome.Currency,
		CartID:          optional(summary.CartID),
		DocumentID:      optional(summary.DocumentID),
		ProviderCartID:  optional(summary.ProviderCartID),
		PurchaseID:      optional(outcome.PurchaseID),
		PurchaseUUID:    optional(outcome.PurchaseUUID),
		FailureStage:    outcome.FailureStage,
		FailureMessage:  optional(outcome.FailureMessage),
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if p.Amount.IsZero() && !summary.Amount.IsZero() {
		p.Amount = summary.Amount
	}
	if p.Currency == "" {
		p.Currency = summary.Currency
	}
	if pt, err := enums.ParsePaymentType(summary.PaymentType); err == nil {
		p.PaymentType = &pt
	}
	if outcome.Source != "" {
		src := outcome.Source
		p.LastSource = &src
	}
	if outcome.ManualRetry {
		p.ManualRetryCount = 1
	}
	switch outcome.Status {
	case enums.ReconciliationConfirmed:
		p.ConfirmedAt = &at
	case enums.ReconciliationCancelled:
		p.CancelledAt = &at
	case enums.ReconciliationPaymentFailed:
		p.FailedAt = &at
	}
	return p
}

func (s *service) CurrentStatus(ctx context.Context, reference string) (enums.ReconciliationStatus, bool, error) {
	payment, err := s.LoadPayment(ctx, reference)
	if err != nil || payment == nil {
		return "", false, err
	}
	return payment.Status, true, nil
}

// LoadPayment returns nil without error when no row exists.
func (s *service) LoadPayment(ctx context.Context, reference string) (*models.Payment, error) {
	payment, err := s.repo.FindPaymentByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return payment, nil
}

func (s *service) ListPendingReferences(ctx context.Context, since time.Time, limit int) ([]string, error) {
	return s.repo.ListPendingReferences(ctx, since, limit)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optional(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
