package carts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// keepExisting is true when the stored payment status must not be replaced
// by the incoming one: confirmed and cancelled are final, and payment_failed
// only yields to confirmed.
const keepExisting = `(payments.status IN ('confirmed','cancelled') OR (payments.status = 'payment_failed' AND excluded.status <> 'confirmed'))`

type repository struct {
	db *gorm.DB
}

// NewRepository builds a carts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindCartsByIDs(ctx context.Context, ids []string) ([]models.Cart, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var carts []models.Cart
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&carts).Error
	return carts, err
}

func (r *repository) FindCartsByDocumentIDs(ctx context.Context, documentIDs []string) ([]models.Cart, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var carts []models.Cart
	err := r.db.WithContext(ctx).Where("document_id IN ?", documentIDs).Order("id").Find(&carts).Error
	return carts, err
}

func (r *repository) FindCartsByReference(ctx context.Context, reference, providerCartID string) ([]models.Cart, error) {
	if reference == "" && providerCartID == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Model(&models.Cart{})
	switch {
	case reference != "" && providerCartID != "":
		query = query.Where("payment_reference = ? OR provider_cart_id = ?", reference, providerCartID)
	case reference != "":
		query = query.Where("payment_reference = ?", reference)
	default:
		query = query.Where("provider_cart_id = ?", providerCartID)
	}
	var carts []models.Cart
	err := query.Order("id").Find(&carts).Error
	return carts, err
}

// UpsertPayment inserts the payment row or merges it into the existing one.
// The merge never regresses a terminal status and never replaces purchase ids
// once recorded.
func (r *repository) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	if payment == nil {
		return errors.New("payment is required")
	}
	guarded := func(column string) clause.Expr {
		return gorm.Expr("CASE WHEN " + keepExisting + " THEN payments." + column + " ELSE excluded." + column + " END")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "reference"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":             guarded("status"),
			"failure_stage":      guarded("failure_stage"),
			"failure_message":    guarded("failure_message"),
			"invoice_state":      gorm.Expr("COALESCE(NULLIF(excluded.invoice_state, ''), payments.invoice_state)"),
			"raw_invoice_state":  gorm.Expr("COALESCE(excluded.raw_invoice_state, payments.raw_invoice_state)"),
			"amount":             gorm.Expr("CASE WHEN excluded.amount = 0 THEN payments.amount ELSE excluded.amount END"),
			"currency":           gorm.Expr("COALESCE(NULLIF(excluded.currency, ''), payments.currency)"),
			"cart_id":            gorm.Expr("COALESCE(excluded.cart_id, payments.cart_id)"),
			"document_id":        gorm.Expr("COALESCE(excluded.document_id, payments.document_id)"),
			"provider_cart_id":   gorm.Expr("COALESCE(excluded.provider_cart_id, payments.provider_cart_id)"),
			"payment_type":       gorm.Expr("COALESCE(excluded.payment_type, payments.payment_type)"),
			"purchase_id":        gorm.Expr("COALESCE(payments.purchase_id, excluded.purchase_id)"),
			"purchase_uuid":      gorm.Expr("COALESCE(payments.purchase_uuid, excluded.purchase_uuid)"),
			"last_source":        gorm.Expr("excluded.last_source"),
			"manual_retry_count": gorm.Expr("payments.manual_retry_count + excluded.manual_retry_count"),
			"confirmed_at":       gorm.Expr("COALESCE(payments.confirmed_at, excluded.confirmed_at)"),
			"cancelled_at":       gorm.Expr("COALESCE(payments.cancelled_at, excluded.cancelled_at)"),
			"failed_at":          gorm.Expr("CASE WHEN " + keepExisting + " THEN payments.failed_at ELSE COALESCE(excluded.failed_at, payments.failed_at) END"),
			"updated_at":         gorm.Expr("excluded.updated_at"),
		}),
	}).Create(payment).Error
}

// UpdateCarts applies update to every listed cart. The status follows
// enums.NextCartStatus; cross references are only filled when empty.
func (r *repository) UpdateCarts(ctx context.Context, ids []string, update CartUpdate) error {
	if len(ids) == 0 {
		return nil
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	values := map[string]any{
		"status":     gorm.Expr("CASE WHEN status IN ? THEN status ELSE ? END", enums.CartStatusesKeptAgainst(update.Status), string(update.Status)),
		"updated_at": updatedAt,
	}
	if update.PaymentReference != "" {
		values["payment_reference"] = gorm.Expr("COALESCE(payment_reference, ?)", update.PaymentReference)
	}
	if update.DocumentID != "" {
		values["document_id"] = gorm.Expr("COALESCE(document_id, ?)", update.DocumentID)
	}
	if update.PurchaseID != "" {
		values["purchase_id"] = gorm.Expr("COALESCE(purchase_id, ?)", update.PurchaseID)
	}
	if update.PurchaseUUID != "" {
		values["purchase_uuid"] = gorm.Expr("COALESCE(purchase_uuid, ?)", update.PurchaseUUID)
	}
	if update.ConfirmedAt != nil {
		values["confirmed_at"] = gorm.Expr("COALESCE(confirmed_at, ?)", *update.ConfirmedAt)
	}
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id IN ?", ids).
		Updates(values).Error
}

// ListPendingReferences returns payment references that were touched since
// the cutoff and are still waiting for a final answer.
func (r *repository) ListPendingReferences(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var fromCarts []string
	err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("payment_reference IS NOT NULL AND payment_reference <> ''").
		Where("status IN ?", []string{string(enums.CartStatusPending), string(enums.CartStatusPaymentProcessing)}).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("payment_reference", &fromCarts).Error
	if err != nil {
		return nil, err
	}

	var fromPayments []string
	err = r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status IN ?", []string{string(enums.ReconciliationPending), string(enums.ReconciliationPaymentProcessing)}).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("reference", &fromPayments).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(fromCarts)+len(fromPayments))
	out := make([]string, 0, len(fromCarts)+len(fromPayments))
	for _, ref := range append(fromPayments, fromCarts...) {
		if _, ok := seen[ref]; ok || ref == "" {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
