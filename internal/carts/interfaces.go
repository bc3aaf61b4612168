package carts

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// Repository defines persistence operations for the carts and payments tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	FindCartsByIDs(ctx context.Context, ids []string) ([]models.Cart, error)
	FindCartsByDocumentIDs(ctx context.Context, documentIDs []string) ([]models.Cart, error)
	FindCartsByReference(ctx context.Context, reference, providerCartID string) ([]models.Cart, error)
	UpsertPayment(ctx context.Context, payment *models.Payment) error
	UpdateCarts(ctx context.Context, ids []string, update CartUpdate) error
	ListPendingReferences(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// DocumentStore is the document-database side of a cart.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*CartDocument, error)
	FindByField(ctx context.Context, field, value string) ([]CartDocument, error)
	MergePatch(ctx context.Context, id string, patch DocumentPatch) error
}

// CartUpdate is applied to every matched cart row. Settled statuses are kept.
type CartUpdate struct {
	Status           enums.CartStatus
	PaymentReference string
	DocumentID       string
	PurchaseID       string
	PurchaseUUID     string
	ConfirmedAt      *time.Time
	UpdatedAt        time.Time
}
