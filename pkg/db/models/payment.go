package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// Payment is the durable reconciliation record for one payment reference.
type Payment struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference        string                     `gorm:"column:reference;not null;uniqueIndex"`
	Status           enums.ReconciliationStatus `gorm:"column:status;not null;default:'pending'"`
	InvoiceState     enums.InvoiceState         `gorm:"column:invoice_state"`
	RawInvoiceState  *string                    `gorm:"column:raw_invoice_state"`
	Amount           decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null;default:0"`
	Currency         string                     `gorm:"column:currency"`
	CartID           *string                    `gorm:"column:cart_id"`
	DocumentID       *string                    `gorm:"column:document_id"`
	ProviderCartID   *string                    `gorm:"column:provider_cart_id"`
	PurchaseID       *string                    `gorm:"column:purchase_id"`
	PurchaseUUID     *string                    `gorm:"column:purchase_uuid"`
	FailureStage     *enums.FailureStage        `gorm:"column:failure_stage"`
	FailureMessage   *string                    `gorm:"column:failure_message"`
	PaymentType      *enums.PaymentType         `gorm:"column:payment_type"`
	LastSource       *enums.TriggerSource       `gorm:"column:last_source"`
	ManualRetryCount int                        `gorm:"column:manual_retry_count;not null;default:0"`
	ConfirmedAt      *time.Time                 `gorm:"column:confirmed_at"`
	CancelledAt      *time.Time                 `gorm:"column:cancelled_at"`
	FailedAt         *time.Time                 `gorm:"column:failed_at"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

// HasPurchase reports whether a provider purchase was already created.
func (p Payment) HasPurchase() bool {
	return p.PurchaseID != nil && *p.PurchaseID != "" && p.PurchaseUUID != nil && *p.PurchaseUUID != ""
}
