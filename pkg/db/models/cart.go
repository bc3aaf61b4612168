package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

// Cart is the relational copy of a reserved trip selection. The same cart
// also lives in the document store under DocumentID, which may differ from ID.
type Cart struct {
	ID               string            `gorm:"column:id;primaryKey"`
	DocumentID       *string           `gorm:"column:document_id"`
	ProviderCartID   string            `gorm:"column:provider_cart_id;not null"`
	PaymentReference *string           `gorm:"column:payment_reference"`
	PaymentType      enums.PaymentType `gorm:"column:payment_type;not null;default:'invoice'"`
	Status           enums.CartStatus  `gorm:"column:status;not null;default:'pending'"`
	BranchID         *string           `gorm:"column:branch_id"`
	OperatorID       *string           `gorm:"column:operator_id"`
	CustomerEmail    *string           `gorm:"column:customer_email"`
	CustomerName     *string           `gorm:"column:customer_name"`
	Cost             decimal.Decimal   `gorm:"column:cost;type:numeric(12,2);not null;default:0"`
	Markup           decimal.Decimal   `gorm:"column:markup;type:numeric(12,2);not null;default:0"`
	Discount         decimal.Decimal   `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Commission       decimal.Decimal   `gorm:"column:commission;type:numeric(12,2);not null;default:0"`
	Currency         string            `gorm:"column:currency;not null;default:'MXN'"`
	PurchaseID       *string           `gorm:"column:purchase_id"`
	PurchaseUUID     *string           `gorm:"column:purchase_uuid"`
	ConfirmedAt      *time.Time        `gorm:"column:confirmed_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Total is the amount charged to the customer for the cart.
func (c Cart) Total() decimal.Decimal {
	return c.Cost.Add(c.Markup).Sub(c.Discount)
}
