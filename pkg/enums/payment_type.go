package enums

import (
	"fmt"
	"strings"
)

// PaymentType identifies the sales channel a cart was paid through.
type PaymentType string

const (
	PaymentTypeInvoice PaymentType = "invoice"
	PaymentTypeAgent   PaymentType = "agent"
	PaymentTypeOnline  PaymentType = "online"
)

var validPaymentTypes = []PaymentType{
	PaymentTypeInvoice,
	PaymentTypeAgent,
	PaymentTypeOnline,
}

// String implements fmt.Stringer.
func (p PaymentType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentType.
func (p PaymentType) IsValid() bool {
	for _, candidate := range validPaymentTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentType converts raw input into a PaymentType.
func ParsePaymentType(value string) (PaymentType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment type %q", value)
}
