package carts

import "strings"

// CartKey names one logical cart across both stores. The relational id and
// the document id are allowed to differ; Reference and ProviderCartID are
// only used by the fallback scan.
type CartKey struct {
	RelationalID   string
	DocumentID     string
	Reference      string
	ProviderCartID string
}

// IsZero reports whether the key carries no identifier at all.
func (k CartKey) IsZero() bool {
	return strings.TrimSpace(k.RelationalID) == "" &&
		strings.TrimSpace(k.DocumentID) == "" &&
		strings.TrimSpace(k.Reference) == "" &&
		strings.TrimSpace(k.ProviderCartID) == ""
}

// KeyForReference builds a key that can only be resolved by scanning.
func KeyForReference(reference string) CartKey {
	return CartKey{Reference: strings.TrimSpace(reference)}
}
