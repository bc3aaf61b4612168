package carts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

const (
	FieldRelationalCartID = "relationalCartId"
	FieldPaymentReference = "paymentReference"
	FieldBusbudCartID     = "busbudCartId"
	FieldStatus           = "status"
)

// CartDocument is the subset of a cart document the reconciler reads.
type CartDocument struct {
	ID               string           `firestore:"-"`
	RelationalCartID string           `firestore:"relationalCartId"`
	PaymentReference string           `firestore:"paymentReference"`
	BusbudCartID     string           `firestore:"busbudCartId"`
	Status           enums.CartStatus `firestore:"status"`
	PaymentType      string           `firestore:"paymentType"`
	BranchID         string           `firestore:"branchId"`
	OperatorID       string           `firestore:"operatorId"`
	CustomerEmail    string           `firestore:"customerEmail"`
	CustomerName     string           `firestore:"customerName"`
	PurchaseID       string           `firestore:"purchaseId"`
	PurchaseUUID     string           `firestore:"purchaseUuid"`
}

// DocumentPatch is merged into a cart document. Empty fields are left alone
// and a settled status is never replaced.
type DocumentPatch struct {
	Status           enums.CartStatus
	PaymentReference string
	RelationalCartID string
	PurchaseID       string
	PurchaseUUID     string
	FailureStage     string
	FailureMessage   string
	UpdatedAt        time.Time
}

// fields renders the patch as a document merge map given the current status.
func (p DocumentPatch) fields(current enums.CartStatus) map[string]any {
	out := map[string]any{
		FieldStatus: string(enums.NextCartStatus(current, p.Status)),
		"updatedAt": p.UpdatedAt,
	}
	setIfPresent(out, FieldPaymentReference, p.PaymentReference)
	setIfPresent(out, FieldRelationalCartID, p.RelationalCartID)
	setIfPresent(out, "purchaseId", p.PurchaseID)
	setIfPresent(out, "purchaseUuid", p.PurchaseUUID)
	setIfPresent(out, "failureStage", p.FailureStage)
	setIfPresent(out, "failureMessage", p.FailureMessage)
	return out
}

func setIfPresent(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// MemoryDocumentStore keeps cart documents in process memory. It backs local
// runs without a document database and the package tests.
type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]map[string]any)}
}

// Put seeds or replaces a document.
func (m *MemoryDocumentStore) Put(doc CartDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = map[string]any{
		FieldRelationalCartID: doc.RelationalCartID,
		FieldPaymentReference: doc.PaymentReference,
		FieldBusbudCartID:     doc.BusbudCartID,
		FieldStatus:           string(doc.Status),
		"paymentType":         doc.PaymentType,
		"branchId":            doc.BranchID,
		"operatorId":          doc.OperatorID,
		"customerEmail":       doc.CustomerEmail,
		"customerName":        doc.CustomerName,
		"purchaseId":          doc.PurchaseID,
		"purchaseUuid":        doc.PurchaseUUID,
	}
}

// Raw returns a copy of the stored fields for assertions.
func (m *MemoryDocumentStore) Raw(id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[id]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (m *MemoryDocumentStore) Get(_ context.Context, id string) (*CartDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	doc := decodeMemoryDoc(id, data)
	return &doc, nil
}

func (m *MemoryDocumentStore) FindByField(_ context.Context, field, value string) ([]CartDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CartDocument
	for id, data := range m.docs {
		if v, _ := data[field].(string); v == value && value != "" {
			out = append(out, decodeMemoryDoc(id, data))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDocumentStore) MergePatch(_ context.Context, id string, patch DocumentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	current, _ := data[FieldStatus].(string)
	for k, v := range patch.fields(enums.CartStatus(current)) {
		data[k] = v
	}
	return nil
}

func decodeMemoryDoc(id string, data map[string]any) CartDocument {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	return CartDocument{
		ID:               id,
		RelationalCartID: str(FieldRelationalCartID),
		PaymentReference: str(FieldPaymentReference),
		BusbudCartID:     str(FieldBusbudCartID),
		Status:           enums.CartStatus(str(FieldStatus)),
		PaymentType:      str("paymentType"),
		BranchID:         str("branchId"),
		OperatorID:       str("operatorId"),
		CustomerEmail:    str("customerEmail"),
		CustomerName:     str("customerName"),
		PurchaseID:       str("purchaseId"),
		PurchaseUUID:     str("purchaseUuid"),
	}
}
