package carts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/enums"
)

func TestMemoryDocumentStoreMergePatch(t *testing.T) {
	store := NewMemoryDocumentStore()
	store.Put(CartDocument{ID: "d1", Status: enums.CartStatusPending, BranchID: "b1"})

	err := store.MergePatch(context.Background(), "d1", DocumentPatch{
		Status:           enums.CartStatusConfirmed,
		PaymentReference: "REF",
		UpdatedAt:        time.Unix(100, 0),
	})
	if err != nil {
		t.Fatalf("merge patch: %v", err)
	}
	doc, err := store.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Status != enums.CartStatusConfirmed || doc.PaymentReference != "REF" || doc.BranchID != "b1" {
		t.Fatalf("unexpected document %+v", doc)
	}

	if err := store.MergePatch(context.Background(), "d1", DocumentPatch{Status: enums.CartStatusPaymentFailed}); err != nil {
		t.Fatalf("merge patch: %v", err)
	}
	if got := store.Raw("d1")[FieldStatus]; got != "confirmed" {
		t.Fatalf("expected confirmed to stick, got %v", got)
	}
}

func TestMemoryDocumentStoreMissing(t *testing.T) {
	store := NewMemoryDocumentStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.MergePatch(context.Background(), "nope", DocumentPatch{}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	docs, err := store.FindByField(context.Background(), FieldPaymentReference, "")
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected empty match for blank value, got %v %v", docs, err)
	}
}

func TestCartKeyIsZero(t *testing.T) {
	if !(CartKey{}).IsZero() {
		t.Fatal("expected empty key to be zero")
	}
	if KeyForReference(" REF ").Reference != "REF" {
		t.Fatal("expected trimmed reference")
	}
}
