package carts

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgfirestore "github.com/angelmondragon/busline-backend/pkg/firestore"
)

const maxDocumentMatches = 50

// FirestoreDocumentStore reads and patches cart documents in a collection.
type FirestoreDocumentStore struct {
	client     *firestore.Client
	collection *firestore.CollectionRef
}

func NewFirestoreDocumentStore(client *pkgfirestore.Client) (*FirestoreDocumentStore, error) {
	if client == nil || client.Firestore() == nil {
		return nil, errors.New("firestore client required")
	}
	return &FirestoreDocumentStore{client: client.Firestore(), collection: client.Carts()}, nil
}

func (s *FirestoreDocumentStore) Get(ctx context.Context, id string) (*CartDocument, error) {
	snap, err := s.collection.Doc(id).Get(ctx)
	if err != nil {
		if pkgfirestore.IsNotFound(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get cart document %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

func (s *FirestoreDocumentStore) FindByField(ctx context.Context, field, value string) ([]CartDocument, error) {
	if value == "" {
		return nil, nil
	}
	snaps, err := s.collection.Where(field, "==", value).Limit(maxDocumentMatches).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query cart documents by %s: %w", field, err)
	}
	out := make([]CartDocument, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, nil
}

// MergePatch reads the current status inside a transaction so a settled
// document is not downgraded by a concurrent writer.
func (s *FirestoreDocumentStore) MergePatch(ctx context.Context, id string, patch DocumentPatch) error {
	ref := s.collection.Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if pkgfirestore.IsNotFound(err) {
				return ErrDocumentNotFound
			}
			return err
		}
		current, _ := snap.Data()[FieldStatus].(string)
		return tx.Set(ref, patch.fields(enums.CartStatus(current)), firestore.MergeAll)
	})
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*CartDocument, error) {
	var doc CartDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode cart document %s: %w", snap.Ref.ID, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}
