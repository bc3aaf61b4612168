package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/busline-backend/pkg/config"
)

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.FirestoreConfig{CartsCollection: "carts", MailCollection: "mail"}, nil)
	if !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNewClientRequiresCollections(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.FirestoreConfig{}, nil)
	if !errors.Is(err, errCollectionRequired) {
		t.Fatalf("expected collection error, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(status.Error(codes.NotFound, "missing")) {
		t.Fatal("expected NotFound status to match")
	}
	if IsNotFound(status.Error(codes.Unavailable, "down")) {
		t.Fatal("expected Unavailable not to match")
	}
	if IsNotFound(errors.New("plain")) {
		t.Fatal("expected plain error not to match")
	}
}

func TestNilClientHelpers(t *testing.T) {
	var c *Client
	if c.Firestore() != nil {
		t.Fatal("expected nil sdk client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil close error, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
