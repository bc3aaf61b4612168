package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

type Client struct {
	client    *firestore.Client
	projectID string
	cfg       config.FirestoreConfig
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errCollectionRequired   = errors.New("firestore collection name is required")
	errClientNotInitialized = errors.New("firestore client not initialized")
)

// NewClient opens the configured Firestore database.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.FirestoreConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.CartsCollection) == "" || strings.TrimSpace(cfg.MailCollection) == "" {
		return nil, errCollectionRequired
	}

	databaseID := strings.TrimSpace(cfg.DatabaseID)
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	fsClient, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "firestore_database", databaseID), "firestore client initialized")
	}

	return &Client{client: fsClient, projectID: projectID, cfg: cfg}, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// Firestore exposes the underlying SDK client.
func (c *Client) Firestore() *firestore.Client {
	if c == nil {
		return nil
	}
	return c.client
}

func (c *Client) Carts() *firestore.CollectionRef {
	return c.client.Collection(c.cfg.CartsCollection)
}

func (c *Client) Mail() *firestore.CollectionRef {
	return c.client.Collection(c.cfg.MailCollection)
}

// Ping reads a sentinel document; a NotFound answer still proves connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	_, err := c.client.Collection(c.cfg.CartsCollection).Doc("__ping__").Get(ctx)
	if err == nil || IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("firestore ping: %w", err)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsNotFound reports whether err is a Firestore NotFound status.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
