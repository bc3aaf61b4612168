package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const (
	metadataCheckTimeout = 10 * time.Second
	partitionField       = "occurred_at"
)

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// ReconciliationSchema is the layout of the outcome table: one row per
// terminal reconciliation, partitioned by day on occurred_at.
func ReconciliationSchema() bigquery.Schema {
	nullable := func(name string) *bigquery.FieldSchema {
		return &bigquery.FieldSchema{Name: name, Type: bigquery.StringFieldType}
	}
	return bigquery.Schema{
		{Name: "event_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
		{Name: "reference", Type: bigquery.StringFieldType, Required: true},
		{Name: "status", Type: bigquery.StringFieldType, Required: true},
		{Name: "source", Type: bigquery.StringFieldType, Required: true},
		{Name: partitionField, Type: bigquery.TimestampFieldType, Required: true},
		nullable("purchase_id"),
		nullable("purchase_uuid"),
		nullable("provider_cart_id"),
		nullable("branch_id"),
		nullable("operator_id"),
		nullable("payment_type"),
		{Name: "amount_cents", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "currency", Type: bigquery.StringFieldType},
		nullable("failure_stage"),
		nullable("agent_id"),
	}
}

// Client writes analytics rows into a single dataset. Tables it owns are
// created on startup when missing.
type Client struct {
	client    *bigquery.Client
	dataset   *bigquery.Dataset
	projectID string
	tables    map[string]bigquery.Schema
	logg      *logger.Logger
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables := configuredTables(cfg)
	if len(tables) == 0 {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:    bqClient,
		dataset:   bqClient.Dataset(datasetID),
		projectID: projectID,
		tables:    tables,
		logg:      logg,
	}
	if err := client.ensureTables(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("bigquery client initialized (%s.%s)", projectID, datasetID))
	}
	return client, nil
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

func configuredTables(cfg config.BigQueryConfig) map[string]bigquery.Schema {
	tables := map[string]bigquery.Schema{}
	if name := strings.TrimSpace(cfg.ReconciliationTable); name != "" {
		tables[name] = ReconciliationSchema()
	}
	return tables
}

// tableMetadata describes a table to create: day partitions on occurred_at,
// clustered by status so per-outcome scans stay cheap.
func tableMetadata(schema bigquery.Schema) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		},
		Clustering: &bigquery.Clustering{Fields: []string{"status", "source"}},
	}
}

// ensureTables requires the dataset and creates any missing table.
func (c *Client) ensureTables(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	for name, schema := range c.tables {
		table := c.dataset.Table(name)
		_, err := table.Metadata(ctx)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
		if err := table.Create(ctx, tableMetadata(schema)); err != nil && !isConflict(err) {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		if c.logg != nil {
			c.logg.Info(ctx, fmt.Sprintf("bigquery table %s created", name))
		}
	}
	return nil
}

// Ping verifies the dataset is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()
	_, err := c.dataset.Metadata(ctx)
	return err
}

// InsertRows streams rows into a table of the dataset. Partial failures are
// reported with the number of rejected rows.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}

	err := c.dataset.Table(table).Inserter().Put(ctx, rows)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return fmt.Errorf("bigquery rejected %d of %d rows in %s: %w", len(multi), len(rows), table, err)
	}
	return err
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func isConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
