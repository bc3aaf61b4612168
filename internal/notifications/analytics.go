package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// OutcomeRow mirrors the reconciliation_outcomes BigQuery schema.
type OutcomeRow struct {
	EventID        string               `bigquery:"event_id"`
	EventType      string               `bigquery:"event_type"`
	Reference      string               `bigquery:"reference"`
	Status         string               `bigquery:"status"`
	Source         string               `bigquery:"source"`
	OccurredAt     time.Time            `bigquery:"occurred_at"`
	PurchaseID     cbigquery.NullString `bigquery:"purchase_id"`
	PurchaseUUID   cbigquery.NullString `bigquery:"purchase_uuid"`
	ProviderCartID cbigquery.NullString `bigquery:"provider_cart_id"`
	BranchID       cbigquery.NullString `bigquery:"branch_id"`
	OperatorID     cbigquery.NullString `bigquery:"operator_id"`
	PaymentType    cbigquery.NullString `bigquery:"payment_type"`
	AmountCents    int64                `bigquery:"amount_cents"`
	Currency       string               `bigquery:"currency"`
	FailureStage   cbigquery.NullString `bigquery:"failure_stage"`
	AgentID        cbigquery.NullString `bigquery:"agent_id"`
}

// OutcomeAnalytics writes one row per outcome event.
type OutcomeAnalytics struct {
	inserter rowInserter
	table    string
}

func NewOutcomeAnalytics(inserter rowInserter, table string) (*OutcomeAnalytics, error) {
	if inserter == nil {
		return nil, errors.New("bigquery inserter required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("analytics table required")
	}
	return &OutcomeAnalytics{inserter: inserter, table: table}, nil
}

func (a *OutcomeAnalytics) Name() string { return "analytics" }

func (a *OutcomeAnalytics) Handle(ctx context.Context, evt Event) error {
	row := BuildOutcomeRow(evt)
	return a.inserter.InsertRows(ctx, a.table, []any{&row})
}

// BuildOutcomeRow flattens an event into its analytics row.
func BuildOutcomeRow(evt Event) OutcomeRow {
	o := evt.Outcome
	at := o.OccurredAt
	if at.IsZero() {
		at = evt.OccurredAt
	}
	row := OutcomeRow{
		EventID:        evt.ID.String(),
		EventType:      string(evt.Type),
		Reference:      o.Reference,
		Status:         string(o.Status),
		Source:         string(o.Source),
		OccurredAt:     at.UTC(),
		PurchaseID:     nullString(o.PurchaseID),
		PurchaseUUID:   nullString(o.PurchaseUUID),
		ProviderCartID: nullString(o.ProviderCartID),
		BranchID:       nullString(o.BranchID),
		OperatorID:     nullString(o.OperatorID),
		PaymentType:    nullString(o.PaymentType),
		AmountCents:    o.Amount.Shift(2).Round(0).IntPart(),
		Currency:       o.Currency,
		AgentID:        nullString(o.AgentID),
	}
	if o.FailureStage != nil {
		row.FailureStage = nullString(string(*o.FailureStage))
	}
	return row
}

func nullString(v string) cbigquery.NullString {
	v = strings.TrimSpace(v)
	return cbigquery.NullString{StringVal: v, Valid: v != ""}
}
