package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	webhookEventHeader  = "X-Webhook-Event"
	maxWebhookErrorBody = 512
)

// WebhookBody is the JSON document posted to the subscriber.
type WebhookBody struct {
	Event            string         `json:"event"`
	Status           string         `json:"status"`
	PNR              string         `json:"pnr"`
	PaymentReference string         `json:"payment_reference"`
	FirestoreCartID  string         `json:"firestoreCartId,omitempty"`
	CartID           string         `json:"cartId,omitempty"`
	PurchaseID       string         `json:"purchaseId,omitempty"`
	PurchaseUUID     string         `json:"purchaseUuid,omitempty"`
	Amount           json.Number    `json:"amount"`
	Currency         string         `json:"currency,omitempty"`
	ConfirmedAt      *time.Time     `json:"confirmedAt,omitempty"`
	CancelledAt      *time.Time     `json:"cancelledAt,omitempty"`
	FailedAt         *time.Time     `json:"failedAt,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	Source           string         `json:"source"`
}

// BuildWebhookBody maps an outcome event onto the subscriber contract.
func BuildWebhookBody(evt Event) WebhookBody {
	o := evt.Outcome
	at := o.OccurredAt
	if at.IsZero() {
		at = evt.OccurredAt
	}
	at = at.UTC()

	body := WebhookBody{
		Event:            evt.Type.WebhookEventName(),
		Status:           string(o.Status),
		PNR:              o.Reference,
		PaymentReference: o.Reference,
		FirestoreCartID:  o.DocumentID,
		CartID:           o.CartID,
		PurchaseID:       o.PurchaseID,
		PurchaseUUID:     o.PurchaseUUID,
		Amount:           json.Number(o.Amount.StringFixed(2)),
		Currency:         o.Currency,
		Source:           string(o.Source),
		Metadata: map[string]any{
			"branchId":       o.BranchID,
			"operatorId":     o.OperatorID,
			"paymentType":    o.PaymentType,
			"providerCartId": o.ProviderCartID,
		},
	}
	switch evt.Type {
	case enums.EventTicketConfirmed:
		body.ConfirmedAt = &at
	case enums.EventPaymentCancelled:
		body.CancelledAt = &at
	case enums.EventTicketFailed:
		body.FailedAt = &at
		if o.FailureStage != nil {
			body.Metadata["failureStage"] = string(*o.FailureStage)
		}
		if o.FailureMessage != "" {
			body.Metadata["failureMessage"] = o.FailureMessage
		}
	}
	if o.AgentID != "" {
		body.Metadata["agentId"] = o.AgentID
	}
	return body
}

// WebhookNotifier posts each outcome once; delivery failures are returned
// to the consumer, which logs them.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookNotifier(cfg config.WebhookConfig, client *http.Client) (*WebhookNotifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook url required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookNotifier{url: url, secret: cfg.Secret, client: client}, nil
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Handle(ctx context.Context, evt Event) error {
	body := BuildWebhookBody(evt)
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookEventHeader, body.Event)
	if w.secret != "" {
		req.Header.Set(webhookSecretHeader, w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookErrorBody))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
