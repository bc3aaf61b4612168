package purchases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const (
	tokenHeader = "X-Busbud-Token"

	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

var (
	completedStatuses = map[string]struct{}{"completed": {}, "booked": {}, "confirmed": {}}
	failedStatuses    = map[string]struct{}{"failed": {}, "cancelled": {}, "canceled": {}, "expired": {}, "rejected": {}}
)

// Purchase is the booking provider's purchase record.
type Purchase struct {
	ID     string `json:"id"`
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// CreateOptions carries the per-purchase settings sent on creation.
type CreateOptions struct {
	ReturnURL      string
	Locale         string
	Currency       string
	SkipValidation bool
}

// CompletionContext is forwarded to the provider for audit purposes.
type CompletionContext struct {
	PaymentReference string
	Amount           string
	Currency         string
	Source           string
}

// Completion is the terminal view of a completion attempt.
type Completion struct {
	Status      string
	PollOutcome string
	Attempts    int
	Booking     json.RawMessage
}

// BookingPatch mirrors the reconciliation outcome onto the provider's cart.
type BookingPatch struct {
	Status           string `json:"status"`
	PaymentReference string `json:"payment_reference"`
	PurchaseID       string `json:"purchase_id,omitempty"`
	PurchaseUUID     string `json:"purchase_uuid,omitempty"`
}

// ProviderError is returned for non-2xx answers and transport failures.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Client talks to the booking provider's purchase API.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	logger   *logger.Logger
	attempts int
	interval time.Duration
	budget   time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.ProviderConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("provider base url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("provider token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	attempts := cfg.CompleteAttempts
	if attempts <= 0 {
		attempts = 5
	}
	interval := cfg.CompleteInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	budget := cfg.CompleteBudget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     httpClient,
		logger:   logg,
		attempts: attempts,
		interval: interval,
		budget:   budget,
		sleep:    sleepContext,
	}, nil
}

// CreatePurchase creates a purchase for the provider cart. The call is not
// idempotent on the provider side.
func (c *Client) CreatePurchase(ctx context.Context, cartID string, opts CreateOptions) (*Purchase, error) {
	body := map[string]any{
		"cart_id":         cartID,
		"return_url":      opts.ReturnURL,
		"locale":          opts.Locale,
		"currency":        opts.Currency,
		"skip_validation": opts.SkipValidation,
	}
	var purchase Purchase
	if err := c.do(ctx, "create_purchase", http.MethodPost, "/purchases", body, &purchase); err != nil {
		return nil, err
	}
	if purchase.ID == "" {
		return nil, &ProviderError{Op: "create_purchase", StatusCode: http.StatusOK, Body: "missing purchase id"}
	}
	c.log(ctx, "purchase created", map[string]any{"cart_id": cartID, "purchase_id": purchase.ID, "status": purchase.Status})
	return &purchase, nil
}

// CompletePurchase asks the provider to finalize the purchase and polls its
// status until it completes, fails, or the attempt/time budget runs out.
func (c *Client) CompletePurchase(ctx context.Context, id, purchaseUUID string, cc CompletionContext) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	body := map[string]any{
		"uuid":              purchaseUUID,
		"payment_reference": cc.PaymentReference,
		"amount":            cc.Amount,
		"currency":          cc.Currency,
		"source":            cc.Source,
	}
	path := "/purchases/" + url.PathEscape(id)

	var current Purchase
	if err := c.do(ctx, "complete_purchase", http.MethodPost, path+"/complete", body, &current); err != nil {
		return nil, err
	}

	completion := &Completion{Status: current.Status, PollOutcome: classify(current.Status)}
	for completion.PollOutcome == OutcomeTimeout && completion.Attempts < c.attempts {
		if err := c.sleep(ctx, c.interval); err != nil {
			break
		}
		completion.Attempts++

		var raw json.RawMessage
		if err := c.do(ctx, "get_purchase", http.MethodGet, path+"?uuid="+url.QueryEscape(purchaseUUID), nil, &raw); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log(ctx, "purchase status poll failed", map[string]any{"purchase_id": id, "error": err.Error()})
			continue
		}
		var polled Purchase
		if err := json.Unmarshal(raw, &polled); err != nil {
			continue
		}
		completion.Status = polled.Status
		completion.PollOutcome = classify(polled.Status)
		completion.Booking = raw
	}

	c.log(ctx, "purchase completion finished", map[string]any{
		"purchase_id":  id,
		"status":       completion.Status,
		"poll_outcome": completion.PollOutcome,
		"attempts":     completion.Attempts,
	})
	return completion, nil
}

// UpdateBookingStatus mirrors the outcome on the provider cart.
func (c *Client) UpdateBookingStatus(ctx context.Context, cartID string, patch BookingPatch) error {
	return c.do(ctx, "update_booking_status", http.MethodPatch, "/carts/"+url.PathEscape(cartID)+"/booking", patch, nil)
}

func classify(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if _, ok := completedStatuses[s]; ok {
		return OutcomeCompleted
	}
	if _, ok := failedStatuses[s]; ok {
		return OutcomeFailed
	}
	return OutcomeTimeout
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) log(ctx context.Context, msg string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(c.logger.WithFields(ctx, fields), msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
