package invoices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

const accountingBackend = "accounting"

var accountingFields = []string{"name", "ref", "state", "payment_state", "amount_total", "currency_id", "write_date"}

// AccountingSource reads customer invoices from the accounting system over
// JSON-RPC. A cancelled document reports "cancel"; otherwise the payment
// state is authoritative.
type AccountingSource struct {
	cfg    config.AccountingConfig
	http   *http.Client
	logger *logger.Logger
	now    func() time.Time
	nextID atomic.Int64
}

func NewAccountingSource(cfg config.AccountingConfig, httpClient *http.Client, logg *logger.Logger) (*AccountingSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("accounting url is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("accounting database is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("accounting api key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Model == "" {
		cfg.Model = "account.move"
	}
	if cfg.RefField == "" {
		cfg.RefField = "ref"
	}
	return &AccountingSource{
		cfg:    cfg,
		http:   httpClient,
		logger: logg,
		now:    time.Now,
	}, nil
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result []accountingInvoice `json:"result"`
	Error  *rpcError           `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

type accountingInvoice struct {
	Name         string          `json:"name"`
	State        string          `json:"state"`
	PaymentState string          `json:"payment_state"`
	AmountTotal  json.Number     `json:"amount_total"`
	CurrencyID   json.RawMessage `json:"currency_id"`
}

// FetchInvoice implements Source.
func (s *AccountingSource) FetchInvoice(ctx context.Context, reference string) (*Snapshot, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      s.nextID.Add(1),
		Params: rpcParams{
			Service: "object",
			Method:  "execute_kw",
			Args: []any{
				s.cfg.Database,
				s.cfg.UserID,
				s.cfg.APIKey,
				s.cfg.Model,
				"search_read",
				[]any{[]any{[]any{s.cfg.RefField, "=", reference}}},
				map[string]any{"fields": accountingFields, "limit": 1},
			},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, sourceError(accountingBackend, "encode request", err)
	}

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/jsonrpc"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, sourceError(accountingBackend, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, sourceError(accountingBackend, "search_read", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, sourceError(accountingBackend, "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sourceError(accountingBackend, "search_read", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded rpcResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, sourceError(accountingBackend, "decode response", err)
	}
	if decoded.Error != nil {
		msg := decoded.Error.Data.Message
		if msg == "" {
			msg = decoded.Error.Message
		}
		return nil, sourceError(accountingBackend, "search_read", fmt.Errorf("rpc error %d: %s", decoded.Error.Code, msg))
	}
	if len(decoded.Result) == 0 {
		return nil, ErrNotFound
	}

	record := decoded.Result[0]
	rawState := record.PaymentState
	if strings.EqualFold(record.State, "cancel") {
		rawState = record.State
	}

	amount := decimal.Zero
	if record.AmountTotal != "" {
		parsed, err := decimal.NewFromString(record.AmountTotal.String())
		if err != nil {
			return nil, sourceError(accountingBackend, "decode amount", err)
		}
		amount = parsed
	}

	snap := &Snapshot{
		Reference:  reference,
		State:      Normalize(rawState),
		RawState:   rawState,
		Amount:     amount,
		Currency:   currencyName(record.CurrencyID),
		Backend:    accountingBackend,
		LastSeenAt: s.now().UTC(),
	}
	if s.logger != nil {
		ctx = s.logger.WithFields(ctx, map[string]any{
			"backend":   accountingBackend,
			"raw_state": rawState,
			"state":     snap.State,
		})
		s.logger.Debug(ctx, "invoice fetched")
	}
	return snap, nil
}

// currencyName extracts the display name from a many2one [id, "MXN"] pair.
func currencyName(raw json.RawMessage) string {
	var pair []any
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
		return ""
	}
	name, _ := pair[1].(string)
	return name
}
