package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/types"
)

func TestRecovererNamesReferenceOfCrashedRequest(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: &logs})
	crash := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types.SetReference(r.Context(), "PNR123")
		panic("nil cart")
	})
	handler := Recoverer(logg)(RequestID(logg)(crash))

	req := httptest.NewRequest(http.MethodGet, "/payments/poll/PNR123", nil)
	req.Header.Set(requestIDHeader, "kiosk-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Reference != "PNR123" || body.Error.RequestID != "kiosk-7" {
		t.Fatalf("identifiers missing from body: %+v", body.Error)
	}
	if strings.Contains(body.Error.Message, "nil cart") {
		t.Fatalf("panic value leaked to the client: %q", body.Error.Message)
	}

	out := logs.String()
	for _, want := range []string{`"reference":"PNR123"`, `"panic":"nil cart"`, `"request_id":"kiosk-7"`, "panic.recovered"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in logs, got %s", want, out)
		}
	}
}

func TestRecovererPassesThroughWithoutPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	Recoverer(nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRecovererRepanicsAbortHandler(t *testing.T) {
	abort := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) })
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	Recoverer(nil)(abort).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
