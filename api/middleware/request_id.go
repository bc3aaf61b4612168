package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/types"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
	maxRequestIDLen     = 128
)

// RequestID assigns every request an id, echoes it in X-Request-Id and
// attaches it to the logger and the request meta. Kiosk and provider ids
// arriving in X-Request-Id or X-Correlation-Id are reused when well formed.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx, meta := types.WithRequestMeta(r.Context())
			meta.SetRequestID(reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	for _, header := range []string{requestIDHeader, correlationIDHeader} {
		if id := r.Header.Get(header); validRequestID(id) {
			return id
		}
	}
	return ""
}

// validRequestID accepts short tokens of letters, digits and . _ : -
// so a caller cannot smuggle log or header content through the id.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == ':', c == '-':
		default:
			return false
		}
	}
	return true
}
