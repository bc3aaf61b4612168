package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/busline-backend/api/responses"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/types"
)

// Recoverer turns a handler panic into a 500. The log entry and the error
// body name the payment reference when the handler had resolved one, so a
// crashed poll or retry can be reconciled by hand.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, meta := types.WithRequestMeta(r.Context())
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				if logg != nil {
					fields := map[string]any{
						"panic":  fmt.Sprint(rec),
						"method": r.Method,
						"path":   r.URL.Path,
					}
					if id := meta.RequestID(); id != "" {
						fields["request_id"] = id
					}
					if ref := meta.Reference(); ref != "" {
						fields["reference"] = ref
					}
					logg.Error(logg.WithFields(ctx, fields), "panic.recovered", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
