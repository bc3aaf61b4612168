package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/busline-backend/api/responses"
	pkgAuth "github.com/angelmondragon/busline-backend/pkg/auth"
	"github.com/angelmondragon/busline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

// AgentAuth validates an agent bearer token and seeds the request context
// with its claims.
func AgentAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAgentToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxAgentID, claims.AgentID)
			ctx = context.WithValue(ctx, ctxRole, string(claims.Role))
			if claims.BranchID != "" {
				ctx = context.WithValue(ctx, ctxBranchID, claims.BranchID)
			}

			if logg != nil {
				ctx = logg.WithAgentID(ctx, claims.AgentID)
				ctx = logg.WithField(ctx, "actor_role", string(claims.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
