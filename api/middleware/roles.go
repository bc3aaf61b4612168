package middleware

import (
	"net/http"

	"github.com/angelmondragon/busline-backend/api/responses"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

// RequireRole lets the request through when the authenticated role is one of
// roles.
func RequireRole(logg *logger.Logger, roles ...enums.AgentRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := RoleFromContext(r.Context())
			for _, role := range roles {
				if current == string(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}
