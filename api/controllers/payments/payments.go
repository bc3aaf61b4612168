package payments

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/busline-backend/api/middleware"
	"github.com/angelmondragon/busline-backend/api/responses"
	"github.com/angelmondragon/busline-backend/api/validators"
	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/types"
)

// Engine is the slice of the reconciliation engine the HTTP layer drives.
type Engine interface {
	Reconcile(ctx context.Context, reference string, source enums.TriggerSource) (*reconcile.Result, error)
	RetryPurchase(ctx context.Context, reference, agentID string) (*reconcile.Result, error)
}

// StatusResponse is the body returned by the poll and retry endpoints.
type StatusResponse struct {
	Status               enums.PollStatus           `json:"status"`
	Reference            string                     `json:"reference"`
	ReconciliationStatus enums.ReconciliationStatus `json:"reconciliationStatus,omitempty"`
	PurchaseID           string                     `json:"purchaseId,omitempty"`
	PurchaseUUID         string                     `json:"purchaseUuid,omitempty"`
	Stage                *enums.FailureStage        `json:"stage,omitempty"`
	Message              string                     `json:"message,omitempty"`
}

// RetryRequest is the body an agent sends with a manual retry.
type RetryRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

func NewStatusResponse(res *reconcile.Result) StatusResponse {
	return StatusResponse{
		Status:               res.Status,
		Reference:            res.Reference,
		ReconciliationStatus: res.ReconciliationStatus,
		PurchaseID:           res.PurchaseID,
		PurchaseUUID:         res.PurchaseUUID,
		Stage:                res.Stage,
		Message:              res.Message,
	}
}

// Poll runs one reconciliation pass for the reference in the path.
func Poll(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine unavailable"))
			return
		}
		reference, err := validators.Reference(chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		types.SetReference(r.Context(), reference)

		res, err := engine.Reconcile(r.Context(), reference, enums.TriggerPoll)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewStatusResponse(res))
	}
}

// Retry performs one agent-initiated completion attempt for a reference
// whose purchase already exists.
func Retry(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine unavailable"))
			return
		}
		agentID := middleware.AgentIDFromContext(r.Context())
		if agentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing"))
			return
		}
		reference, err := validators.Reference(chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		types.SetReference(r.Context(), reference)
		var body RetryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"retry_reason": validators.SanitizeString(body.Reason, 500),
				"branch_id":    middleware.BranchIDFromContext(ctx),
			})
			logg.Info(ctx, "manual retry requested")
		}

		res, err := engine.RetryPurchase(ctx, reference, agentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewStatusResponse(res))
	}
}
