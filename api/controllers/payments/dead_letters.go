package payments

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/busline-backend/api/responses"
	"github.com/angelmondragon/busline-backend/api/validators"
	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/busline-backend/pkg/errors"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/types"
)

// DeadLetterLister reads parked outcome notifications for a reference.
type DeadLetterLister interface {
	ListByReference(ctx context.Context, reference string, limit int) ([]models.OutboxDLQ, error)
}

// DeadLetter is one notification the publisher gave up on.
type DeadLetter struct {
	EventID   string                     `json:"eventId"`
	EventType enums.OutboxEventType      `json:"eventType"`
	Reason    enums.OutboxDLQErrorReason `json:"reason"`
	Message   string                     `json:"message,omitempty"`
	Attempts  int                        `json:"attempts"`
	FailedAt  time.Time                  `json:"failedAt"`
}

// DeadLettersResponse lists the undelivered notifications of a payment.
type DeadLettersResponse struct {
	Reference   string       `json:"reference"`
	DeadLetters []DeadLetter `json:"deadLetters"`
}

// DeadLetters shows agents which ticket notifications never left the outbox
// for the reference in the path. The optional limit query caps the list.
func DeadLetters(lister DeadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		reference, err := validators.Reference(chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		types.SetReference(r.Context(), reference)
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
		}

		rows, err := lister.ListByReference(r.Context(), reference, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "dead letter lookup failed"))
			return
		}
		out := DeadLettersResponse{Reference: reference, DeadLetters: make([]DeadLetter, 0, len(rows))}
		for _, row := range rows {
			dl := DeadLetter{
				EventID:   row.EventID.String(),
				EventType: row.EventType,
				Reason:    row.ErrorReason,
				Attempts:  row.AttemptCount,
				FailedAt:  row.FailedAt,
			}
			if row.ErrorMessage != nil {
				dl.Message = *row.ErrorMessage
			}
			out.DeadLetters = append(out.DeadLetters, dl)
		}
		responses.WriteSuccess(w, out)
	}
}
