package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/metinatakli/paygate/internal/domain"
	"github.com/metinatakli/paygate/internal/jsonutil"
)

type webhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type,omitempty"`
}

// HandleWebhook hands the body to the driver exactly as received; any
// re-encoding would break signature verification.
func (app *Application) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	driver := chi.URLParam(r, "driver")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, app.config.Webhooks.MaxBytes))
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			app.errorResponse(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("body must not be larger than %d bytes", maxBytesError.Limit))
			return
		}
		app.badRequestResponse(w, r, err)
		return
	}

	event, err := app.service.HandleWebhook(r.Context(), driver, payload, r.Header)

	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		app.writeWebhook(w, r, webhookResponse{Status: "duplicate", EventID: event.ID, Type: event.Type})
	case err != nil:
		app.handleError(w, r, err)
	default:
		app.writeWebhook(w, r, webhookResponse{Status: "processed", EventID: event.ID, Type: event.Type})
	}
}

func (app *Application) writeWebhook(w http.ResponseWriter, r *http.Request, resp webhookResponse) {
	err := jsonutil.WriteJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
