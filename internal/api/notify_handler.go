package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/sendnforget/internal/api/shared"
	"github.com/phrazzld/sendnforget/internal/dispatch"
)

// Submitter accepts notification requests.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Receipt, error)
}

// NotifyHandler handles notification submissions
type NotifyHandler struct {
	submitter Submitter
}

// NewNotifyHandler creates a new NotifyHandler
func NewNotifyHandler(submitter Submitter) *NotifyHandler {
	return &NotifyHandler{submitter: submitter}
}

// Notify handles POST /api/v1/notify. The notification is only queued, so a
// successful submission answers 202 with the tracking ID to poll for.
func (h *NotifyHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		status := MapErrorToStatusCode(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		shared.RespondWithErrorAndLog(w, r, status, "Invalid request format", err)
		return
	}

	receipt, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, receipt)
}
