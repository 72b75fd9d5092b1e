package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/sendnforget/internal/api/shared"
	"github.com/phrazzld/sendnforget/internal/domain"
)

// StatusReader reads job records.
type StatusReader interface {
	List(ctx context.Context) ([]domain.JobRecord, error)
	Get(ctx context.Context, trackingID string) (*domain.JobRecord, error)
}

// JobsHandler serves job status records
type JobsHandler struct {
	reader StatusReader
}

// NewJobsHandler creates a new JobsHandler
func NewJobsHandler(reader StatusReader) *JobsHandler {
	return &JobsHandler{reader: reader}
}

// List handles GET /api/v1/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.reader.List(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if records == nil {
		records = []domain.JobRecord{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, records)
}

// Get handles GET /api/v1/jobs/{id}
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Job id is required")
		return
	}

	record, err := h.reader.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, record)
}
