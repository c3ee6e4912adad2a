package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/responses"
)

// MaxBatchSize is the largest accepted batch.
const MaxBatchSize = 100

// eventReader is the store lookup the edge needs for GET /events/{id}.
type eventReader interface {
	GetByID(ctx context.Context, id string) (*domain.Event, error)
}

// Handler exposes the ingestion HTTP surface.
type Handler struct {
	service *Service
	events  eventReader
}

// NewHandler creates the ingestion routes.
func NewHandler(service *Service, events eventReader) *Handler {
	return &Handler{service: service, events: events}
}

// Register mounts the routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events", h.submitEvent)
	r.Post("/events/batch", h.submitBatch)
	r.Get("/events/{id}", h.getEvent)
}

func (h *Handler) submitEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		responses.Fail(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	id, err := h.service.Ingest(r.Context(), &event, r.Header.Get("X-User-ID"))
	if err != nil {
		h.writeIngestError(w, err, event.CorrelationID)
		return
	}

	responses.OK(w, http.StatusAccepted, "event accepted",
		map[string]string{"event_id": id}, event.CorrelationID)
}

// batchRequest is the batch submission body.
type batchRequest struct {
	Events []domain.Event `json:"events"`
}

// BatchItemResult reports one item's outcome; offending items are rejected
// without failing the rest.
type BatchItemResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// batchResponse summarizes a batch submission.
type batchResponse struct {
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Results  []BatchItemResult `json:"results"`
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.Fail(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	if len(req.Events) == 0 {
		responses.Fail(w, http.StatusBadRequest, "events list is empty", "")
		return
	}
	if len(req.Events) > MaxBatchSize {
		responses.Fail(w, http.StatusBadRequest, "batch exceeds 100 events", "")
		return
	}

	callerID := r.Header.Get("X-User-ID")
	resp := batchResponse{Results: make([]BatchItemResult, 0, len(req.Events))}

	for i := range req.Events {
		result := BatchItemResult{Index: i}

		id, err := h.service.Ingest(r.Context(), &req.Events[i], callerID)
		if err != nil {
			result.Error = err.Error()
			resp.Rejected++
		} else {
			result.Success = true
			result.EventID = id
			resp.Accepted++
		}

		resp.Results = append(resp.Results, result)
	}

	responses.OK(w, http.StatusAccepted, "batch processed", resp, "")
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.events.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrEventNotFound) {
		responses.Fail(w, http.StatusNotFound, "event not found", "")
		return
	}
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "event lookup failed", "")
		return
	}

	responses.OK(w, http.StatusOK, "", event, event.CorrelationID)
}

func (h *Handler) writeIngestError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case domain.IsValidation(err):
		responses.Fail(w, http.StatusBadRequest, err.Error(), correlationID)
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrShuttingDown):
		responses.Fail(w, http.StatusServiceUnavailable, err.Error(), correlationID)
	default:
		responses.Fail(w, http.StatusInternalServerError, "event submission failed", correlationID)
	}
}
