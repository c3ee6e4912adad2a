// Package dashboard exposes the analytics query surface: stored event
// queries, aggregate stats, the four analytics read models, and the alert
// admin endpoints.
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jailtonjunior94/streamflow/internal/alerting"
	"github.com/jailtonjunior94/streamflow/internal/analytics"
	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/responses"
	"github.com/jailtonjunior94/streamflow/internal/storage"
)

// DefaultActor is recorded on acknowledge/resolve when no X-Actor header
// is present.
const DefaultActor = "admin"

// Handler wires the dashboard routes to their read models.
type Handler struct {
	db        *storage.Database
	events    *storage.EventsRepository
	alerts    *storage.AlertsRepository
	analytics *analytics.Service
	engine    *alerting.Engine
}

// NewHandler creates the dashboard routes.
func NewHandler(
	db *storage.Database,
	events *storage.EventsRepository,
	alerts *storage.AlertsRepository,
	analyticsService *analytics.Service,
	engine *alerting.Engine,
) *Handler {
	return &Handler{
		db:        db,
		events:    events,
		alerts:    alerts,
		analytics: analyticsService,
		engine:    engine,
	}
}

// Register mounts the routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events/query", h.queryEvents)
		r.Get("/stats", h.stats)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/event-trends", h.eventTrends)
			r.Get("/user-distribution", h.userDistribution)
			r.Get("/top-sources", h.topSources)
			r.Get("/event-types", h.eventTypes)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.listAlerts)
			r.Get("/stats", h.alertStats)
			r.Post("/{id}/acknowledge", h.acknowledgeAlert)
			r.Post("/{id}/resolve", h.resolveAlert)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/backup", h.backupEvents)
			r.Post("/restore", h.restoreEvents)
		})
	})
}

// queryRequest is the POST /events/query body. All filters conjoin.
type queryRequest struct {
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	EventTypes []string   `json:"event_types,omitempty"`
	Sources    []string   `json:"sources,omitempty"`
	UserIDs    []string   `json:"user_ids,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

func (h *Handler) queryEvents(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.Fail(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	events, err := h.events.Query(r.Context(), storage.EventFilter{
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		EventTypes: req.EventTypes,
		Sources:    req.Sources,
		UserIDs:    req.UserIDs,
		Tags:       req.Tags,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "event query failed", "")
		return
	}

	responses.OK(w, http.StatusOK, "", map[string]any{
		"events": events,
		"count":  len(events),
	}, "")
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.Stats(r.Context())
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "stats query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", stats, "")
}

func (h *Handler) eventTrends(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", analytics.DefaultTrendHours)
	interval := queryInt(r, "interval_minutes", analytics.DefaultTrendIntervalMinutes)

	trends, err := h.analytics.EventTrends(r.Context(), hours, interval)
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "trend query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", trends, "")
}

func (h *Handler) userDistribution(w http.ResponseWriter, r *http.Request) {
	distribution, err := h.analytics.UserDistribution(r.Context())
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "distribution query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", distribution, "")
}

func (h *Handler) topSources(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", analytics.DefaultTopSourcesLimit)

	sources, err := h.analytics.TopSources(r.Context(), limit)
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "top sources query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", sources, "")
}

func (h *Handler) eventTypes(w http.ResponseWriter, r *http.Request) {
	shares, err := h.analytics.EventTypeDistribution(r.Context())
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "event types query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", shares, "")
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)

	alerts, err := h.alerts.List(r.Context(), status, hours, limit)
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "alert query failed", "")
		return
	}

	responses.OK(w, http.StatusOK, "", map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	}, "")
}

func (h *Handler) alertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		responses.Fail(w, http.StatusInternalServerError, "alert stats query failed", "")
		return
	}
	responses.OK(w, http.StatusOK, "", stats, "")
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.engine.Acknowledge(r.Context(), id, actor(r)); err != nil {
		h.writeAlertError(w, err)
		return
	}
	responses.OK(w, http.StatusOK, "alert acknowledged", map[string]string{"alert_id": id}, "")
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.engine.Resolve(r.Context(), id, actor(r)); err != nil {
		h.writeAlertError(w, err)
		return
	}
	responses.OK(w, http.StatusOK, "alert resolved", map[string]string{"alert_id": id}, "")
}

func (h *Handler) writeAlertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlertNotFound):
		responses.Fail(w, http.StatusNotFound, "alert not found", "")
	case errors.Is(err, domain.ErrAlertResolved):
		responses.Fail(w, http.StatusConflict, "alert is already resolved", "")
	default:
		responses.Fail(w, http.StatusInternalServerError, "alert update failed", "")
	}
}

// backupEvents streams the events table as a JSON array. The export is
// written incrementally; a query failure mid-stream truncates the array,
// which Restore then rejects.
func (h *Handler) backupEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="events-backup.json"`)

	_, _ = storage.Backup(r.Context(), h.db, w)
}

func (h *Handler) restoreEvents(w http.ResponseWriter, r *http.Request) {
	count, err := storage.Restore(r.Context(), h.events, r.Body)
	switch {
	case errors.Is(err, storage.ErrMalformedBackup):
		responses.Fail(w, http.StatusBadRequest, "invalid backup payload", "")
		return
	case err != nil:
		responses.Fail(w, http.StatusInternalServerError, "restore failed", "")
		return
	}

	responses.OK(w, http.StatusOK, "events restored", map[string]any{"restored": count}, "")
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return DefaultActor
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
