// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/form"
	"github.com/Shivanand-hulikatti/eventreg/internal/inventory"
	"github.com/Shivanand-hulikatti/eventreg/internal/lifecycle"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/service"
	"github.com/Shivanand-hulikatti/eventreg/internal/team"
)

// EventHandler holds all HTTP handlers for the registration API.
type EventHandler struct {
	svc    *service.EventService
	logger *slog.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{svc: svc, logger: logger}
}

// RouterConfig carries what NewRouter needs besides the handlers.
type RouterConfig struct {
	JWTSecret []byte
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(h *EventHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog(cfg.Logger))
	r.Use(Authenticate(cfg.JWTSecret))

	r.Get("/health", HealthCheck)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/organizer", func(r chi.Router) {
		r.Use(RequireRole(RoleOrganizer))
		r.Post("/events", h.CreateDraft)
		r.Get("/events", h.ListOrganizerEvents)
		r.Put("/events/{id}", h.UpdateFields)
		r.Post("/events/{id}/publish", h.Publish)
		r.Post("/events/{id}/start", h.Start)
		r.Post("/events/{id}/close", h.Close)
		r.Get("/events/{id}/stats", h.Stats)
		r.Get("/events/{id}/registrations", h.ListRegistrations)
		r.Patch("/events/{id}/tickets/{ticketId}/attendance", h.MarkTicketAttendance)
		r.Get("/registrations/{id}", h.GetRegistration)
		r.Patch("/registrations/{id}/attendance", h.ToggleAttendance)
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.With(RequireRole(RoleParticipant)).Post("/{id}/register", h.Register)
	})
	r.With(RequireRole(RoleParticipant)).Get("/me/registrations", h.MyRegistrations)

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// errorStatus maps domain errors to HTTP statuses and stable codes.
// The first match wins.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{admission.ErrEventNotFound, http.StatusNotFound, "event_not_found"},
	{admission.ErrEventNotOpen, http.StatusConflict, "event_not_open"},
	{admission.ErrLimitReached, http.StatusConflict, "limit_reached"},
	{admission.ErrDeadlinePassed, http.StatusConflict, "deadline_passed"},
	{admission.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{admission.ErrNotEligible, http.StatusForbidden, "not_eligible"},
	{admission.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
	{admission.ErrPurchaseLimitExceeded, http.StatusConflict, "purchase_limit_exceeded"},
	{admission.ErrVariantNotFound, http.StatusBadRequest, "variant_not_found"},
	{inventory.ErrNoSelection, http.StatusBadRequest, "variant_not_found"},
	{admission.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
	{admission.ErrTeamNotFound, http.StatusNotFound, "team_not_found"},
	{admission.ErrTeamFull, http.StatusConflict, "team_full"},
	{admission.ErrInvalidTeamCapacity, http.StatusBadRequest, "invalid_team_capacity"},
	{team.ErrTeamNameMissing, http.StatusBadRequest, "invalid_team_name"},
	{admission.ErrTeamRequired, http.StatusBadRequest, "team_required"},
	{admission.ErrMissingField, http.StatusBadRequest, "missing_field"},
	{form.ErrInvalidFieldValue, http.StatusBadRequest, "invalid_field_value"},
	{admission.ErrAdmissionConflict, http.StatusServiceUnavailable, "admission_conflict"},
	{lifecycle.ErrPublishValidation, http.StatusUnprocessableEntity, "publish_validation_failed"},
	{lifecycle.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{lifecycle.ErrEventReadOnly, http.StatusConflict, "event_read_only"},
	{lifecycle.ErrFieldLocked, http.StatusConflict, "field_locked"},
	{lifecycle.ErrInvalidUpdate, http.StatusBadRequest, "invalid_update"},
	{lifecycle.ErrTeamMerchandise, http.StatusBadRequest, "team_merchandise"},
	{lifecycle.ErrInvalidSchedule, http.StatusBadRequest, "invalid_schedule"},
	{service.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrConflict, http.StatusServiceUnavailable, "conflict"},
}

// writeError writes the envelope for err. Unknown errors are logged and
// reported as an opaque 500.
func (h *EventHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatus {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := model.ErrorResponse{Error: err.Error(), Code: m.code}
		var pe *lifecycle.PublishError
		if errors.As(err, &pe) {
			resp.Missing = pe.Missing
		}
		if m.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, m.status, resp)
		return
	}
	h.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"error", err,
	)
	writeErrorCode(w, http.StatusInternalServerError, "internal server error", "internal")
}

func (h *EventHandler) badBody(w http.ResponseWriter, err error) {
	writeErrorCode(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_body")
}

// principal returns the caller id. Routes are guarded by RequireRole, so a
// missing principal only happens on public routes.
func principal(r *http.Request) string {
	p, _ := PrincipalFrom(r.Context())
	return p.ID
}

// emptyIfNil returns an empty slice rather than null for better client compatibility.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ─── Organizer handlers ───────────────────────────────────────────────────────

// CreateDraft handles POST /organizer/events
func (h *EventHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req model.EventDraft
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	event, err := h.svc.CreateDraft(r.Context(), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListOrganizerEvents handles GET /organizer/events
func (h *EventHandler) ListOrganizerEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListOrganizerEvents(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

// UpdateFields handles PUT /organizer/events/{id}
// Which fields may change depends on the event status.
func (h *EventHandler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	var req model.EventUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	event, err := h.svc.UpdateFields(r.Context(), principal(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Publish handles POST /organizer/events/{id}/publish
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Publish)
}

// Start handles POST /organizer/events/{id}/start
func (h *EventHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

// Close handles POST /organizer/events/{id}/close
func (h *EventHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Close)
}

type transitionFunc func(ctx context.Context, organizerID, eventID string) (*model.Event, error)

func (h *EventHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	event, err := fn(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Stats handles GET /organizer/events/{id}/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListRegistrations handles GET /organizer/events/{id}/registrations
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(regs))
}

// GetRegistration handles GET /organizer/registrations/{id}
func (h *EventHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.GetRegistration(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type attendanceRequest struct {
	Attended *bool `json:"attended"`
}

func (h *EventHandler) decodeAttendance(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req attendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return false, false
	}
	if req.Attended == nil {
		h.badBody(w, errors.New("attended is required"))
		return false, false
	}
	return *req.Attended, true
}

// ToggleAttendance handles PATCH /organizer/registrations/{id}/attendance
func (h *EventHandler) ToggleAttendance(w http.ResponseWriter, r *http.Request) {
	attended, ok := h.decodeAttendance(w, r)
	if !ok {
		return
	}
	reg, err := h.svc.ToggleAttendance(r.Context(), principal(r), chi.URLParam(r, "id"), attended)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// MarkTicketAttendance handles PATCH /organizer/events/{id}/tickets/{ticketId}/attendance
// It backs the ticket scanner at the venue.
func (h *EventHandler) MarkTicketAttendance(w http.ResponseWriter, r *http.Request) {
	attended, ok := h.decodeAttendance(w, r)
	if !ok {
		return
	}
	reg, err := h.svc.MarkTicketAttendance(r.Context(), principal(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "ticketId"), attended)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ─── Participant handlers ─────────────────────────────────────────────────────

// ListEvents handles GET /events
// Returns every event that is no longer a draft.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListPublishedEvents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

// GetEvent handles GET /events/{id}
// Authenticated participants also get their team details.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetEventView(r.Context(), chi.URLParam(r, "id"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Register handles POST /events/{id}/register
// Performs a concurrency-safe registration for the calling participant.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, err)
		return
	}
	res, err := h.svc.Register(r.Context(), chi.URLParam(r, "id"), principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// MyRegistrations handles GET /me/registrations
func (h *EventHandler) MyRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.MyRegistrations(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(regs))
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
