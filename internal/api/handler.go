// Package api is the admin and integration surface: reminder CRUD,
// satellite spawning, and scheduler introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/circuitbreaker"
	"github.com/lalithlochan/chime/internal/db"
	"github.com/lalithlochan/chime/internal/occurrence"
	"github.com/lalithlochan/chime/internal/scheduler"
)

// ReminderRepository defines the reminder persistence operations the API
// needs.
type ReminderRepository interface {
	CreateReminder(ctx context.Context, rem *db.Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*db.Reminder, error)
	ListUpcoming(ctx context.Context, limit int) ([]*db.Reminder, error)
}

// Scheduler exposes the loop's manual controls.
type Scheduler interface {
	Status() scheduler.Stats
	RunOnce(ctx context.Context) error
}

// ReminderRequest is the incoming request body for creating a reminder.
type ReminderRequest struct {
	OwnerID     string  `json:"owner_id"`
	SubjectID   string  `json:"subject_id,omitempty"`
	SubjectKind string  `json:"subject_kind,omitempty"`
	Kind        string  `json:"kind"`
	TimeOfDay   *string `json:"time_of_day,omitempty"`
	LeadMinutes *int32  `json:"lead_minutes,omitempty"`
	DaysOfWeek  []int32 `json:"days_of_week,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`

	IntervalEnabled bool    `json:"interval_enabled,omitempty"`
	IntervalMinutes *int32  `json:"interval_minutes,omitempty"`
	WindowStart     *string `json:"window_start,omitempty"`
	WindowEnd       *string `json:"window_end,omitempty"`

	Channels []string `json:"channels"`
	Message  *string  `json:"message,omitempty"`

	// SubjectDueAt anchors before_due reminders at creation time.
	SubjectDueAt *time.Time `json:"subject_due_at,omitempty"`
}

// ReminderResponse is returned after creating a reminder.
type ReminderResponse struct {
	ID        string     `json:"id"`
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
}

// AppointmentRequest spawns the prepare/urgent satellite reminders for an
// appointment.
type AppointmentRequest struct {
	OwnerID       string    `json:"owner_id"`
	AppointmentID string    `json:"appointment_id"`
	AppointmentAt time.Time `json:"appointment_at"`
	PrepMinutes   int       `json:"prep_minutes"`
	Timezone      string    `json:"timezone,omitempty"`
	Channels      []string  `json:"channels"`
}

// AppointmentResponse lists the spawned satellites. A satellite whose
// instant already passed is omitted.
type AppointmentResponse struct {
	Prepare *ReminderResponse `json:"prepare,omitempty"`
	Urgent  *ReminderResponse `json:"urgent,omitempty"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger   *zap.Logger
	repo     ReminderRepository
	sched    Scheduler
	breakers []*circuitbreaker.CircuitBreaker
	clock    scheduler.Clock
}

// NewHandler creates a new API handler. breakers may be empty.
func NewHandler(logger *zap.Logger, repo ReminderRepository, sched Scheduler, breakers []*circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		sched:    sched,
		breakers: breakers,
		clock:    scheduler.SystemClock,
	}
}

// Routes registers all handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/reminders", h.CreateReminder)
		r.Get("/reminders/upcoming", h.ListUpcoming)
		r.Get("/reminders/{id}", h.GetReminder)

		r.Post("/appointments/reminders", h.SpawnAppointmentReminders)

		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Post("/scheduler/run", h.TriggerRun)

		r.Get("/breakers", h.ListBreakers)
		r.Post("/breakers/{name}/reset", h.ResetBreaker)
	})
}

// CreateReminder handles POST /v1/reminders.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req ReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid owner_id", "owner_id must be a valid UUID")
		return
	}

	if len(req.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing channels", "at least one channel is required")
		return
	}
	for _, ch := range req.Channels {
		if ch != db.ChannelPush && ch != db.ChannelEmail && ch != db.ChannelSMS {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be push, email, or sms")
			return
		}
	}

	subjectKind := req.SubjectKind
	if subjectKind == "" {
		subjectKind = db.SubjectStandalone
	}
	var subjectID *uuid.UUID
	if req.SubjectID != "" {
		id, err := uuid.Parse(req.SubjectID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subject_id", "subject_id must be a valid UUID")
			return
		}
		subjectID = &id
	}

	subKind := db.SubKindMain
	if req.IntervalEnabled {
		subKind = db.SubKindInterval
	}

	rem := &db.Reminder{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		SubjectID:       subjectID,
		SubjectKind:     subjectKind,
		Kind:            req.Kind,
		SubKind:         subKind,
		TimeOfDay:       req.TimeOfDay,
		LeadMinutes:     req.LeadMinutes,
		DaysOfWeek:      req.DaysOfWeek,
		Timezone:        req.Timezone,
		IntervalEnabled: req.IntervalEnabled,
		IntervalMinutes: req.IntervalMinutes,
		WindowStart:     req.WindowStart,
		WindowEnd:       req.WindowEnd,
		Channels:        req.Channels,
		Message:         req.Message,
		Active:          true,
	}

	if err := occurrence.Validate(rem); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_schedule", "Invalid reminder configuration", err.Error())
		return
	}

	next, ok := occurrence.Next(rem, h.clock.Now(), req.SubjectDueAt)
	if !ok {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_schedule", "No future occurrence",
			"the reminder would never fire; check the due date and schedule")
		return
	}
	rem.NextDueAt = &next

	if err := h.repo.CreateReminder(r.Context(), rem); err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create reminder", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, ReminderResponse{ID: rem.ID.String(), NextDueAt: rem.NextDueAt})
}

// GetReminder handles GET /v1/reminders/{id}.
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	rem, err := h.repo.GetReminder(r.Context(), id)
	if errors.Is(err, db.ErrReminderNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load reminder", "")
		return
	}

	h.writeJSON(w, http.StatusOK, rem)
}

// ListUpcoming handles GET /v1/reminders/upcoming.
func (h *Handler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	reminders, err := h.repo.ListUpcoming(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list reminders", "")
		return
	}
	if reminders == nil {
		reminders = []*db.Reminder{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"count":     len(reminders),
	})
}

// SpawnAppointmentReminders handles POST /v1/appointments/reminders. It
// derives the prepare and urgent one-shot reminders from the appointment
// start and the owner's prep estimate.
func (h *Handler) SpawnAppointmentReminders(w http.ResponseWriter, r *http.Request) {
	var req AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid owner_id", "owner_id must be a valid UUID")
		return
	}
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid appointment_id", "appointment_id must be a valid UUID")
		return
	}
	if req.PrepMinutes < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid prep_minutes", "prep_minutes must be non-negative")
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = []string{db.ChannelPush}
	}

	now := h.clock.Now()
	times := occurrence.AppointmentTimes(req.AppointmentAt, req.PrepMinutes)

	if !times.Prepare.After(now) && !times.Urgent.After(now) {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_schedule", "Appointment too soon",
			"both satellite instants are already in the past")
		return
	}

	resp := AppointmentResponse{}
	satellites := []struct {
		subKind string
		at      time.Time
		slot    **ReminderResponse
	}{
		{db.SubKindPrepare, times.Prepare, &resp.Prepare},
		{db.SubKindUrgent, times.Urgent, &resp.Urgent},
	}

	for _, sat := range satellites {
		if !sat.at.After(now) {
			continue
		}

		rem := h.satelliteReminder(ownerID, appointmentID, sat.subKind, sat.at, req)
		if err := h.repo.CreateReminder(r.Context(), rem); err != nil {
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create satellite reminder", "")
			return
		}
		*sat.slot = &ReminderResponse{ID: rem.ID.String(), NextDueAt: rem.NextDueAt}
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// satelliteReminder builds a one-shot scheduled reminder pinned to a
// concrete instant.
func (h *Handler) satelliteReminder(ownerID, appointmentID uuid.UUID, subKind string, at time.Time, req AppointmentRequest) *db.Reminder {
	loc := time.UTC
	if req.Timezone != "" {
		if parsed, err := time.LoadLocation(req.Timezone); err == nil {
			loc = parsed
		}
	}
	tod := at.In(loc).Format("15:04")
	due := at

	return &db.Reminder{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		SubjectID:   &appointmentID,
		SubjectKind: db.SubjectAppointment,
		Kind:        db.KindScheduled,
		SubKind:     subKind,
		TimeOfDay:   &tod,
		Timezone:    req.Timezone,
		Channels:    req.Channels,
		Active:      true,
		NextDueAt:   &due,
	}
}

// SchedulerStatus handles GET /v1/scheduler/status.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// TriggerRun handles POST /v1/scheduler/run: an operator-triggered batch
// outside the normal cadence.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	err := h.sched.RunOnce(r.Context())
	if errors.Is(err, scheduler.ErrBatchInProgress) {
		h.writeError(w, http.StatusConflict, "batch_in_progress", "A batch is already running", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "batch_error", "Batch failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// ListBreakers handles GET /v1/breakers.
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	stats := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, b := range h.breakers {
		stats = append(stats, b.Stats())
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": stats})
}

// ResetBreaker handles POST /v1/breakers/{name}/reset.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, b := range h.breakers {
		if b.Name() == name {
			b.Reset()
			h.writeJSON(w, http.StatusOK, b.Stats())
			return
		}
	}
	h.writeError(w, http.StatusNotFound, "not_found", "Breaker not found", "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
