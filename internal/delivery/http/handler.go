package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yago-healz/clinic-core/internal/domain/appointment"
	"github.com/yago-healz/clinic-core/internal/domain/conversation"
	"github.com/yago-healz/clinic-core/internal/domain/journey"
	"github.com/yago-healz/clinic-core/internal/domain/patient"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventstore"
	"github.com/yago-healz/clinic-core/internal/service"
)

// Handler exposes the command handlers and read models over JSON. Requests
// arrive already authorized; the tenant and clinic ids are trusted headers.
type Handler struct {
	db            *sql.DB
	appointments  *service.AppointmentService
	conversations *service.ConversationService
	journeys      *service.JourneyService
	patients      *service.PatientService
	store         eventstore.Store
}

func NewHandler(
	db *sql.DB,
	appointments *service.AppointmentService,
	conversations *service.ConversationService,
	journeys *service.JourneyService,
	patients *service.PatientService,
	store eventstore.Store,
) *Handler {
	return &Handler{
		db:            db,
		appointments:  appointments,
		conversations: conversations,
		journeys:      journeys,
		patients:      patients,
		store:         store,
	}
}

// EnableCORS is middleware to allow browser frontends to connect.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-Clinic-ID, X-Correlation-ID, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/appointments", h.handleScheduleAppointment)
	mux.HandleFunc("POST /api/appointments/{id}/confirm", h.handleConfirmAppointment)
	mux.HandleFunc("POST /api/appointments/{id}/cancel", h.handleCancelAppointment)
	mux.HandleFunc("POST /api/appointments/{id}/reschedule", h.handleRescheduleAppointment)
	mux.HandleFunc("POST /api/appointments/{id}/complete", h.handleCompleteAppointment)
	mux.HandleFunc("POST /api/appointments/{id}/no-show", h.handleNoShowAppointment)
	mux.HandleFunc("GET /api/appointments", h.handleListAppointments)

	mux.HandleFunc("POST /api/conversations", h.handleStartConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.handleSendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/inbound", h.handleReceiveMessage)
	mux.HandleFunc("POST /api/conversations/{id}/intents", h.handleDetectIntent)
	mux.HandleFunc("POST /api/conversations/{id}/escalate", h.handleEscalateConversation)
	mux.HandleFunc("POST /api/conversations/{id}/resolve", h.handleResolveConversation)
	mux.HandleFunc("POST /api/conversations/{id}/abandon", h.handleAbandonConversation)

	mux.HandleFunc("POST /api/journeys", h.handleStartJourney)
	mux.HandleFunc("POST /api/journeys/{id}/transition", h.handleTransitionJourney)
	mux.HandleFunc("POST /api/journeys/{id}/risks", h.handleDetectRisk)
	mux.HandleFunc("POST /api/journeys/{id}/risk-score", h.handleRecalculateRisk)
	mux.HandleFunc("POST /api/journeys/{id}/milestones", h.handleReachMilestone)
	mux.HandleFunc("GET /api/journeys", h.handleListJourneys)

	mux.HandleFunc("POST /api/patients", h.handleRegisterPatient)
	mux.HandleFunc("POST /api/patients/{id}/contact", h.handleUpdatePatientContact)
	mux.HandleFunc("POST /api/patients/{id}/deactivate", h.handleDeactivatePatient)
	mux.HandleFunc("POST /api/patients/{id}/reactivate", h.handleReactivatePatient)

	mux.HandleFunc("GET /api/events", h.handleListEvents)
}

func metaFrom(r *http.Request) event.Meta {
	return event.Meta{
		TenantID:      r.Header.Get("X-Tenant-ID"),
		ClinicID:      r.Header.Get("X-Clinic-ID"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		UserID:        r.Header.Get("X-User-ID"),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, eventstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrSlotTaken),
		eventstore.IsVersionConflict(err):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// --- Appointments ---

type scheduleAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
}

func (h *Handler) handleScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req scheduleAppointmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := h.appointments.Schedule(r.Context(), "", appointment.ScheduleInput{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
	}, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"appointment_id": a.ID,
		"status":         string(a.Status),
	})
}

func (h *Handler) handleConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.appointments.Confirm)
}

func (h *Handler) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.appointments.Cancel(r.Context(), r.PathValue("id"), req.Reason, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at"`
		Reason      string    `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.appointments.Reschedule(r.Context(), r.PathValue("id"), req.ScheduledAt, req.Reason, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCompleteAppointment(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.appointments.Complete)
}

func (h *Handler) handleNoShowAppointment(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.appointments.MarkNoShow)
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, patient_id, doctor_id, scheduled_at, duration_minutes, status FROM appointment_list WHERE tenant_id = $1 ORDER BY scheduled_at DESC LIMIT 100",
		r.Header.Get("X-Tenant-ID"),
	)
	if err != nil {
		http.Error(w, "failed to query appointments", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type row struct {
		ID              string    `json:"id"`
		PatientID       string    `json:"patient_id"`
		DoctorID        string    `json:"doctor_id"`
		ScheduledAt     time.Time `json:"scheduled_at"`
		DurationMinutes int       `json:"duration_minutes"`
		Status          string    `json:"status"`
	}
	out := []row{}
	for rows.Next() {
		var a row
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.DurationMinutes, &a.Status); err != nil {
			http.Error(w, "failed to scan appointment", http.StatusInternalServerError)
			return
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Conversations ---

func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID string `json:"patient_id"`
		Channel   string `json:"channel"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.conversations.Start(r.Context(), "", req.PatientID, req.Channel, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": c.ID,
		"status":          string(c.Status),
	})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
		SentBy    string `json:"sent_by"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.conversations.SendMessage(r.Context(), r.PathValue("id"),
		req.MessageID, req.Content, conversation.Sender(req.SentBy), metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.conversations.ReceiveMessage(r.Context(), r.PathValue("id"),
		req.MessageID, req.Content, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDetectIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.conversations.DetectIntent(r.Context(), r.PathValue("id"), req.Intent, req.Confidence, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleEscalateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssignedTo string `json:"assigned_to"`
		Reason     string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.conversations.Escalate(r.Context(), r.PathValue("id"), req.AssignedTo, req.Reason, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.conversations.Resolve(r.Context(), r.PathValue("id"), req.Resolution, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleAbandonConversation(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.conversations.Abandon)
}

// --- Journeys ---

func (h *Handler) handleStartJourney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID string `json:"patient_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := h.journeys.Start(r.Context(), "", req.PatientID, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"journey_id": j.ID,
		"stage":      string(j.Stage),
	})
}

func (h *Handler) handleTransitionJourney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage  string `json:"stage"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.journeys.TransitionTo(r.Context(), r.PathValue("id"), journey.Stage(req.Stage), req.Reason, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDetectRisk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Factors []journey.RiskFactor `json:"factors"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.journeys.DetectRisk(r.Context(), r.PathValue("id"), req.Factors, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRecalculateRisk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Factors []journey.RiskFactor `json:"factors"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.journeys.RecalculateRiskScore(r.Context(), r.PathValue("id"), req.Factors, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReachMilestone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.journeys.ReachMilestone(r.Context(), r.PathValue("id"), req.Name, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, patient_id, stage, risk_score, risk_level FROM journey_list WHERE tenant_id = $1 ORDER BY updated_at DESC LIMIT 100",
		r.Header.Get("X-Tenant-ID"),
	)
	if err != nil {
		http.Error(w, "failed to query journeys", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type row struct {
		ID        string `json:"id"`
		PatientID string `json:"patient_id"`
		Stage     string `json:"stage"`
		RiskScore int    `json:"risk_score"`
		RiskLevel string `json:"risk_level"`
	}
	out := []row{}
	for rows.Next() {
		var j row
		if err := rows.Scan(&j.ID, &j.PatientID, &j.Stage, &j.RiskScore, &j.RiskLevel); err != nil {
			http.Error(w, "failed to scan journey", http.StatusInternalServerError)
			return
		}
		out = append(out, j)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Patients ---

func (h *Handler) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		DateOfBirth string `json:"date_of_birth"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.patients.Register(r.Context(), "", patient.RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
	}, metaFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"patient_id": p.ID})
}

func (h *Handler) handleUpdatePatientContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.patients.UpdateContact(r.Context(), r.PathValue("id"), req.Email, req.Phone, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleDeactivatePatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.patients.Deactivate(r.Context(), r.PathValue("id"), req.Reason, metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReactivatePatient(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.patients.Reactivate)
}

// --- Event log (operational querying) ---

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	page := eventstore.Page{Limit: 50}

	var events []event.Event
	var err error
	switch {
	case q.Get("correlation_id") != "":
		events, err = h.store.ByCorrelation(ctx, q.Get("correlation_id"))
	case q.Get("event_type") != "":
		events, err = h.store.ByType(ctx, event.Type(q.Get("event_type")), page)
	default:
		events, err = h.store.ByTenant(ctx, r.Header.Get("X-Tenant-ID"), page)
	}
	if err != nil {
		slog.Error("Failed to query events", "err", err)
		http.Error(w, "failed to query events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// command runs a body-less aggregate operation addressed by path id.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string, meta event.Meta) error) {
	if err := op(r.Context(), r.PathValue("id"), metaFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
