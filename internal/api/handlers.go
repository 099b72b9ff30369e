package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
	"github.com/clinsched/appointment-engine/internal/notify"
	"github.com/clinsched/appointment-engine/internal/scheduler"
)

// Tenant scoping: every request carries the tenant in this header.
const headerTenantID = "X-Tenant-ID"

// Acting user for cancel operations.
const headerUserID = "X-User-ID"

type appointmentHandlers struct {
	svc      *appointment.Service
	notifier notify.Notifier
	log      zerolog.Logger
}

func tenantFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(headerTenantID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", headerTenantID+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// notifyBestEffort dispatches a boundary notification; a transport failure
// never fails the request.
func (h *appointmentHandlers) notifyBestEffort(ctx context.Context, kind notify.Kind, appt *appointment.Appointment) {
	if err := h.notifier.Send(ctx, kind, appt); err != nil {
		h.log.Warn().Err(err).
			Str("kind", kind.String()).
			Str("appointment_id", appt.ID.String()).
			Msg("boundary notification failed")
	}
}

func (h *appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	specialistID, err := uuid.Parse(req.SpecialistID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specialist_id", "specialist_id must be a valid UUID")
		return
	}
	specialtyID, err := uuid.Parse(req.SpecialtyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specialty_id", "specialty_id must be a valid UUID")
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_starts_at", "starts_at is required (RFC 3339)")
		return
	}

	appt, err := h.svc.Create(r.Context(), appointment.CreateParams{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		SpecialtyID:  specialtyID,
		Start:        req.StartsAt,
		Reason:       req.Reason,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.notifyBestEffort(r.Context(), notify.KindReservation, appt)

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Confirm(r.Context(), tenantID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.notifyBestEffort(r.Context(), notify.KindConfirmation, appt)

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actorID, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", headerUserID+" must be a valid UUID")
		return
	}

	var req CancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.Cancel(r.Context(), tenantID, id, actorID, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.notifyBestEffort(r.Context(), notify.KindCancellation, appt)

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) attend(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Attend(r.Context(), tenantID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) listByTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	appts, err := h.svc.ListByTenant(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *appointmentHandlers) listByPatient(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	patientID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	appts, err := h.svc.ListByPatient(r.Context(), tenantID, patientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *appointmentHandlers) listBySpecialist(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	specialistID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	appts, err := h.svc.ListBySpecialist(r.Context(), tenantID, specialistID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *appointmentHandlers) registerInactivity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	specialistID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actorID, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		// Fall back to the tenant's administrative actor.
		actorID = uuid.Nil
	}

	var req InactivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	result, err := h.svc.RegisterInactivity(r.Context(), tenantID, specialistID, actorID, req.From, req.To, req.Reason, req.CancelOverlapping)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, InactivityResponse{
		IntervalID: result.Interval.ID,
		From:       result.Interval.From,
		To:         result.Interval.To,
		Reason:     result.Interval.Reason,
		Found:      result.Found,
		Canceled:   result.Canceled,
	})
}

func (h *appointmentHandlers) removeInactivity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	specialistID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	intervalID, ok := pathUUID(w, r, "intervalID")
	if !ok {
		return
	}

	if err := h.svc.RemoveInactivity(r.Context(), tenantID, specialistID, intervalID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runSchedulerOnceHandler is the operational trigger: one full pass over
// all reminder marks and the auto-cancel window, without looping.
func runSchedulerOnceHandler(sched *scheduler.Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sched.RunOnce(r.Context()); err != nil {
			log.Error().Err(err).Msg("manual scheduler pass failed")
			writeError(w, http.StatusInternalServerError, "scheduler_pass_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	var (
		validation  *appointment.ValidationError
		unavailable *appointment.SpecialistUnavailableError
		taken       *appointment.SlotTakenError
		duplicate   *appointment.DuplicateSameDayError
	)

	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrSpecialistNotFound):
		writeError(w, http.StatusNotFound, "specialist_not_found", err.Error())
	case errors.Is(err, appointment.ErrSpecialtyNotFound):
		writeError(w, http.StatusNotFound, "specialty_not_found", err.Error())
	case errors.Is(err, appointment.ErrStateNotFound):
		writeError(w, http.StatusNotFound, "state_not_found", err.Error())
	case errors.Is(err, appointment.ErrInactivityNotFound):
		writeError(w, http.StatusNotFound, "inactivity_not_found", err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, "specialist_unavailable", unavailable.Error())
	case errors.As(err, &taken):
		writeError(w, http.StatusConflict, "slot_taken", taken.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, "duplicate_same_day", duplicate.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCanceled):
		writeError(w, http.StatusConflict, "already_canceled", err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", validation.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
