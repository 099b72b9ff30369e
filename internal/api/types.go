package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinsched/appointment-engine/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID    string    `json:"patient_id"`
	SpecialistID string    `json:"specialist_id"`
	SpecialtyID  string    `json:"specialty_id"`
	StartsAt     time.Time `json:"starts_at"`
	Reason       string    `json:"reason,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type InactivityRequest struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	Reason            string    `json:"reason"`
	CancelOverlapping bool      `json:"cancel_overlapping"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	SpecialistID   uuid.UUID  `json:"specialist_id"`
	SpecialtyID    uuid.UUID  `json:"specialty_id"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	Status         string     `json:"status"`
	Reason         *string    `json:"reason,omitempty"`
	CanceledBy     *uuid.UUID `json:"canceled_by,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
	ReminderMarks  []int      `json:"reminder_marks"`
	AutoCanceledAt *time.Time `json:"auto_canceled_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	marks := a.ReminderMarks
	if marks == nil {
		marks = []int{}
	}
	return AppointmentResponse{
		ID:             a.ID,
		TenantID:       a.TenantID,
		PatientID:      a.PatientID,
		SpecialistID:   a.SpecialistID,
		SpecialtyID:    a.SpecialtyID,
		StartsAt:       a.Start,
		EndsAt:         a.End,
		Status:         string(a.Status),
		Reason:         a.Reason,
		CanceledBy:     a.CanceledBy,
		CancelReason:   a.CancelReason,
		ReminderMarks:  marks,
		AutoCanceledAt: a.AutoCanceledAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

type InactivityResponse struct {
	IntervalID uuid.UUID `json:"interval_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Reason     string    `json:"reason"`
	Found      int       `json:"overlapping_found"`
	Canceled   int       `json:"overlapping_canceled"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
