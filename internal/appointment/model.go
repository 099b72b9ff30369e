package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
	StatusAttended  Status = "attended"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusAttended
}

// Appointment is the aggregate root. Start and End are always UTC; End is
// derived from the tenant's configured duration at creation time and never
// changes afterwards.
type Appointment struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PatientID    uuid.UUID
	SpecialistID uuid.UUID
	SpecialtyID  uuid.UUID

	Start           time.Time
	End             time.Time
	DurationMinutes int

	Status Status
	Reason *string // booking motive, free text

	CanceledBy   *uuid.UUID
	CancelReason *string

	// ReminderMarks holds the pre-start offsets (in hours) for which a
	// reminder has already been sent. It is what makes reminder delivery
	// at-most-once per offset across overlapping tick windows and restarts.
	ReminderMarks  []int
	LastReminderAt *time.Time
	AutoCanceledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasReminderMark reports whether the offset has already fired.
func (a *Appointment) HasReminderMark(hours int) bool {
	for _, m := range a.ReminderMarks {
		if m == hours {
			return true
		}
	}
	return false
}

// InactivityInterval is a specialist-declared range during which they cannot
// be booked. Intervals may overlap each other; they are never merged.
type InactivityInterval struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	SpecialistID uuid.UUID
	From         time.Time
	To           time.Time
	Reason       string
	CreatedAt    time.Time
}

// StateDefinition is a tenant-provisioned catalog entry for an appointment
// status. The engine's logic runs on the Status constants; the catalog is
// what seeding creates per tenant and what the auto-cancel sweep resolves
// before acting.
type StateDefinition struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        Status
	Description string
}

type Patient struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Specialist struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Specialty struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

// EventLog is an append-only journal row for lifecycle and scheduler events.
type EventLog struct {
	ID            int64
	TenantID      uuid.UUID
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
