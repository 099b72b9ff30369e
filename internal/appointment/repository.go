package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSpecialistNotFound  = errors.New("specialist not found")
	ErrSpecialtyNotFound   = errors.New("specialty not found")
	ErrStateNotFound       = errors.New("appointment state not found for tenant")
	ErrAdminNotFound       = errors.New("administrative user not found for tenant")
	ErrInactivityNotFound  = errors.New("inactivity interval not found")
)

// Repository is the availability store: persisted appointments plus
// specialist inactivity intervals, with the range and overlap queries the
// legality checker and the scheduler run against it. All queries are scoped
// by tenant except the scheduler's start-window scan, which crosses tenants
// and re-scopes per appointment before acting.
type Repository interface {
	GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// UpdateStatus is a compare-and-set transition: it only applies when the
	// stored status still equals from, and returns ErrAppointmentNotFound
	// when the row is gone or the status moved underneath us.
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status) (*Appointment, error)

	MarkCanceled(ctx context.Context, tenantID, id, actorID uuid.UUID, reason string, autoCanceledAt *time.Time) (*Appointment, error)
	MarkAttended(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)

	// AppendReminderMark records that the offset fired, stamping the last
	// reminder time. The append is conditional on the mark being absent;
	// the boolean reports whether the row actually changed.
	AppendReminderMark(ctx context.Context, tenantID, id uuid.UUID, mark int, sentAt time.Time) (bool, error)

	// FindOverlapping returns non-canceled appointments of the specialist
	// intersecting [start, end), optionally excluding one appointment id
	// (re-validation after an edit).
	FindOverlapping(ctx context.Context, tenantID, specialistID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// FindPatientSpecialistBetween returns non-canceled appointments the
	// patient holds with the specialist starting within [from, to).
	FindPatientSpecialistBetween(ctx context.Context, tenantID, patientID, specialistID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// FindPendingStartingBetween is the scheduler's scan: pending
	// appointments, any tenant, whose start falls within [from, to].
	FindPendingStartingBetween(ctx context.Context, from, to time.Time) ([]Appointment, error)

	ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID) ([]Appointment, error)
	ListBySpecialist(ctx context.Context, tenantID, specialistID uuid.UUID) ([]Appointment, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Appointment, error)

	// Specialist inactivity intervals.
	AddInactivity(ctx context.Context, interval *InactivityInterval) (*InactivityInterval, error)
	RemoveInactivity(ctx context.Context, tenantID, specialistID, id uuid.UUID) error
	ListInactivity(ctx context.Context, tenantID, specialistID uuid.UUID) ([]InactivityInterval, error)

	// Per-tenant state catalog.
	GetState(ctx context.Context, tenantID uuid.UUID, name Status) (*StateDefinition, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Directory resolves the external identity collaborators: existence checks
// for the weak references an appointment carries, and the tenant's
// administrative actor used by auto-cancellation and bulk flows.
type Directory interface {
	PatientExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	SpecialistExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	SpecialtyExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)

	// AdminUser returns the tenant's administrative user id, or
	// ErrAdminNotFound.
	AdminUser(ctx context.Context, tenantID uuid.UUID) (uuid.UUID, error)
}
