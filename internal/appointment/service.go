package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/clock"
	redisclient "github.com/clinsched/appointment-engine/internal/redis"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

const (
	EventAppointmentCreated      = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed    = "APPOINTMENT_CONFIRMED"
	EventAppointmentCanceled     = "APPOINTMENT_CANCELED"
	EventAppointmentAttended     = "APPOINTMENT_ATTENDED"
	EventAppointmentAutoCanceled = "APPOINTMENT_AUTO_CANCELED"
	EventReminderSent            = "REMINDER_SENT"
)

// CancellationNotifier is the slice of the notification transport the
// bulk-cancel flow needs. Failures are logged, never propagated.
type CancellationNotifier interface {
	SendCancellation(ctx context.Context, appt *Appointment) error
}

// Service owns the appointment lifecycle: slot-checked creation and the
// confirm/cancel/attend transitions, plus the bulk cancellation used when a
// specialist declares new inactivity.
type Service struct {
	repo     Repository
	dir      Directory
	tenants  tenantcfg.Reader
	checker  *LegalityChecker
	locker   redisclient.Locker
	notifier CancellationNotifier
	log      zerolog.Logger
}

func NewService(repo Repository, dir Directory, tenants tenantcfg.Reader, locker redisclient.Locker, notifier CancellationNotifier, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		tenants:  tenants,
		checker:  NewLegalityChecker(repo, tenants),
		locker:   locker,
		notifier: notifier,
		log:      log,
	}
}

// Checker exposes the service's legality checker for re-validation flows.
func (s *Service) Checker() *LegalityChecker {
	return s.checker
}

type CreateParams struct {
	TenantID     uuid.UUID
	PatientID    uuid.UUID
	SpecialistID uuid.UUID
	SpecialtyID  uuid.UUID
	Start        time.Time
	Reason       string
}

// Create books a new appointment. The end instant is derived from the
// tenant's configured duration; the legality check and the insert run under
// a per-slot booking lock so concurrent requests for the same specialist
// and start cannot both pass the check. Notifications are the caller's
// responsibility.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	if ok, err := s.dir.PatientExists(ctx, p.TenantID, p.PatientID); err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	} else if !ok {
		return nil, ErrPatientNotFound
	}
	if ok, err := s.dir.SpecialistExists(ctx, p.TenantID, p.SpecialistID); err != nil {
		return nil, fmt.Errorf("check specialist: %w", err)
	} else if !ok {
		return nil, ErrSpecialistNotFound
	}
	if ok, err := s.dir.SpecialtyExists(ctx, p.TenantID, p.SpecialtyID); err != nil {
		return nil, fmt.Errorf("check specialty: %w", err)
	} else if !ok {
		return nil, ErrSpecialtyNotFound
	}

	duration, err := tenantcfg.AppointmentDuration(ctx, s.tenants, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("appointment duration: %w", err)
	}

	start := p.Start.UTC()
	end := start.Add(duration)

	autoConfirm, err := tenantcfg.AutoConfirm(ctx, s.tenants, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("auto-confirm config: %w", err)
	}
	initial := StatusPending
	if autoConfirm {
		initial = StatusConfirmed
	}
	if _, err := s.repo.GetState(ctx, p.TenantID, initial); err != nil {
		return nil, fmt.Errorf("resolve state %s: %w", initial, err)
	}

	var created *Appointment

	err = s.locker.WithBookingLock(ctx, p.TenantID, p.SpecialistID, start, func(lockCtx context.Context) error {
		if err := s.checker.Check(lockCtx, SlotRequest{
			TenantID:     p.TenantID,
			PatientID:    p.PatientID,
			SpecialistID: p.SpecialistID,
			Start:        start,
			End:          end,
		}); err != nil {
			return err
		}

		appt := &Appointment{
			ID:              uuid.New(),
			TenantID:        p.TenantID,
			PatientID:       p.PatientID,
			SpecialistID:    p.SpecialistID,
			SpecialtyID:     p.SpecialtyID,
			Start:           start,
			End:             end,
			DurationMinutes: int(duration / time.Minute),
			Status:          initial,
		}
		if reason := strings.TrimSpace(p.Reason); reason != "" {
			appt.Reason = &reason
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		s.logEvent(lockCtx, created.TenantID, created.ID, EventAppointmentCreated, map[string]any{
			"specialist_id": p.SpecialistID.String(),
			"patient_id":    p.PatientID.String(),
			"starts_at":     start,
			"ends_at":       end,
			"status":        string(initial),
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Confirm moves a pending appointment to confirmed. Any other current
// state is rejected.
func (s *Service) Confirm(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidState
	}

	updated, err := s.repo.UpdateStatus(ctx, tenantID, id, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The row existed a moment ago: the status moved underneath us.
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, tenantID, id, EventAppointmentConfirmed, map[string]any{})

	return updated, nil
}

// Cancel records the canceling actor and reason and moves the appointment
// to canceled. A second cancel fails with ErrAlreadyCanceled; canceling an
// attended appointment is rejected.
func (s *Service) Cancel(ctx context.Context, tenantID, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Msg: "cancellation reason is required"}
	}

	appt, err := s.repo.GetAppointment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.CanceledBy != nil || appt.Status == StatusCanceled {
		return nil, ErrAlreadyCanceled
	}
	if appt.Status == StatusAttended {
		return nil, ErrInvalidState
	}

	updated, err := s.repo.MarkCanceled(ctx, tenantID, id, actorID, reason, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, tenantID, id, EventAppointmentCanceled, map[string]any{
		"canceled_by": actorID.String(),
		"reason":      reason,
	})

	return updated, nil
}

// Attend marks the appointment as attended. Repeated calls keep it
// attended; the operation is idempotent by construction. Canceled is
// terminal, so attending a canceled appointment is rejected.
func (s *Service) Attend(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return nil, ErrInvalidState
	}

	updated, err := s.repo.MarkAttended(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("attend appointment: %w", err)
	}

	s.logEvent(ctx, tenantID, id, EventAppointmentAttended, map[string]any{})

	return updated, nil
}

// CancelMany cancels a batch of appointments with one shared reason,
// emitting a compensating cancellation notification per changed
// appointment. Entries already in a terminal state are skipped silently;
// the returned count covers only appointments actually changed. When
// actorID is nil the tenant's administrative user is used.
func (s *Service) CancelMany(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, actorID uuid.UUID, reason string) (int, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, &ValidationError{Field: "reason", Msg: "cancellation reason is required"}
	}

	if actorID == uuid.Nil {
		admin, err := s.dir.AdminUser(ctx, tenantID)
		if err != nil {
			return 0, fmt.Errorf("resolve admin actor: %w", err)
		}
		actorID = admin
	}

	changed := 0
	for _, id := range ids {
		appt, err := s.repo.GetAppointment(ctx, tenantID, id)
		if err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", id.String()).
				Str("tenant_id", tenantID.String()).
				Msg("bulk cancel: load failed, skipping")
			continue
		}
		if appt.Status.Terminal() {
			continue
		}

		updated, err := s.repo.MarkCanceled(ctx, tenantID, id, actorID, reason, nil)
		if err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", id.String()).
				Str("tenant_id", tenantID.String()).
				Msg("bulk cancel: cancel failed, skipping")
			continue
		}
		changed++

		s.logEvent(ctx, tenantID, id, EventAppointmentCanceled, map[string]any{
			"canceled_by": actorID.String(),
			"reason":      reason,
			"bulk":        true,
		})

		if err := s.notifier.SendCancellation(ctx, updated); err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", id.String()).
				Msg("bulk cancel: cancellation notification failed")
		}
	}

	return changed, nil
}

// InactivityResult reports what an inactivity registration touched.
type InactivityResult struct {
	Interval *InactivityInterval
	Found    int
	Canceled int
}

// RegisterInactivity stores a new inactivity interval for the specialist
// and reports the non-canceled appointments overlapping it. When
// cancelOverlapping is set those appointments are bulk-canceled with the
// interval's reason, keeping the calendar consistent with the declaration.
func (s *Service) RegisterInactivity(ctx context.Context, tenantID, specialistID, actorID uuid.UUID, from, to time.Time, reason string, cancelOverlapping bool) (*InactivityResult, error) {
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return nil, &ValidationError{Field: "to", Msg: "interval end must be after its start"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Msg: "inactivity reason is required"}
	}

	if ok, err := s.dir.SpecialistExists(ctx, tenantID, specialistID); err != nil {
		return nil, fmt.Errorf("check specialist: %w", err)
	} else if !ok {
		return nil, ErrSpecialistNotFound
	}

	interval, err := s.repo.AddInactivity(ctx, &InactivityInterval{
		ID:           uuid.New(),
		TenantID:     tenantID,
		SpecialistID: specialistID,
		From:         from,
		To:           to,
		Reason:       strings.TrimSpace(reason),
	})
	if err != nil {
		return nil, fmt.Errorf("add inactivity: %w", err)
	}

	overlapping, err := s.repo.FindOverlapping(ctx, tenantID, specialistID, from, to, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("find overlapping: %w", err)
	}

	result := &InactivityResult{Interval: interval, Found: len(overlapping)}
	if !cancelOverlapping || len(overlapping) == 0 {
		return result, nil
	}

	ids := make([]uuid.UUID, 0, len(overlapping))
	for _, appt := range overlapping {
		ids = append(ids, appt.ID)
	}
	canceled, err := s.CancelMany(ctx, tenantID, ids, actorID, interval.Reason)
	if err != nil {
		return nil, fmt.Errorf("cancel overlapping: %w", err)
	}
	result.Canceled = canceled

	return result, nil
}

// RemoveInactivity deletes a declared interval.
func (s *Service) RemoveInactivity(ctx context.Context, tenantID, specialistID, id uuid.UUID) error {
	return s.repo.RemoveInactivity(ctx, tenantID, specialistID, id)
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, tenantID, id)
}

func (s *Service) ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByPatient(ctx, tenantID, patientID)
}

func (s *Service) ListBySpecialist(ctx context.Context, tenantID, specialistID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListBySpecialist(ctx, tenantID, specialistID)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

func (s *Service) logEvent(ctx context.Context, tenantID, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("marshal event payload failed")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		TenantID:      tenantID,
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     clock.NowUTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log failed")
	}
}
