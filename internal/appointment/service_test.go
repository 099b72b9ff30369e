package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/clinsched/appointment-engine/internal/redis"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

// cancelRecorder captures the cancellation notifications CancelMany emits.
type cancelRecorder struct {
	sent []uuid.UUID
	fail error
}

func (r *cancelRecorder) SendCancellation(_ context.Context, appt *Appointment) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, appt.ID)
	return nil
}

// busyLocker simulates a lock already held by a concurrent booking.
type busyLocker struct{}

func (busyLocker) WithBookingLock(context.Context, uuid.UUID, uuid.UUID, time.Time, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type serviceFixture struct {
	repo         *MemoryRepository
	svc          *Service
	notifier     *cancelRecorder
	cfg          tenantcfg.Static
	tenantID     uuid.UUID
	adminID      uuid.UUID
	patientID    uuid.UUID
	specialistID uuid.UUID
	specialtyID  uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		repo:         NewMemoryRepository(),
		notifier:     &cancelRecorder{},
		tenantID:     uuid.New(),
		adminID:      uuid.New(),
		patientID:    uuid.New(),
		specialistID: uuid.New(),
		specialtyID:  uuid.New(),
	}
	f.repo.AddPatient(f.tenantID, f.patientID)
	f.repo.AddSpecialist(f.tenantID, f.specialistID)
	f.repo.AddSpecialty(f.tenantID, f.specialtyID)
	f.repo.SetAdmin(f.tenantID, f.adminID)
	f.repo.SeedStates(f.tenantID)

	f.cfg = tenantcfg.Static{f.tenantID: {}}
	f.svc = NewService(f.repo, f.repo, f.cfg, redisclient.NoopLocker{}, f.notifier, zerolog.Nop())
	return f
}

func (f *serviceFixture) createParams(start time.Time) CreateParams {
	return CreateParams{
		TenantID:     f.tenantID,
		PatientID:    f.patientID,
		SpecialistID: f.specialistID,
		SpecialtyID:  f.specialtyID,
		Start:        start,
		Reason:       "checkup",
	}
}

func TestCreateDefaultsToPendingWithConfiguredDuration(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	appt, err := f.svc.Create(ctx, f.createParams(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if appt.Status != StatusPending {
		t.Errorf("status = %s, want %s", appt.Status, StatusPending)
	}
	if want := start.Add(45 * time.Minute); !appt.End.Equal(want) {
		t.Errorf("end = %s, want %s", appt.End, want)
	}
	if appt.DurationMinutes != 45 {
		t.Errorf("duration = %d, want 45", appt.DurationMinutes)
	}
	if appt.Reason == nil || *appt.Reason != "checkup" {
		t.Errorf("reason = %v, want checkup", appt.Reason)
	}
	if len(appt.ReminderMarks) != 0 {
		t.Errorf("new appointment has reminder marks: %v", appt.ReminderMarks)
	}
}

func TestCreateHonorsTenantDurationAndAutoConfirm(t *testing.T) {
	f := newServiceFixture(t)
	f.cfg[f.tenantID][tenantcfg.KeyAppointmentDuration] = "30"
	f.cfg[f.tenantID][tenantcfg.KeyAutoConfirm] = "1"
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	appt, err := f.svc.Create(ctx, f.createParams(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if appt.Status != StatusConfirmed {
		t.Errorf("status = %s, want %s", appt.Status, StatusConfirmed)
	}
	if want := start.Add(30 * time.Minute); !appt.End.Equal(want) {
		t.Errorf("end = %s, want %s", appt.End, want)
	}
}

func TestCreateRejectsUnknownReferences(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	p := f.createParams(start)
	p.PatientID = uuid.New()
	if _, err := f.svc.Create(ctx, p); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: got %v, want ErrPatientNotFound", err)
	}

	p = f.createParams(start)
	p.SpecialistID = uuid.New()
	if _, err := f.svc.Create(ctx, p); !errors.Is(err, ErrSpecialistNotFound) {
		t.Errorf("unknown specialist: got %v, want ErrSpecialistNotFound", err)
	}

	p = f.createParams(start)
	p.SpecialtyID = uuid.New()
	if _, err := f.svc.Create(ctx, p); !errors.Is(err, ErrSpecialtyNotFound) {
		t.Errorf("unknown specialty: got %v, want ErrSpecialtyNotFound", err)
	}
}

func TestCreateFailsWhenStateCatalogMissing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tenant2 := uuid.New()
	patient2, specialist2, specialty2 := uuid.New(), uuid.New(), uuid.New()
	f.repo.AddPatient(tenant2, patient2)
	f.repo.AddSpecialist(tenant2, specialist2)
	f.repo.AddSpecialty(tenant2, specialty2)
	f.cfg[tenant2] = map[string]string{}
	// No SeedStates for tenant2.

	_, err := f.svc.Create(ctx, CreateParams{
		TenantID:     tenant2,
		PatientID:    patient2,
		SpecialistID: specialist2,
		SpecialtyID:  specialty2,
		Start:        time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("got %v, want ErrStateNotFound", err)
	}
}

func TestCreateReportsSlotBeingBooked(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewService(f.repo, f.repo, f.cfg, busyLocker{}, f.notifier, zerolog.Nop())

	_, err := svc.Create(context.Background(), f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if !errors.Is(err, ErrSlotBeingBooked) {
		t.Fatalf("got %v, want ErrSlotBeingBooked", err)
	}
}

func TestConfirmOnlyFromPending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	confirmed, err := f.svc.Confirm(ctx, f.tenantID, appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want %s", confirmed.Status, StatusConfirmed)
	}

	if _, err := f.svc.Confirm(ctx, f.tenantID, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second confirm: got %v, want ErrInvalidState", err)
	}

	if _, err := f.svc.Confirm(ctx, f.tenantID, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("unknown id: got %v, want ErrAppointmentNotFound", err)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Cancel(ctx, f.tenantID, appt.ID, f.adminID, "   ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if vErr.Field != "reason" {
		t.Errorf("field = %q, want reason", vErr.Field)
	}
}

func TestCancelRecordsActorAndRejectsRepeat(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	canceled, err := f.svc.Cancel(ctx, f.tenantID, appt.ID, actor, "patient request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Errorf("status = %s, want %s", canceled.Status, StatusCanceled)
	}
	if canceled.CanceledBy == nil || *canceled.CanceledBy != actor {
		t.Errorf("canceled_by = %v, want %s", canceled.CanceledBy, actor)
	}
	if canceled.CancelReason == nil || *canceled.CancelReason != "patient request" {
		t.Errorf("cancel reason = %v, want patient request", canceled.CancelReason)
	}
	if canceled.AutoCanceledAt != nil {
		t.Errorf("manual cancel stamped auto_canceled_at: %v", canceled.AutoCanceledAt)
	}

	if _, err := f.svc.Cancel(ctx, f.tenantID, appt.ID, actor, "again"); !errors.Is(err, ErrAlreadyCanceled) {
		t.Errorf("second cancel: got %v, want ErrAlreadyCanceled", err)
	}
}

func TestCancelRejectsAttended(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Attend(ctx, f.tenantID, appt.ID); err != nil {
		t.Fatalf("attend: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, f.tenantID, appt.ID, f.adminID, "too late"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel attended: got %v, want ErrInvalidState", err)
	}
}

func TestAttendIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		attended, err := f.svc.Attend(ctx, f.tenantID, appt.ID)
		if err != nil {
			t.Fatalf("attend #%d: %v", i+1, err)
		}
		if attended.Status != StatusAttended {
			t.Errorf("attend #%d: status = %s, want %s", i+1, attended.Status, StatusAttended)
		}
	}
}

func TestAttendRejectsCanceled(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.tenantID, appt.ID, f.adminID, "patient request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Attend(ctx, f.tenantID, appt.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("attend canceled: got %v, want ErrInvalidState", err)
	}

	// Canceled is terminal: the record must be untouched.
	reloaded, err := f.repo.GetAppointment(ctx, f.tenantID, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusCanceled {
		t.Errorf("status = %s, want %s", reloaded.Status, StatusCanceled)
	}
}

func TestCancelManySkipsTerminalAndDefaultsToAdmin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		// Spread across specialists and patients so the creations do
		// not trip the same-day rule.
		patient, specialist := uuid.New(), uuid.New()
		f.repo.AddPatient(f.tenantID, patient)
		f.repo.AddSpecialist(f.tenantID, specialist)
		p := f.createParams(day.Add(time.Duration(10+i) * time.Hour))
		p.PatientID = patient
		p.SpecialistID = specialist
		appt, err := f.svc.Create(ctx, p)
		if err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
		ids = append(ids, appt.ID)
	}

	// One is already canceled; it must be skipped silently.
	if _, err := f.svc.Cancel(ctx, f.tenantID, ids[0], f.adminID, "pre-canceled"); err != nil {
		t.Fatalf("pre-cancel: %v", err)
	}
	f.notifier.sent = nil

	changed, err := f.svc.CancelMany(ctx, f.tenantID, append(ids, uuid.New()), uuid.Nil, "closed for the day")
	if err != nil {
		t.Fatalf("cancel many: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}
	if len(f.notifier.sent) != 2 {
		t.Errorf("cancellation notifications = %d, want 2", len(f.notifier.sent))
	}

	for _, id := range ids[1:] {
		appt, err := f.repo.GetAppointment(ctx, f.tenantID, id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if appt.Status != StatusCanceled {
			t.Errorf("appointment %s status = %s, want %s", id, appt.Status, StatusCanceled)
		}
		if appt.CanceledBy == nil || *appt.CanceledBy != f.adminID {
			t.Errorf("appointment %s canceled_by = %v, want admin %s", id, appt.CanceledBy, f.adminID)
		}
	}
}

func TestCancelManyRequiresReason(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CancelMany(context.Background(), f.tenantID, []uuid.UUID{uuid.New()}, f.adminID, "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestRegisterInactivityReportsWithoutCanceling(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := f.svc.RegisterInactivity(ctx, f.tenantID, f.specialistID, f.adminID,
		time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC),
		"conference", false)
	if err != nil {
		t.Fatalf("register inactivity: %v", err)
	}

	if result.Found != 1 || result.Canceled != 0 {
		t.Errorf("found=%d canceled=%d, want 1/0", result.Found, result.Canceled)
	}

	reloaded, err := f.repo.GetAppointment(ctx, f.tenantID, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusPending {
		t.Errorf("status = %s, want %s", reloaded.Status, StatusPending)
	}
}

func TestRegisterInactivityCancelsOverlapping(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := f.svc.RegisterInactivity(ctx, f.tenantID, f.specialistID, f.adminID,
		time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC),
		"conference", true)
	if err != nil {
		t.Fatalf("register inactivity: %v", err)
	}

	if result.Found != 1 || result.Canceled != 1 {
		t.Errorf("found=%d canceled=%d, want 1/1", result.Found, result.Canceled)
	}

	reloaded, err := f.repo.GetAppointment(ctx, f.tenantID, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusCanceled {
		t.Errorf("status = %s, want %s", reloaded.Status, StatusCanceled)
	}
	if reloaded.CancelReason == nil || *reloaded.CancelReason != "conference" {
		t.Errorf("cancel reason = %v, want conference", reloaded.CancelReason)
	}

	// Booking inside the declared interval is now rejected.
	otherPatient := uuid.New()
	f.repo.AddPatient(f.tenantID, otherPatient)
	p := f.createParams(time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC))
	p.PatientID = otherPatient
	_, err = f.svc.Create(ctx, p)
	var unavailable *SpecialistUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("booking during inactivity: got %v, want SpecialistUnavailableError", err)
	}
}

func TestRegisterInactivityValidatesInterval(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	_, err := f.svc.RegisterInactivity(ctx, f.tenantID, f.specialistID, f.adminID, at, at, "x", false)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("empty interval: got %v, want ValidationError", err)
	}

	_, err = f.svc.RegisterInactivity(ctx, f.tenantID, f.specialistID, f.adminID, at, at.Add(time.Hour), "  ", false)
	if !errors.As(err, &vErr) {
		t.Fatalf("blank reason: got %v, want ValidationError", err)
	}

	_, err = f.svc.RegisterInactivity(ctx, f.tenantID, uuid.New(), f.adminID, at, at.Add(time.Hour), "x", false)
	if !errors.Is(err, ErrSpecialistNotFound) {
		t.Fatalf("unknown specialist: got %v, want ErrSpecialistNotFound", err)
	}
}

func TestCreateEmitsEventLog(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, f.createParams(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, f.tenantID, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	var types []string
	for _, ev := range f.repo.Events() {
		if ev.AppointmentID != nil && *ev.AppointmentID == appt.ID {
			types = append(types, ev.EventType)
		}
	}
	want := []string{EventAppointmentCreated, EventAppointmentConfirmed}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
