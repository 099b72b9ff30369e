package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

func newLegalityFixture(t *testing.T) (*MemoryRepository, *LegalityChecker, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()

	repo := NewMemoryRepository()
	tenantID := uuid.New()
	patientID := uuid.New()
	specialistID := uuid.New()

	repo.AddPatient(tenantID, patientID)
	repo.AddSpecialist(tenantID, specialistID)
	repo.SeedStates(tenantID)

	cfg := tenantcfg.Static{tenantID: {}}
	checker := NewLegalityChecker(repo, cfg)

	return repo, checker, tenantID, patientID, specialistID
}

func mustCreate(t *testing.T, repo *MemoryRepository, appt *Appointment) *Appointment {
	t.Helper()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if appt.Status == "" {
		appt.Status = StatusPending
	}
	created, err := repo.CreateAppointment(context.Background(), appt)
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return created
}

func TestCheckRejectsInactivityOverlap(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	_, err := repo.AddInactivity(ctx, &InactivityInterval{
		ID:           uuid.New(),
		TenantID:     tenantID,
		SpecialistID: specialistID,
		From:         time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		To:           time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Reason:       "vacation",
	})
	if err != nil {
		t.Fatalf("add inactivity: %v", err)
	}

	err = checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})

	var unavailable *SpecialistUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected SpecialistUnavailableError, got %v", err)
	}
	if unavailable.Interval.Reason != "vacation" {
		t.Errorf("interval reason = %q, want vacation", unavailable.Interval.Reason)
	}
}

func TestCheckRejectsOverlappingSlot(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	existing := mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})

	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 11, 15, 0, 0, time.UTC),
	})

	var taken *SlotTakenError
	if !errors.As(err, &taken) {
		t.Fatalf("expected SlotTakenError, got %v", err)
	}
	if taken.ExistingID != existing.ID.String() {
		t.Errorf("existing id = %s, want %s", taken.ExistingID, existing.ID)
	}
}

func TestUniquenessGuardCarriesExistingSlot(t *testing.T) {
	repo, _, tenantID, _, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	existing := mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})

	// Insert-time guard: losing the race yields the same detail as the
	// read-time overlap check.
	_, err := repo.CreateAppointment(ctx, &Appointment{
		ID:           uuid.New(),
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		SpecialistID: specialistID,
		Start:        existing.Start,
		End:          existing.End,
		Status:       StatusPending,
	})

	var taken *SlotTakenError
	if !errors.As(err, &taken) {
		t.Fatalf("expected SlotTakenError, got %v", err)
	}
	if taken.ExistingID != existing.ID.String() {
		t.Errorf("existing id = %q, want %s", taken.ExistingID, existing.ID)
	}
	if !taken.ExistingStart.Equal(existing.Start) || !taken.ExistingEnd.Equal(existing.End) {
		t.Errorf("existing span = [%s, %s), want [%s, %s)",
			taken.ExistingStart, taken.ExistingEnd, existing.Start, existing.End)
	}
}

func TestCheckAcceptsBackToBackSlots(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})

	// Half-open intervals: a slot starting exactly at the previous end is
	// legal.
	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 11, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("back-to-back slot rejected: %v", err)
	}
}

func TestCheckIgnoresCanceledConflicts(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    uuid.New(),
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
		Status:       StatusCanceled,
	})

	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("canceled appointment should not block the slot: %v", err)
	}
}

func TestCheckRejectsSameLocalDayDuplicate(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	// Default timezone is America/La_Paz (UTC-4). 13:00Z is 09:00 local.
	existing := mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 13, 45, 0, 0, time.UTC),
	})

	// 20:00Z is 16:00 local the same day. No time overlap, but still a
	// duplicate on the office calendar.
	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 20, 45, 0, 0, time.UTC),
	})

	var dup *DuplicateSameDayError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSameDayError, got %v", err)
	}
	if dup.ExistingID != existing.ID.String() {
		t.Errorf("existing id = %s, want %s", dup.ExistingID, existing.ID)
	}
}

func TestCheckSameDayUsesLocalDayNotUTCDay(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	// 03:30Z on Sep 2 is 23:30 local on Sep 1; 04:30Z is 00:30 local on
	// Sep 2. Same UTC day, different office days, so no duplicate.
	mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 2, 3, 30, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 2, 4, 15, 0, 0, time.UTC),
	})

	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 2, 4, 30, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 2, 5, 15, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("different local days flagged as duplicate: %v", err)
	}
}

func TestCheckSameDayScopedToTenant(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	// Same patient and specialist ids under a different tenant must not
	// count against this tenant's duplicate check.
	otherTenant := uuid.New()
	repo.SeedStates(otherTenant)
	mustCreate(t, repo, &Appointment{
		TenantID:     otherTenant,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 13, 45, 0, 0, time.UTC),
	})

	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 20, 45, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("foreign-tenant appointment blocked the slot: %v", err)
	}
}

func TestCheckExcludeIDSkipsSelf(t *testing.T) {
	repo, checker, tenantID, patientID, specialistID := newLegalityFixture(t)
	ctx := context.Background()

	existing := mustCreate(t, repo, &Appointment{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	})

	// Re-validating the appointment's own slot must not collide with
	// itself, neither on overlap nor on the same-day rule.
	err := checker.Check(ctx, SlotRequest{
		TenantID:     tenantID,
		PatientID:    patientID,
		SpecialistID: specialistID,
		Start:        existing.Start,
		End:          existing.End,
		ExcludeID:    existing.ID,
	})
	if err != nil {
		t.Fatalf("appointment collided with itself: %v", err)
	}
}
