package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinsched/appointment-engine/internal/clock"
	"github.com/clinsched/appointment-engine/internal/tenantcfg"
)

// LegalityChecker decides whether a proposed slot may be booked. It only
// reads; callers persist after acceptance. Checks run in a fixed order and
// the first failure wins.
type LegalityChecker struct {
	repo    Repository
	tenants tenantcfg.Reader
}

func NewLegalityChecker(repo Repository, tenants tenantcfg.Reader) *LegalityChecker {
	return &LegalityChecker{repo: repo, tenants: tenants}
}

// SlotRequest is the candidate (specialist, start, end) interval, plus the
// patient for the same-day duplicate check. ExcludeID, when non-nil, leaves
// one appointment out of the conflict queries so an edited appointment does
// not collide with itself.
type SlotRequest struct {
	TenantID     uuid.UUID
	PatientID    uuid.UUID
	SpecialistID uuid.UUID
	Start        time.Time
	End          time.Time
	ExcludeID    uuid.UUID
}

// Check returns nil when the slot is legal, or one of
// SpecialistUnavailableError, SlotTakenError, DuplicateSameDayError.
func (c *LegalityChecker) Check(ctx context.Context, req SlotRequest) error {
	// 1. Specialist inactivity.
	intervals, err := c.repo.ListInactivity(ctx, req.TenantID, req.SpecialistID)
	if err != nil {
		return fmt.Errorf("list inactivity: %w", err)
	}
	for _, iv := range intervals {
		if clock.Overlap(req.Start, req.End, iv.From, iv.To) {
			return &SpecialistUnavailableError{Interval: iv}
		}
	}

	// 2. Double booking.
	conflicts, err := c.repo.FindOverlapping(ctx, req.TenantID, req.SpecialistID, req.Start, req.End, req.ExcludeID)
	if err != nil {
		return fmt.Errorf("find overlapping: %w", err)
	}
	if len(conflicts) > 0 {
		first := conflicts[0]
		return &SlotTakenError{
			ExistingID:    first.ID.String(),
			ExistingStart: first.Start,
			ExistingEnd:   first.End,
		}
	}

	// 3. Same-day duplicate, on the tenant-local calendar day.
	loc, err := tenantcfg.Location(ctx, c.tenants, req.TenantID)
	if err != nil {
		return fmt.Errorf("tenant timezone: %w", err)
	}
	dayStart, dayEnd := clock.DayBounds(req.Start, loc)
	sameDay, err := c.repo.FindPatientSpecialistBetween(ctx, req.TenantID, req.PatientID, req.SpecialistID, dayStart, dayEnd, req.ExcludeID)
	if err != nil {
		return fmt.Errorf("find same-day: %w", err)
	}
	if len(sameDay) > 0 {
		first := sameDay[0]
		return &DuplicateSameDayError{
			ExistingID:    first.ID.String(),
			ExistingStart: first.Start,
		}
	}

	return nil
}
