package appointment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidState    = errors.New("operation not allowed in current state")
	ErrAlreadyCanceled = errors.New("appointment is already canceled")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
)

// ValidationError marks a missing or malformed required field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// SpecialistUnavailableError rejects a slot that collides with a declared
// inactivity interval. It carries the interval so callers can tell the user
// exactly which window blocked the booking, and why.
type SpecialistUnavailableError struct {
	Interval InactivityInterval
}

func (e *SpecialistUnavailableError) Error() string {
	return fmt.Sprintf("specialist unavailable from %s to %s: %s",
		e.Interval.From.Format(time.RFC3339), e.Interval.To.Format(time.RFC3339), e.Interval.Reason)
}

// SlotTakenError rejects a slot that overlaps an existing non-canceled
// appointment of the same specialist.
type SlotTakenError struct {
	ExistingID    string
	ExistingStart time.Time
	ExistingEnd   time.Time
}

func (e *SlotTakenError) Error() string {
	return fmt.Sprintf("slot overlaps existing appointment from %s to %s",
		e.ExistingStart.Format(time.RFC3339), e.ExistingEnd.Format(time.RFC3339))
}

// DuplicateSameDayError rejects a second appointment for the same patient
// and specialist on the same tenant-local calendar day.
type DuplicateSameDayError struct {
	ExistingID    string
	ExistingStart time.Time
}

func (e *DuplicateSameDayError) Error() string {
	return fmt.Sprintf("patient already has an appointment with this specialist that day (starting %s)",
		e.ExistingStart.Format(time.RFC3339))
}
