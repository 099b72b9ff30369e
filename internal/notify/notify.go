// Package notify defines the outbound notification contract. Delivery
// transports (email, push) live behind the Notifier interface; failures are
// reported to the caller but are never allowed to fail a state transition.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinsched/appointment-engine/internal/appointment"
)

// Kind tags the notification variant instead of branching on string
// literals at call sites.
type Kind int

const (
	KindReservation Kind = iota
	KindReminder
	KindConfirmation
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindReservation:
		return "reservation"
	case KindReminder:
		return "reminder"
	case KindConfirmation:
		return "confirmation"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

type Notifier interface {
	Send(ctx context.Context, kind Kind, appt *appointment.Appointment) error
}

// CancellationSender adapts a Notifier to the appointment package's
// consumer-side CancellationNotifier contract.
type CancellationSender struct {
	N Notifier
}

func (s CancellationSender) SendCancellation(ctx context.Context, appt *appointment.Appointment) error {
	return s.N.Send(ctx, KindCancellation, appt)
}

// LogNotifier writes each would-be delivery to the log. It stands in for
// the real mail transport in development and worker-only deployments.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Send(_ context.Context, kind Kind, appt *appointment.Appointment) error {
	n.Log.Info().
		Str("kind", kind.String()).
		Str("appointment_id", appt.ID.String()).
		Str("tenant_id", appt.TenantID.String()).
		Str("patient_id", appt.PatientID.String()).
		Time("starts_at", appt.Start).
		Msg("notification dispatched")
	return nil
}
