package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/clinsched/appointment-engine/internal/appointment"
)

// Sent is one recorded delivery.
type Sent struct {
	Kind          Kind
	AppointmentID uuid.UUID
}

// Recorder captures deliveries in memory. Tests assert on it; Fail can be
// set to simulate a transport outage.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// Fail, when non-nil, is returned from every Send.
	Fail error
}

func (r *Recorder) Send(_ context.Context, kind Kind, appt *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, Sent{Kind: kind, AppointmentID: appt.ID})
	return nil
}

// All returns a copy of the recorded deliveries.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns how many deliveries of kind were recorded for the
// appointment.
func (r *Recorder) Count(kind Kind, appointmentID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind && s.AppointmentID == appointmentID {
			n++
		}
	}
	return n
}
