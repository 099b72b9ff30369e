package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsched/appointment-engine/internal/clock"
)

// MemoryRepository is an in-memory Repository and Directory used by tests
// and local tooling. Semantics mirror PgRepository, including the partial
// uniqueness guard over (tenant, specialist, start) for non-canceled rows.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	inactivity   map[uuid.UUID]*InactivityInterval
	states       map[uuid.UUID]map[Status]StateDefinition
	patients     map[uuid.UUID]uuid.UUID // patient id -> tenant
	specialists  map[uuid.UUID]uuid.UUID
	specialties  map[uuid.UUID]uuid.UUID
	admins       map[uuid.UUID]uuid.UUID // tenant -> admin user
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		inactivity:   make(map[uuid.UUID]*InactivityInterval),
		states:       make(map[uuid.UUID]map[Status]StateDefinition),
		patients:     make(map[uuid.UUID]uuid.UUID),
		specialists:  make(map[uuid.UUID]uuid.UUID),
		specialties:  make(map[uuid.UUID]uuid.UUID),
		admins:       make(map[uuid.UUID]uuid.UUID),
	}
}

// Seeding helpers.

func (m *MemoryRepository) AddPatient(tenantID, id uuid.UUID)    { m.addRef(m.patients, tenantID, id) }
func (m *MemoryRepository) AddSpecialist(tenantID, id uuid.UUID) { m.addRef(m.specialists, tenantID, id) }
func (m *MemoryRepository) AddSpecialty(tenantID, id uuid.UUID)  { m.addRef(m.specialties, tenantID, id) }

func (m *MemoryRepository) addRef(refs map[uuid.UUID]uuid.UUID, tenantID, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs[id] = tenantID
}

func (m *MemoryRepository) SetAdmin(tenantID, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[tenantID] = userID
}

// SeedStates provisions the standard state catalog for a tenant.
func (m *MemoryRepository) SeedStates(tenantID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	catalog := make(map[Status]StateDefinition)
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusCanceled, StatusAttended} {
		catalog[s] = StateDefinition{ID: uuid.New(), TenantID: tenantID, Name: s}
	}
	m.states[tenantID] = catalog
}

// Events returns a copy of the journal.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

// Repository implementation.

func (m *MemoryRepository) GetAppointment(_ context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	appt, ok := m.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	cp := cloneAppointment(appt)
	return &cp, nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appointments {
		if existing.TenantID == appt.TenantID &&
			existing.SpecialistID == appt.SpecialistID &&
			existing.Status != StatusCanceled &&
			existing.Start.Equal(appt.Start) {
			return nil, &SlotTakenError{
				ExistingID:    existing.ID.String(),
				ExistingStart: existing.Start,
				ExistingEnd:   existing.End,
			}
		}
	}

	cp := cloneAppointment(appt)
	now := clock.NowUTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.ReminderMarks == nil {
		cp.ReminderMarks = []int{}
	}
	m.appointments[cp.ID] = &cp

	out := cloneAppointment(&cp)
	return &out, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok || appt.TenantID != tenantID || appt.Status != from {
		return nil, ErrAppointmentNotFound
	}
	appt.Status = to
	appt.UpdatedAt = clock.NowUTC()
	cp := cloneAppointment(appt)
	return &cp, nil
}

func (m *MemoryRepository) MarkCanceled(_ context.Context, tenantID, id, actorID uuid.UUID, reason string, autoCanceledAt *time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	actor := actorID
	r := reason
	appt.Status = StatusCanceled
	appt.CanceledBy = &actor
	appt.CancelReason = &r
	appt.AutoCanceledAt = autoCanceledAt
	appt.UpdatedAt = clock.NowUTC()
	cp := cloneAppointment(appt)
	return &cp, nil
}

func (m *MemoryRepository) MarkAttended(_ context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	appt.Status = StatusAttended
	appt.UpdatedAt = clock.NowUTC()
	cp := cloneAppointment(appt)
	return &cp, nil
}

func (m *MemoryRepository) AppendReminderMark(_ context.Context, tenantID, id uuid.UUID, mark int, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return false, ErrAppointmentNotFound
	}
	if appt.HasReminderMark(mark) {
		return false, nil
	}
	appt.ReminderMarks = append(appt.ReminderMarks, mark)
	at := sentAt
	appt.LastReminderAt = &at
	appt.UpdatedAt = clock.NowUTC()
	return true, nil
}

func (m *MemoryRepository) FindOverlapping(_ context.Context, tenantID, specialistID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appointments {
		if appt.TenantID != tenantID || appt.SpecialistID != specialistID {
			continue
		}
		if appt.Status == StatusCanceled || appt.ID == excludeID {
			continue
		}
		if clock.Overlap(start, end, appt.Start, appt.End) {
			result = append(result, cloneAppointment(appt))
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemoryRepository) FindPatientSpecialistBetween(_ context.Context, tenantID, patientID, specialistID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appointments {
		if appt.TenantID != tenantID || appt.PatientID != patientID || appt.SpecialistID != specialistID {
			continue
		}
		if appt.Status == StatusCanceled || appt.ID == excludeID {
			continue
		}
		if !appt.Start.Before(from) && appt.Start.Before(to) {
			result = append(result, cloneAppointment(appt))
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemoryRepository) FindPendingStartingBetween(_ context.Context, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appointments {
		if appt.Status != StatusPending {
			continue
		}
		if !appt.Start.Before(from) && !appt.Start.After(to) {
			result = append(result, cloneAppointment(appt))
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, tenantID, patientID uuid.UUID) ([]Appointment, error) {
	return m.list(func(a *Appointment) bool {
		return a.TenantID == tenantID && a.PatientID == patientID
	}), nil
}

func (m *MemoryRepository) ListBySpecialist(_ context.Context, tenantID, specialistID uuid.UUID) ([]Appointment, error) {
	return m.list(func(a *Appointment) bool {
		return a.TenantID == tenantID && a.SpecialistID == specialistID
	}), nil
}

func (m *MemoryRepository) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]Appointment, error) {
	return m.list(func(a *Appointment) bool {
		return a.TenantID == tenantID
	}), nil
}

func (m *MemoryRepository) list(match func(*Appointment) bool) []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Appointment
	for _, appt := range m.appointments {
		if match(appt) {
			result = append(result, cloneAppointment(appt))
		}
	}
	sortByStart(result)
	return result
}

func (m *MemoryRepository) AddInactivity(_ context.Context, interval *InactivityInterval) (*InactivityInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *interval
	cp.CreatedAt = clock.NowUTC()
	m.inactivity[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRepository) RemoveInactivity(_ context.Context, tenantID, specialistID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.inactivity[id]
	if !ok || iv.TenantID != tenantID || iv.SpecialistID != specialistID {
		return ErrInactivityNotFound
	}
	delete(m.inactivity, id)
	return nil
}

func (m *MemoryRepository) ListInactivity(_ context.Context, tenantID, specialistID uuid.UUID) ([]InactivityInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []InactivityInterval
	for _, iv := range m.inactivity {
		if iv.TenantID == tenantID && iv.SpecialistID == specialistID {
			result = append(result, *iv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].From.Before(result[j].From) })
	return result, nil
}

func (m *MemoryRepository) GetState(_ context.Context, tenantID uuid.UUID, name Status) (*StateDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	catalog, ok := m.states[tenantID]
	if !ok {
		return nil, ErrStateNotFound
	}
	def, ok := catalog[name]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &def, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Directory implementation.

func (m *MemoryRepository) PatientExists(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	return m.refExists(m.patients, tenantID, id), nil
}

func (m *MemoryRepository) SpecialistExists(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	return m.refExists(m.specialists, tenantID, id), nil
}

func (m *MemoryRepository) SpecialtyExists(_ context.Context, tenantID, id uuid.UUID) (bool, error) {
	return m.refExists(m.specialties, tenantID, id), nil
}

func (m *MemoryRepository) AdminUser(_ context.Context, tenantID uuid.UUID) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	admin, ok := m.admins[tenantID]
	if !ok {
		return uuid.Nil, ErrAdminNotFound
	}
	return admin, nil
}

func (m *MemoryRepository) refExists(refs map[uuid.UUID]uuid.UUID, tenantID, id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenant, ok := refs[id]
	return ok && tenant == tenantID
}

func cloneAppointment(a *Appointment) Appointment {
	cp := *a
	cp.ReminderMarks = append([]int(nil), a.ReminderMarks...)
	if a.Reason != nil {
		r := *a.Reason
		cp.Reason = &r
	}
	if a.CancelReason != nil {
		r := *a.CancelReason
		cp.CancelReason = &r
	}
	if a.CanceledBy != nil {
		id := *a.CanceledBy
		cp.CanceledBy = &id
	}
	if a.LastReminderAt != nil {
		t := *a.LastReminderAt
		cp.LastReminderAt = &t
	}
	if a.AutoCanceledAt != nil {
		t := *a.AutoCanceledAt
		cp.AutoCanceledAt = &t
	}
	return cp
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].Start.Before(appts[j].Start) })
}
