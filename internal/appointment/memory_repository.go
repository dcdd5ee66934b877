package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	date     string
	clock    string
}

// MemoryRepository is a Repository held in process memory. The active slot index
// mirrors the partial unique index of the Postgres schema.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	active       map[slotKey]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
		active:       make(map[slotKey]uuid.UUID),
	}
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = d
}

func keyOf(a *Appointment) slotKey {
	return slotKey{doctorID: a.DoctorID, date: a.Date, clock: a.Time}
}

// clone copies pointer fields so callers never alias stored state.
func clone(a Appointment) *Appointment {
	c := a
	if a.RescheduledFrom != nil {
		snap := *a.RescheduledFrom
		c.RescheduledFrom = &snap
	}
	return &c
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Doctor
	for _, d := range r.doctors {
		if d.Active && d.Specialization == specialization {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var matched []Appointment
	for _, a := range r.appointments {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		matched = append(matched, *clone(a))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date > matched[j].Date
		}
		if matched[i].Time != matched[j].Time {
			return matched[i].Time > matched[j].Time
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (r *MemoryRepository) FindActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[slotKey{doctorID: doctorID, date: date, clock: clock}]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return clone(r.appointments[id]), nil
}

func (r *MemoryRepository) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var times []string
	for k := range r.active {
		if k.doctorID == doctorID && k.date == date {
			times = append(times, k.clock)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertLocked(a); err != nil {
		return nil, err
	}
	return clone(r.appointments[a.ID]), nil
}

func (r *MemoryRepository) insertLocked(a *Appointment) error {
	if a.Status == StatusScheduled && a.Payment.Status != PaymentPaid {
		return fmt.Errorf("scheduled appointment %s requires a paid payment", a.ID)
	}
	if _, exists := r.appointments[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if a.Status == StatusScheduled {
		if _, taken := r.active[keyOf(a)]; taken {
			return ErrSlotTaken
		}
		r.active[keyOf(a)] = a.ID
	}
	stored := *clone(*a)
	stored.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = stored
	return nil
}

func (r *MemoryRepository) transitionLocked(id uuid.UUID, t Transition) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != t.From {
		return nil, fmt.Errorf("%w: now %s", ErrStaleStatus, a.Status)
	}

	at := t.At
	switch t.To {
	case StatusCancelled, StatusRescheduled:
		a.CancelledAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusMissed:
		a.NoShowMarkedAt = &at
	}
	if t.CancellationReason != "" {
		a.CancellationReason = t.CancellationReason
	}
	if t.CancelledBy != nil {
		a.CancelledBy = t.CancelledBy
	}
	if t.CancelledByRole != "" {
		a.CancelledByRole = t.CancelledByRole
	}
	if t.RescheduledToID != nil {
		a.RescheduledToID = t.RescheduledToID
	}
	if t.NoShowMarkedBy != nil {
		a.NoShowMarkedBy = t.NoShowMarkedBy
	}

	if a.Status == StatusScheduled && t.To != StatusScheduled {
		delete(r.active, keyOf(&a))
	}
	a.Status = t.To
	a.UpdatedAt = t.At
	r.appointments[id] = a
	return clone(a), nil
}

func (r *MemoryRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(id, t)
}

func (r *MemoryRepository) RescheduleAppointment(ctx context.Context, oldID uuid.UUID, t Transition, next *Appointment) (*Appointment, *Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	before, ok := r.appointments[oldID]
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}
	wasActive := before.Status == StatusScheduled

	old, err := r.transitionLocked(oldID, t)
	if err != nil {
		return nil, nil, err
	}
	if err := r.insertLocked(next); err != nil {
		// roll back the predecessor
		r.appointments[oldID] = before
		if wasActive {
			r.active[keyOf(&before)] = oldID
		}
		return nil, nil, err
	}
	return old, clone(r.appointments[next.ID]), nil
}
