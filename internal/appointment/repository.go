package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error)

	// For availability checks
	FindActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error)
	ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)

	// CreateAppointment inserts a scheduled record. ErrSlotTaken when the doctor already
	// holds a scheduled appointment at the same date/time.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// TransitionAppointment applies t only if the record is still in t.From.
	// ErrAppointmentNotFound when the id is unknown, ErrStaleStatus when the status moved.
	TransitionAppointment(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error)

	// RescheduleAppointment retires oldID and inserts next in a single unit of work.
	RescheduleAppointment(ctx context.Context, oldID uuid.UUID, t Transition, next *Appointment) (old, created *Appointment, err error)
}
