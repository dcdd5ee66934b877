package appointment

import (
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultAppointmentType = "consultation"

	// Set on the predecessor of a reschedule so it can be told apart from a real cancellation.
	RescheduledReason = "Rescheduled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the verified caller identity supplied by the auth layer.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Email          *string
	Phone          *string
	Specialization string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DoctorSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

type Payment struct {
	Status        PaymentStatus
	Method        string
	TransactionID string
	PaidAt        *time.Time
}

// RescheduleSnapshot records where a rescheduled appointment came from.
type RescheduleSnapshot struct {
	OriginalDate      string    `json:"originalDate"`
	OriginalTime      string    `json:"originalTime"`
	RescheduledBy     uuid.UUID `json:"rescheduledBy"`
	RescheduledByRole Role      `json:"rescheduledByRole"`
	RescheduledAt     time.Time `json:"rescheduledAt"`
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID

	// Copied at booking time; later profile edits do not rewrite history.
	DoctorName           string
	DoctorEmail          *string
	DoctorSpecialization string
	PatientName          string
	PatientEmail         *string
	PatientPhone         *string

	Date  string
	Time  string
	Type  string
	Notes string

	Status  Status
	Payment Payment

	OriginalAppointmentID *uuid.UUID
	RescheduledToID       *uuid.UUID
	RescheduledFrom       *RescheduleSnapshot

	CancellationReason string
	CancelledAt        *time.Time
	CancelledBy        *uuid.UUID
	CancelledByRole    Role
	CompletedAt        *time.Time
	NoShowMarkedAt     *time.Time
	NoShowMarkedBy     *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentRef is the minimal view of an appointment occupying a slot.
type AppointmentRef struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	PatientID uuid.UUID `json:"patientId"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
}

func (a *Appointment) Ref() *AppointmentRef {
	return &AppointmentRef{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Time:      a.Time,
	}
}

// StartsAt resolves the date/time strings to an instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return ParseSlot(a.Date, a.Time, loc)
}

func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
}

// Transition carries the audit fields written alongside a status change.
type Transition struct {
	From Status
	To   Status
	At   time.Time

	CancellationReason string
	CancelledBy        *uuid.UUID
	CancelledByRole    Role
	RescheduledToID    *uuid.UUID
	NoShowMarkedBy     *uuid.UUID
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
	Date      string
	Limit     int
	Offset    int
}
