package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle-engine/internal/appointment"
)

type RescheduleRequest struct {
	NewDate string `json:"newDate"`
	NewTime string `json:"newTime"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type PaymentResponse struct {
	Status        string     `json:"status"`
	Method        string     `json:"method,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
}

type AppointmentResponse struct {
	ID                   uuid.UUID `json:"id"`
	DoctorID             uuid.UUID `json:"doctorId"`
	PatientID            uuid.UUID `json:"patientId"`
	DoctorName           string    `json:"doctorName"`
	DoctorEmail          *string   `json:"doctorEmail,omitempty"`
	DoctorSpecialization string    `json:"doctorSpecialization"`
	PatientName          string    `json:"patientName"`
	PatientEmail         *string   `json:"patientEmail,omitempty"`
	PatientPhone         *string   `json:"patientPhone,omitempty"`

	Date    string          `json:"date"`
	Time    string          `json:"time"`
	Type    string          `json:"type"`
	Notes   string          `json:"notes,omitempty"`
	Status  string          `json:"status"`
	Payment PaymentResponse `json:"payment"`

	OriginalAppointmentID *uuid.UUID                      `json:"originalAppointmentId,omitempty"`
	RescheduledToID       *uuid.UUID                      `json:"rescheduledToId,omitempty"`
	RescheduledFrom       *appointment.RescheduleSnapshot `json:"rescheduledFrom,omitempty"`

	CancellationReason string     `json:"cancellationReason,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelledBy,omitempty"`
	CancelledByRole    string     `json:"cancelledByRole,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	NoShowMarkedAt     *time.Time `json:"noShowMarkedAt,omitempty"`
	NoShowMarkedBy     *uuid.UUID `json:"noShowMarkedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RescheduleResponse struct {
	OldAppointment AppointmentResponse `json:"oldAppointment"`
	NewAppointment AppointmentResponse `json:"newAppointment"`
}

type ListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Available     bool                        `json:"available"`
	Conflict      *appointment.AppointmentRef `json:"conflict"`
	NextAvailable *appointment.SlotSuggestion `json:"nextAvailable"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ConflictResponse always carries nextAvailable and alternatives, even when empty.
type ConflictResponse struct {
	Error         string                      `json:"error"`
	Details       string                      `json:"details"`
	Conflict      *appointment.AppointmentRef `json:"conflict,omitempty"`
	NextAvailable *appointment.SlotSuggestion `json:"nextAvailable"`
	Alternatives  []appointment.DoctorSummary `json:"alternatives"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                   a.ID,
		DoctorID:             a.DoctorID,
		PatientID:            a.PatientID,
		DoctorName:           a.DoctorName,
		DoctorEmail:          a.DoctorEmail,
		DoctorSpecialization: a.DoctorSpecialization,
		PatientName:          a.PatientName,
		PatientEmail:         a.PatientEmail,
		PatientPhone:         a.PatientPhone,
		Date:                 a.Date,
		Time:                 a.Time,
		Type:                 a.Type,
		Notes:                a.Notes,
		Status:               string(a.Status),
		Payment: PaymentResponse{
			Status:        string(a.Payment.Status),
			Method:        a.Payment.Method,
			TransactionID: a.Payment.TransactionID,
			PaidAt:        a.Payment.PaidAt,
		},
		OriginalAppointmentID: a.OriginalAppointmentID,
		RescheduledToID:       a.RescheduledToID,
		RescheduledFrom:       a.RescheduledFrom,
		CancellationReason:    a.CancellationReason,
		CancelledAt:           a.CancelledAt,
		CancelledBy:           a.CancelledBy,
		CancelledByRole:       string(a.CancelledByRole),
		CompletedAt:           a.CompletedAt,
		NoShowMarkedAt:        a.NoShowMarkedAt,
		NoShowMarkedBy:        a.NoShowMarkedBy,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}
