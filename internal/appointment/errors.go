package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrUnauthorized        = errors.New("not authorized")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrPolicyViolation     = errors.New("action not permitted")
	ErrSchedulingConflict  = errors.New("slot already booked")
	ErrTransientStore      = errors.New("appointment store unavailable")

	// Returned by repositories when the active-slot uniqueness constraint rejects a write.
	ErrSlotTaken = errors.New("slot already has a scheduled appointment")
	// Returned by repositories when a conditional status update matched no row.
	ErrStaleStatus = errors.New("appointment status changed concurrently")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func policyErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicyViolation, fmt.Sprintf(format, args...))
}

// SlotSuggestion is the next free slot for the requested doctor. AvailableTime is nil
// when nothing was found inside the search horizon.
type SlotSuggestion struct {
	AvailableDate *string `json:"availableDate"`
	AvailableTime *string `json:"availableTime"`
	Message       string  `json:"message"`
}

// SchedulingConflict is returned when the requested slot is already claimed.
type SchedulingConflict struct {
	DoctorID      string
	Date          string
	Time          string
	Conflict      *AppointmentRef
	NextAvailable SlotSuggestion
	Alternatives  []DoctorSummary
}

func (c *SchedulingConflict) Error() string {
	return fmt.Sprintf("doctor %s is not available on %s at %s", c.DoctorID, c.Date, c.Time)
}

func (c *SchedulingConflict) Unwrap() error {
	return ErrSchedulingConflict
}

// storeErr classifies an error coming back from a repository call.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransientStore, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransientStore) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
