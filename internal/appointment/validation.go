package appointment

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateRequest is a booking request as received from the caller.
type CreateRequest struct {
	DoctorID      string `json:"doctorId" validate:"required,uuid"`
	PatientID     string `json:"patientId,omitempty" validate:"omitempty,uuid"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	Time          string `json:"time" validate:"required,len=5,datetime=15:04"`
	Type          string `json:"type,omitempty" validate:"omitempty,max=50"`
	Notes         string `json:"notes,omitempty" validate:"max=1000"`
	PaymentStatus string `json:"paymentStatus" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required"`
	PaymentID     string `json:"paymentId" validate:"required,max=255"`
}

type ValidationRules struct {
	AllowedPaymentMethods []string
	Location              *time.Location
	Now                   time.Time
}

type ValidationResult struct {
	Valid bool
	Error string
}

// ValidateAppointmentData checks a booking request without touching any store.
func ValidateAppointmentData(req CreateRequest, rules ValidationRules) ValidationResult {
	if err := validate.Struct(req); err != nil {
		return ValidationResult{Valid: false, Error: formatValidationError(err)}
	}

	if PaymentStatus(req.PaymentStatus) != PaymentPaid {
		return ValidationResult{Valid: false, Error: "payment must be completed before booking"}
	}
	if len(rules.AllowedPaymentMethods) > 0 && !slices.Contains(rules.AllowedPaymentMethods, req.PaymentMethod) {
		return ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("payment method %q is not accepted (allowed: %s)", req.PaymentMethod, strings.Join(rules.AllowedPaymentMethods, ", ")),
		}
	}

	if msg := checkNotPast(req.Date, req.Time, rules); msg != "" {
		return ValidationResult{Valid: false, Error: msg}
	}

	return ValidationResult{Valid: true}
}

type slotInput struct {
	Date string `json:"newDate" validate:"required,datetime=2006-01-02"`
	Time string `json:"newTime" validate:"required,len=5,datetime=15:04"`
}

// ValidateSlot checks a reschedule target.
func ValidateSlot(date, clock string, rules ValidationRules) ValidationResult {
	if err := validate.Struct(slotInput{Date: date, Time: clock}); err != nil {
		return ValidationResult{Valid: false, Error: formatValidationError(err)}
	}
	if msg := checkNotPast(date, clock, rules); msg != "" {
		return ValidationResult{Valid: false, Error: msg}
	}
	return ValidationResult{Valid: true}
}

func checkNotPast(date, clock string, rules ValidationRules) string {
	if rules.Now.IsZero() {
		return ""
	}
	start, err := ParseSlot(date, clock, rules.Location)
	if err != nil {
		return fmt.Sprintf("invalid date/time %s %s", date, clock)
	}
	if start.Before(rules.Now) {
		return "cannot book an appointment in the past"
	}
	return ""
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "uuid":
			msgs = append(msgs, e.Field()+" must be a valid id")
		case "datetime":
			if e.Param() == TimeLayout {
				msgs = append(msgs, e.Field()+" must be in HH:MM format")
			} else {
				msgs = append(msgs, e.Field()+" must be in YYYY-MM-DD format")
			}
		case "len":
			msgs = append(msgs, e.Field()+" must be in HH:MM format")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, ", ")
}
