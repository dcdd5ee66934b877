package appointment

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusMissed      Status = "missed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusRescheduled, StatusCancelled, StatusCompleted, StatusMissed:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s != StatusScheduled
}

type Action string

const (
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
	ActionComplete   Action = "complete"
	ActionNoShow     Action = "no_show"
)

type edge struct {
	from []Status
	to   Status
}

var transitionMap = map[Action]edge{
	ActionReschedule: {from: []Status{StatusScheduled}, to: StatusRescheduled},
	ActionCancel:     {from: []Status{StatusScheduled}, to: StatusCancelled},
	ActionComplete:   {from: []Status{StatusScheduled}, to: StatusCompleted},
	ActionNoShow:     {from: []Status{StatusScheduled}, to: StatusMissed},
}

func CanTransition(action Action, from Status) bool {
	e, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, s := range e.from {
		if s == from {
			return true
		}
	}
	return false
}

// Target returns the status an action moves a record into.
func Target(action Action) (Status, bool) {
	e, ok := transitionMap[action]
	return e.to, ok
}

func checkTransition(action Action, appt *Appointment) (Status, error) {
	if !CanTransition(action, appt.Status) {
		return "", policyErr("cannot %s an appointment in status %s", action, appt.Status)
	}
	to, _ := Target(action)
	return to, nil
}

// Policy holds the time-based rules applied on top of the state machine.
type Policy struct {
	RescheduleCutoff time.Duration
	Location         *time.Location
}

// CanReschedule checks that appt is active and its start is at least the cutoff away from now.
func (p Policy) CanReschedule(appt *Appointment, now time.Time) error {
	if !CanTransition(ActionReschedule, appt.Status) {
		return policyErr("cannot reschedule an appointment in status %s", appt.Status)
	}
	start, err := appt.StartsAt(p.Location)
	if err != nil {
		return fmt.Errorf("%w: stored slot %s %s is malformed", ErrValidation, appt.Date, appt.Time)
	}
	if start.Sub(now) < p.RescheduleCutoff {
		return policyErr("appointments can only be rescheduled at least %s before they start", p.RescheduleCutoff)
	}
	return nil
}

// CanMarkNoShow requires the scheduled start to have passed.
func (p Policy) CanMarkNoShow(appt *Appointment, now time.Time) error {
	if !CanTransition(ActionNoShow, appt.Status) {
		return policyErr("cannot mark no-show for an appointment in status %s", appt.Status)
	}
	start, err := appt.StartsAt(p.Location)
	if err != nil {
		return fmt.Errorf("%w: stored slot %s %s is malformed", ErrValidation, appt.Date, appt.Time)
	}
	if now.Before(start) {
		return policyErr("no-show can only be marked after the appointment time (%s %s)", appt.Date, appt.Time)
	}
	return nil
}

// authorize checks that actor owns appt for the given action. Admins may override.
func authorize(actor Actor, appt *Appointment, action Action) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleDoctor:
		if actor.ID == appt.DoctorID {
			return nil
		}
	case RolePatient:
		if action == ActionComplete || action == ActionNoShow {
			return fmt.Errorf("%w: only the doctor can %s an appointment", ErrUnauthorized, action)
		}
		if actor.ID == appt.PatientID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s does not own appointment %s", ErrUnauthorized, actor.Role, actor.ID, appt.ID)
}
