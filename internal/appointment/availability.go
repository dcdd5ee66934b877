package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotRules bound the forward search for a free slot.
type SlotRules struct {
	Interval     time.Duration
	WorkdayStart string
	WorkdayEnd   string
	SearchDays   int
	Location     *time.Location
}

type Availability struct {
	Available bool
	Conflict  *AppointmentRef
}

// Checker answers slot questions with plain reads; it never writes.
type Checker struct {
	repo  Repository
	rules SlotRules
	now   func() time.Time
}

func NewChecker(repo Repository, rules SlotRules, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	if rules.Location == nil {
		rules.Location = time.UTC
	}
	if rules.Interval <= 0 {
		rules.Interval = 30 * time.Minute
	}
	return &Checker{repo: repo, rules: rules, now: now}
}

// CheckAvailability reports whether doctorID has no scheduled appointment at date/clock.
// An appointment with id excludeID does not count as a conflict.
func (c *Checker) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date, clock string, excludeID *uuid.UUID) (Availability, error) {
	existing, err := c.repo.FindActiveAtSlot(ctx, doctorID, date, clock)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return Availability{Available: true}, nil
		}
		return Availability{}, fmt.Errorf("find active appointment: %w", err)
	}
	if excludeID != nil && existing.ID == *excludeID {
		return Availability{Available: true}, nil
	}
	return Availability{Available: false, Conflict: existing.Ref()}, nil
}

// FindNextAvailableSlot walks forward from date/clock in Interval steps inside the
// working day, then through the following days up to SearchDays. Candidates are
// always on the grid anchored at WorkdayStart.
func (c *Checker) FindNextAvailableSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (SlotSuggestion, error) {
	return c.nextSlot(ctx, doctorID, date, clock, false)
}

// nextSlot with skipRequested never returns date/clock itself, which matters when
// the slot looked free to the store but another booking holds it.
func (c *Checker) nextSlot(ctx context.Context, doctorID uuid.UUID, date, clock string, skipRequested bool) (SlotSuggestion, error) {
	loc := c.rules.Location
	from, err := ParseSlot(date, clock, loc)
	if err != nil {
		return SlotSuggestion{}, validationErr("invalid slot %s %s", date, clock)
	}
	day, _ := time.ParseInLocation(DateLayout, date, loc)
	now := c.now().In(loc)

	for offset := 0; offset <= c.rules.SearchDays; offset++ {
		d := day.AddDate(0, 0, offset)
		dayStr := d.Format(DateLayout)

		open, err := ParseSlot(dayStr, c.rules.WorkdayStart, loc)
		if err != nil {
			return SlotSuggestion{}, fmt.Errorf("workday start %q: %w", c.rules.WorkdayStart, err)
		}
		closing, err := ParseSlot(dayStr, c.rules.WorkdayEnd, loc)
		if err != nil {
			return SlotSuggestion{}, fmt.Errorf("workday end %q: %w", c.rules.WorkdayEnd, err)
		}

		cursor := open
		if offset == 0 && from.After(open) {
			steps := (from.Sub(open) + c.rules.Interval - 1) / c.rules.Interval
			cursor = open.Add(steps * c.rules.Interval)
		}

		booked, err := c.repo.ListBookedTimes(ctx, doctorID, dayStr)
		if err != nil {
			return SlotSuggestion{}, fmt.Errorf("list booked times: %w", err)
		}
		taken := make(map[string]struct{}, len(booked))
		for _, t := range booked {
			taken[t] = struct{}{}
		}

		for ; cursor.Before(closing); cursor = cursor.Add(c.rules.Interval) {
			if cursor.Before(now) || (skipRequested && cursor.Equal(from)) {
				continue
			}
			slot := cursor.Format(TimeLayout)
			if _, ok := taken[slot]; ok {
				continue
			}
			msg := fmt.Sprintf("Next available slot is %s at %s", dayStr, slot)
			if offset == 0 {
				msg = fmt.Sprintf("Next available slot today is at %s", slot)
			}
			return SlotSuggestion{AvailableDate: &dayStr, AvailableTime: &slot, Message: msg}, nil
		}
	}

	return SlotSuggestion{
		Message: fmt.Sprintf("No available slots in the next %d days", c.rules.SearchDays),
	}, nil
}

// SuggestAlternativeDoctors lists other active doctors with the same specialization.
func (c *Checker) SuggestAlternativeDoctors(ctx context.Context, specialization string, excludeDoctorID uuid.UUID) ([]DoctorSummary, error) {
	doctors, err := c.repo.ListDoctorsBySpecialization(ctx, specialization)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	result := make([]DoctorSummary, 0, len(doctors))
	for _, d := range doctors {
		if d.ID == excludeDoctorID || !d.Active {
			continue
		}
		result = append(result, DoctorSummary{ID: d.ID, Name: d.Name, Specialization: d.Specialization})
	}
	return result, nil
}
