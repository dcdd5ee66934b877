package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/appointment-lifecycle-engine/internal/config"
	"github.com/hackgods/appointment-lifecycle-engine/internal/events"
	redisclient "github.com/hackgods/appointment-lifecycle-engine/internal/redis"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	actionView Action = "view"
)

// Publisher receives lifecycle events after a transition has been persisted.
// Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type RescheduleResult struct {
	Old *Appointment
	New *Appointment
}

// SlotReport is the answer to an availability query for one slot.
type SlotReport struct {
	Available     bool
	Conflict      *AppointmentRef
	NextAvailable *SlotSuggestion
}

type Option func(*Service)

// WithClock overrides the time source used for policy checks and audit stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher Publisher
	checker   *Checker
	policy    Policy
	cfg       config.Config
	now       func() time.Time
	tracer    trace.Tracer
}

func NewService(repo Repository, locker redisclient.Locker, publisher Publisher, cfg config.Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}

	s := &Service{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		tracer:    otel.Tracer("github.com/hackgods/appointment-lifecycle-engine/internal/appointment"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.policy = Policy{RescheduleCutoff: cfg.RescheduleCutoff, Location: cfg.Location}
	s.checker = NewChecker(repo, SlotRules{
		Interval:     cfg.SlotInterval,
		WorkdayStart: cfg.WorkdayStart,
		WorkdayEnd:   cfg.WorkdayEnd,
		SearchDays:   cfg.SlotSearchDays,
		Location:     cfg.Location,
	}, s.now)

	return s
}

// CreateAppointment books a paid slot with a doctor.
// The insert is authoritative: the availability pre-check only saves a round trip,
// the store's uniqueness rule decides who gets the slot.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req CreateRequest) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Create",
		trace.WithAttributes(attribute.String("doctor.id", req.DoctorID), attribute.String("slot.date", req.Date), attribute.String("slot.time", req.Time)))
	defer func() { endSpan(span, err) }()

	if res := ValidateAppointmentData(req, s.validationRules()); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, res.Error)
	}

	patientID, err := bookingPatient(actor, req.PatientID)
	if err != nil {
		return nil, err
	}
	doctorID := uuid.MustParse(req.DoctorID)

	doctor, err := retryRead(ctx, s, "load doctor", func(ctx context.Context) (*Doctor, error) {
		return s.repo.GetDoctorByID(ctx, doctorID)
	})
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, validationErr("doctor %s is not accepting appointments", doctor.ID)
	}

	patient, err := retryRead(ctx, s, "load patient", func(ctx context.Context) (*Patient, error) {
		return s.repo.GetPatientByID(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}

	avail, err := retryRead(ctx, s, "check availability", func(ctx context.Context) (Availability, error) {
		return s.checker.CheckAvailability(ctx, doctor.ID, req.Date, req.Time, nil)
	})
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, s.conflict(ctx, doctor.ID, doctor.Specialization, req.Date, req.Time, avail.Conflict)
	}

	now := s.now()
	apptType := req.Type
	if apptType == "" {
		apptType = DefaultAppointmentType
	}
	paidAt := now
	draft := &Appointment{
		ID:                   uuid.New(),
		DoctorID:             doctor.ID,
		PatientID:            patient.ID,
		DoctorName:           doctor.Name,
		DoctorEmail:          doctor.Email,
		DoctorSpecialization: doctor.Specialization,
		PatientName:          patient.Name,
		PatientEmail:         patient.Email,
		PatientPhone:         patient.Phone,
		Date:                 req.Date,
		Time:                 req.Time,
		Type:                 apptType,
		Notes:                req.Notes,
		Status:               StatusScheduled,
		Payment: Payment{
			Status:        PaymentPaid,
			Method:        req.PaymentMethod,
			TransactionID: req.PaymentID,
			PaidAt:        &paidAt,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var created *Appointment
	err = s.withSlotLock(ctx, redisclient.SlotKey(doctor.ID, req.Date, req.Time), func(ctx context.Context) error {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		appt, err := s.repo.CreateAppointment(sctx, draft)
		if err != nil {
			return storeErr("create appointment", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) || errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, s.conflict(ctx, doctor.ID, doctor.Specialization, req.Date, req.Time, nil)
		}
		return nil, err
	}

	ev := eventFor(events.TopicCreated, created, now)
	s.publish(ctx, ev)

	log.Printf("appointment created id=%s doctor=%s patient=%s slot=%s %s", created.ID, created.DoctorID, created.PatientID, created.Date, created.Time)
	return created, nil
}

// Reschedule retires appointment id and books its successor at newDate/newTime in one unit of work.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime string, actor Actor) (_ *RescheduleResult, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Reschedule",
		trace.WithAttributes(attribute.String("appointment.id", id.String()), attribute.String("slot.date", newDate), attribute.String("slot.time", newTime)))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current, ActionReschedule); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.policy.CanReschedule(current, now); err != nil {
		return nil, err
	}
	if res := ValidateSlot(newDate, newTime, s.validationRules()); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, res.Error)
	}

	avail, err := retryRead(ctx, s, "check availability", func(ctx context.Context) (Availability, error) {
		return s.checker.CheckAvailability(ctx, current.DoctorID, newDate, newTime, &current.ID)
	})
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, s.conflict(ctx, current.DoctorID, current.DoctorSpecialization, newDate, newTime, avail.Conflict)
	}

	oldID := current.ID
	next := *current
	next.ID = uuid.New()
	next.Date = newDate
	next.Time = newTime
	next.Status = StatusScheduled
	next.OriginalAppointmentID = &oldID
	next.RescheduledToID = nil
	next.RescheduledFrom = &RescheduleSnapshot{
		OriginalDate:      current.Date,
		OriginalTime:      current.Time,
		RescheduledBy:     actor.ID,
		RescheduledByRole: actor.Role,
		RescheduledAt:     now,
	}
	next.CancellationReason = ""
	next.CancelledAt, next.CancelledBy, next.CancelledByRole = nil, nil, ""
	next.CompletedAt, next.NoShowMarkedAt, next.NoShowMarkedBy = nil, nil, nil
	next.CreatedAt = now
	next.UpdatedAt = now

	actorID := actor.ID
	t := Transition{
		From:               StatusScheduled,
		To:                 StatusRescheduled,
		At:                 now,
		CancellationReason: RescheduledReason,
		CancelledBy:        &actorID,
		CancelledByRole:    actor.Role,
		RescheduledToID:    &next.ID,
	}

	var result RescheduleResult
	err = s.withSlotLock(ctx, redisclient.SlotKey(current.DoctorID, newDate, newTime), func(ctx context.Context) error {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		old, created, err := s.repo.RescheduleAppointment(sctx, oldID, t, &next)
		if err != nil {
			return storeErr("reschedule appointment", err)
		}
		result = RescheduleResult{Old: old, New: created}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSlotTaken), errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, s.conflict(ctx, current.DoctorID, current.DoctorSpecialization, newDate, newTime, nil)
		case errors.Is(err, ErrStaleStatus):
			return nil, policyErr("appointment %s is no longer scheduled", oldID)
		}
		return nil, err
	}

	ev := eventFor(events.TopicRescheduled, result.New, now)
	ev.OldDate, ev.OldTime = result.Old.Date, result.Old.Time
	ev.NewDate, ev.NewTime = result.New.Date, result.New.Time
	ev.NewAppointmentID = &result.New.ID
	ev.OriginalAppointmentID = &oldID
	ev.CancelledBy = &actorID
	ev.CancelledByRole = string(actor.Role)
	s.publish(ctx, ev)

	log.Printf("appointment rescheduled old=%s new=%s from=%s %s to=%s %s by=%s/%s",
		oldID, result.New.ID, result.Old.Date, result.Old.Time, newDate, newTime, actor.Role, actor.ID)
	return &result, nil
}

// Cancel moves a scheduled appointment to cancelled. An empty reason becomes "Cancelled by <role>".
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Cancel", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current, ActionCancel); err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionCancel, current)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = fmt.Sprintf("Cancelled by %s", actor.Role)
	}
	now := s.now()
	actorID := actor.ID

	updated, err := s.transition(ctx, id, Transition{
		From:               current.Status,
		To:                 to,
		At:                 now,
		CancellationReason: reason,
		CancelledBy:        &actorID,
		CancelledByRole:    actor.Role,
	})
	if err != nil {
		return nil, err
	}

	ev := eventFor(events.TopicCancelled, updated, now)
	ev.CancelledBy = &actorID
	ev.CancelledByRole = string(actor.Role)
	ev.Reason = reason
	s.publish(ctx, ev)

	return updated, nil
}

// Complete is reserved for the treating doctor.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Complete", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current, ActionComplete); err != nil {
		return nil, err
	}
	to, err := checkTransition(ActionComplete, current)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.transition(ctx, id, Transition{From: current.Status, To: to, At: now})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventFor(events.TopicCompleted, updated, now))
	return updated, nil
}

// MarkNoShow records that the patient did not attend. Only valid once the slot has started.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actor Actor) (_ *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.MarkNoShow", trace.WithAttributes(attribute.String("appointment.id", id.String())))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current, ActionNoShow); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.policy.CanMarkNoShow(current, now); err != nil {
		return nil, err
	}

	actorID := actor.ID
	updated, err := s.transition(ctx, id, Transition{
		From:           current.Status,
		To:             StatusMissed,
		At:             now,
		NoShowMarkedBy: &actorID,
	})
	if err != nil {
		return nil, err
	}

	ev := eventFor(events.TopicMissed, updated, now)
	ev.MarkedBy = &actorID
	s.publish(ctx, ev)

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, appt, actionView); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments scopes the filter to the actor: patients and doctors only see their own records.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, filter ListFilter) ([]Appointment, error) {
	switch actor.Role {
	case RolePatient:
		id := actor.ID
		filter.PatientID = &id
	case RoleDoctor:
		id := actor.ID
		filter.DoctorID = &id
	case RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, actor.Role)
	}

	if filter.Date != "" {
		if _, err := time.Parse(DateLayout, filter.Date); err != nil {
			return nil, validationErr("date must be in YYYY-MM-DD format")
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return retryRead(ctx, s, "list appointments", func(ctx context.Context) ([]Appointment, error) {
		return s.repo.ListAppointments(ctx, filter)
	})
}

// CheckSlot reports whether a doctor's slot is free and, when it is not, the next free one.
func (s *Service) CheckSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*SlotReport, error) {
	if res := ValidateSlot(date, clock, ValidationRules{Location: s.cfg.Location}); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, res.Error)
	}
	if _, err := retryRead(ctx, s, "load doctor", func(ctx context.Context) (*Doctor, error) {
		return s.repo.GetDoctorByID(ctx, doctorID)
	}); err != nil {
		return nil, err
	}

	avail, err := retryRead(ctx, s, "check availability", func(ctx context.Context) (Availability, error) {
		return s.checker.CheckAvailability(ctx, doctorID, date, clock, nil)
	})
	if err != nil {
		return nil, err
	}

	report := &SlotReport{Available: avail.Available, Conflict: avail.Conflict}
	if !avail.Available {
		next, err := retryRead(ctx, s, "find next slot", func(ctx context.Context) (SlotSuggestion, error) {
			return s.checker.FindNextAvailableSlot(ctx, doctorID, date, clock)
		})
		if err != nil {
			return nil, err
		}
		report.NextAvailable = &next
	}
	return report, nil
}

// Helpers

func (s *Service) validationRules() ValidationRules {
	return ValidationRules{
		AllowedPaymentMethods: s.cfg.AllowedPaymentMethods,
		Location:              s.cfg.Location,
		Now:                   s.now(),
	}
}

// bookingPatient decides whose appointment is being booked.
func bookingPatient(actor Actor, requested string) (uuid.UUID, error) {
	switch actor.Role {
	case RolePatient:
		if requested != "" && requested != actor.ID.String() {
			return uuid.Nil, fmt.Errorf("%w: patients can only book for themselves", ErrUnauthorized)
		}
		return actor.ID, nil
	case RoleAdmin:
		if requested == "" {
			return uuid.Nil, validationErr("patientId is required when booking on behalf of a patient")
		}
		return uuid.MustParse(requested), nil
	}
	return uuid.Nil, fmt.Errorf("%w: %s accounts cannot book appointments", ErrUnauthorized, actor.Role)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return retryRead(ctx, s, "load appointment", func(ctx context.Context) (*Appointment, error) {
		return s.repo.GetAppointmentByID(ctx, id)
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	updated, err := s.repo.TransitionAppointment(sctx, id, t)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, policyErr("appointment %s is no longer %s", id, t.From)
		}
		return nil, storeErr("update appointment", err)
	}
	return updated, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// retryRead runs a read under the store timeout, retrying transient failures with
// exponential backoff. Anything else is returned on the first attempt.
func retryRead[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	tries := s.cfg.StoreRetries
	if tries < 1 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	v, err := backoff.Retry(ctx, func() (T, error) {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		v, err := fn(sctx)
		if err != nil && (!isTransient(err) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		var zero T
		return zero, storeErr(op, err)
	}
	return v, nil
}

// withSlotLock serializes claims on one slot. When Redis cannot be reached the
// claim goes ahead unlocked; the store's uniqueness rule still holds.
func (s *Service) withSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockUnavailable) {
		log.Printf("slot lock unavailable key=%s, proceeding without lock: %v", key, err)
		return fn(ctx)
	}
	return err
}

// conflict builds the remediation payload. Lookup failures degrade to an empty suggestion.
func (s *Service) conflict(ctx context.Context, doctorID uuid.UUID, specialization, date, clock string, existing *AppointmentRef) error {
	c := &SchedulingConflict{
		DoctorID:     doctorID.String(),
		Date:         date,
		Time:         clock,
		Conflict:     existing,
		Alternatives: []DoctorSummary{},
	}

	next, err := s.checker.nextSlot(ctx, doctorID, date, clock, true)
	if err != nil {
		log.Printf("next slot lookup failed doctor=%s date=%s: %v", doctorID, date, err)
		c.NextAvailable = SlotSuggestion{Message: "Unable to determine next available slot"}
	} else {
		c.NextAvailable = next
	}

	if specialization != "" {
		alts, err := s.checker.SuggestAlternativeDoctors(ctx, specialization, doctorID)
		if err != nil {
			log.Printf("alternative doctor lookup failed specialization=%s: %v", specialization, err)
		} else {
			c.Alternatives = alts
		}
	}

	return c
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, ev)
}

func eventFor(topic string, a *Appointment, at time.Time) events.Event {
	ev := events.New(topic, at)
	ev.AppointmentID = a.ID
	ev.DoctorID = a.DoctorID
	ev.PatientID = a.PatientID
	ev.Date = a.Date
	ev.Time = a.Time
	return ev
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
