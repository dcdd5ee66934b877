package appointment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle-engine/internal/config"
	"github.com/hackgods/appointment-lifecycle-engine/internal/events"
	redisclient "github.com/hackgods/appointment-lifecycle-engine/internal/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fakeLocker struct {
	withLockFn func(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func (f fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if f.withLockFn == nil {
		return fn(ctx)
	}
	return f.withLockFn(ctx, key, fn)
}

type fixture struct {
	repo   *MemoryRepository
	pub    *recordingPublisher
	svc    *Service
	now    time.Time
	doctor Doctor
	peer   Doctor
	asleep Doctor
	alice  Patient
	bob    Patient
	admin  Actor
}

func testConfig() config.Config {
	return config.Config{
		StoreTimeout:          time.Second,
		StoreRetries:          3,
		RescheduleCutoff:      2 * time.Hour,
		SlotInterval:          30 * time.Minute,
		WorkdayStart:          "09:00",
		WorkdayEnd:            "17:00",
		SlotSearchDays:        7,
		Location:              time.UTC,
		AllowedPaymentMethods: []string{"card", "upi", "netbanking", "wallet"},
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, NewMemoryRepository(), nil)
}

func newFixtureWith(t *testing.T, repo *MemoryRepository, locker redisclient.Locker, wrap ...func(Repository) Repository) *fixture {
	t.Helper()

	f := &fixture{
		repo:   repo,
		pub:    &recordingPublisher{},
		now:    time.Date(2024, 11, 27, 8, 0, 0, 0, time.UTC),
		doctor: Doctor{ID: uuid.New(), Name: "Dr. Meredith Grey", Specialization: "Cardiology", Active: true},
		peer:   Doctor{ID: uuid.New(), Name: "Dr. Cristina Yang", Specialization: "Cardiology", Active: true},
		asleep: Doctor{ID: uuid.New(), Name: "Dr. Retired", Specialization: "Cardiology", Active: false},
		alice:  Patient{ID: uuid.New(), Name: "Alice"},
		bob:    Patient{ID: uuid.New(), Name: "Bob"},
		admin:  Actor{ID: uuid.New(), Role: RoleAdmin},
	}
	for _, d := range []Doctor{f.doctor, f.peer, f.asleep} {
		repo.PutDoctor(d)
	}
	repo.PutPatient(f.alice)
	repo.PutPatient(f.bob)

	var r Repository = repo
	for _, w := range wrap {
		r = w(r)
	}

	f.svc = NewService(r, locker, f.pub, testConfig(), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) patientActor(p Patient) Actor { return Actor{ID: p.ID, Role: RolePatient} }
func (f *fixture) doctorActor() Actor           { return Actor{ID: f.doctor.ID, Role: RoleDoctor} }

func (f *fixture) request(date, clock string) CreateRequest {
	return CreateRequest{
		DoctorID:      f.doctor.ID.String(),
		Date:          date,
		Time:          clock,
		PaymentStatus: "paid",
		PaymentMethod: "card",
		PaymentID:     "pay_" + uuid.NewString()[:8],
	}
}

func (f *fixture) book(t *testing.T, p Patient, date, clock string) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), f.patientActor(p), f.request(date, clock))
	if err != nil {
		t.Fatalf("book %s %s: %v", date, clock, err)
	}
	return appt
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)

	req := f.request("2024-11-28", "10:00")
	req.Notes = "chest pain"
	appt, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.alice), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appt.Status != StatusScheduled {
		t.Fatalf("status=%s, want scheduled", appt.Status)
	}
	if appt.Payment.Status != PaymentPaid || appt.Payment.TransactionID != req.PaymentID {
		t.Fatalf("unexpected payment %+v", appt.Payment)
	}
	if appt.Type != DefaultAppointmentType {
		t.Fatalf("type=%q, want default", appt.Type)
	}
	if appt.DoctorName != f.doctor.Name || appt.DoctorSpecialization != "Cardiology" || appt.PatientName != "Alice" {
		t.Fatalf("snapshots not copied: %+v", appt)
	}

	if got := f.pub.types(); len(got) != 1 || got[0] != events.TopicCreated {
		t.Fatalf("events=%v, want [%s]", got, events.TopicCreated)
	}
	ev := f.pub.last()
	if ev.AppointmentID != appt.ID || ev.Date != "2024-11-28" || ev.Time != "10:00" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestCreateAppointmentConflictOffersRemediation(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.alice, "2024-11-28", "10:00")

	_, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.bob), f.request("2024-11-28", "10:00"))
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected scheduling conflict, got %v", err)
	}

	var conflict *SchedulingConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *SchedulingConflict, got %T", err)
	}
	if conflict.Conflict == nil || conflict.Conflict.ID != first.ID {
		t.Fatalf("conflict should reference %s, got %+v", first.ID, conflict.Conflict)
	}
	if conflict.NextAvailable.AvailableTime == nil || *conflict.NextAvailable.AvailableTime != "10:30" {
		t.Fatalf("expected next slot 10:30, got %+v", conflict.NextAvailable)
	}
	if len(conflict.Alternatives) != 1 || conflict.Alternatives[0].ID != f.peer.ID {
		t.Fatalf("expected only the active peer as alternative, got %+v", conflict.Alternatives)
	}

	if got := f.pub.types(); len(got) != 1 {
		t.Fatalf("conflict must not publish, events=%v", got)
	}
}

func TestCreateAppointmentRejections(t *testing.T) {
	cases := []struct {
		name    string
		actor   func(f *fixture) Actor
		mutate  func(f *fixture, r *CreateRequest)
		wantErr error
	}{
		{
			name:    "payment pending",
			actor:   func(f *fixture) Actor { return f.patientActor(f.alice) },
			mutate:  func(_ *fixture, r *CreateRequest) { r.PaymentStatus = "pending" },
			wantErr: ErrValidation,
		},
		{
			name:    "payment method not allowed",
			actor:   func(f *fixture) Actor { return f.patientActor(f.alice) },
			mutate:  func(_ *fixture, r *CreateRequest) { r.PaymentMethod = "cash" },
			wantErr: ErrValidation,
		},
		{
			name:    "unknown doctor",
			actor:   func(f *fixture) Actor { return f.patientActor(f.alice) },
			mutate:  func(_ *fixture, r *CreateRequest) { r.DoctorID = uuid.NewString() },
			wantErr: ErrDoctorNotFound,
		},
		{
			name:    "inactive doctor",
			actor:   func(f *fixture) Actor { return f.patientActor(f.alice) },
			mutate:  func(f *fixture, r *CreateRequest) { r.DoctorID = f.asleep.ID.String() },
			wantErr: ErrValidation,
		},
		{
			name:    "unknown patient",
			actor:   func(f *fixture) Actor { return Actor{ID: uuid.New(), Role: RolePatient} },
			mutate:  func(*fixture, *CreateRequest) {},
			wantErr: ErrPatientNotFound,
		},
		{
			name:    "patient booking for someone else",
			actor:   func(f *fixture) Actor { return f.patientActor(f.alice) },
			mutate:  func(f *fixture, r *CreateRequest) { r.PatientID = f.bob.ID.String() },
			wantErr: ErrUnauthorized,
		},
		{
			name:    "doctor booking",
			actor:   func(f *fixture) Actor { return f.doctorActor() },
			mutate:  func(*fixture, *CreateRequest) {},
			wantErr: ErrUnauthorized,
		},
		{
			name:    "admin without patient",
			actor:   func(f *fixture) Actor { return f.admin },
			mutate:  func(*fixture, *CreateRequest) {},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request("2024-11-28", "10:00")
			tt.mutate(f, &req)

			_, err := f.svc.CreateAppointment(context.Background(), tt.actor(f), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			list, _ := f.repo.ListAppointments(context.Background(), ListFilter{})
			if len(list) != 0 {
				t.Fatalf("nothing should be stored, got %d records", len(list))
			}
			if got := f.pub.types(); len(got) != 0 {
				t.Fatalf("nothing should be published, got %v", got)
			}
		})
	}
}

func TestAdminBooksOnBehalfOfPatient(t *testing.T) {
	f := newFixture(t)
	req := f.request("2024-11-28", "11:00")
	req.PatientID = f.bob.ID.String()

	appt, err := f.svc.CreateAppointment(context.Background(), f.admin, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.PatientID != f.bob.ID {
		t.Fatalf("patient=%s, want %s", appt.PatientID, f.bob.ID)
	}
}

func TestConcurrentCreatesClaimSlotOnce(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	patients := make([]Patient, attempts)
	for i := range patients {
		patients[i] = Patient{ID: uuid.New(), Name: "patient"}
		f.repo.PutPatient(patients[i])
	}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes atomic.Int32
		conflicts atomic.Int32
		others    atomic.Int32
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p Patient) {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateAppointment(context.Background(), f.patientActor(p), f.request("2024-11-28", "10:00"))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrSchedulingConflict):
				conflicts.Add(1)
			default:
				others.Add(1)
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || conflicts.Load() != attempts-1 || others.Load() != 0 {
		t.Fatalf("successes=%d conflicts=%d others=%d", successes.Load(), conflicts.Load(), others.Load())
	}

	active, _ := f.repo.ListAppointments(context.Background(), ListFilter{Status: StatusScheduled})
	if len(active) != 1 {
		t.Fatalf("expected exactly one scheduled record, got %d", len(active))
	}
}

func TestRescheduleKeepsProvenance(t *testing.T) {
	f := newFixture(t)
	orig := f.book(t, f.alice, "2024-11-28", "10:00")

	res, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "14:00", f.patientActor(f.alice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Old.Status != StatusRescheduled || res.Old.CancellationReason != RescheduledReason {
		t.Fatalf("old record not retired: %+v", res.Old)
	}
	if res.Old.RescheduledToID == nil || *res.Old.RescheduledToID != res.New.ID {
		t.Fatalf("old record should point at %s", res.New.ID)
	}
	if res.Old.CancelledBy == nil || *res.Old.CancelledBy != f.alice.ID || res.Old.CancelledByRole != RolePatient {
		t.Fatalf("old record missing cancellation metadata: %+v", res.Old)
	}

	if res.New.Status != StatusScheduled || res.New.Time != "14:00" {
		t.Fatalf("unexpected new record %+v", res.New)
	}
	if res.New.OriginalAppointmentID == nil || *res.New.OriginalAppointmentID != orig.ID {
		t.Fatalf("new record should reference %s", orig.ID)
	}
	snap := res.New.RescheduledFrom
	if snap == nil || snap.OriginalDate != "2024-11-28" || snap.OriginalTime != "10:00" || snap.RescheduledBy != f.alice.ID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if res.New.Payment.Status != PaymentPaid || res.New.PatientName != "Alice" {
		t.Fatalf("payment and snapshots should carry over: %+v", res.New)
	}

	// the old slot is free again
	if _, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.bob), f.request("2024-11-28", "10:00")); err != nil {
		t.Fatalf("old slot should be bookable: %v", err)
	}

	ev := f.pub.events[1]
	if ev.Type != events.TopicRescheduled || ev.OldTime != "10:00" || ev.NewTime != "14:00" || *ev.OriginalAppointmentID != orig.ID {
		t.Fatalf("unexpected rescheduled event %+v", ev)
	}
}

func TestRescheduleIntoOwnSlot(t *testing.T) {
	f := newFixture(t)
	orig := f.book(t, f.alice, "2024-11-28", "10:00")

	res, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "10:00", f.patientActor(f.alice))
	if err != nil {
		t.Fatalf("re-targeting the current slot should not conflict: %v", err)
	}
	if res.New.Time != "10:00" || res.Old.Status != StatusRescheduled {
		t.Fatalf("unexpected result %+v / %+v", res.Old, res.New)
	}
}

func TestRescheduleFailures(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Reschedule(context.Background(), uuid.New(), "2024-11-28", "14:00", f.patientActor(f.alice))
		if !errors.Is(err, ErrAppointmentNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("other patient", func(t *testing.T) {
		f := newFixture(t)
		orig := f.book(t, f.alice, "2024-11-28", "10:00")
		_, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "14:00", f.patientActor(f.bob))
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})

	t.Run("inside cutoff", func(t *testing.T) {
		f := newFixture(t)
		orig := f.book(t, f.alice, "2024-11-28", "10:00")
		f.now = time.Date(2024, 11, 28, 8, 30, 0, 0, time.UTC)
		_, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "14:00", f.patientActor(f.alice))
		if !errors.Is(err, ErrPolicyViolation) {
			t.Fatalf("expected policy violation, got %v", err)
		}
	})

	t.Run("target taken", func(t *testing.T) {
		f := newFixture(t)
		orig := f.book(t, f.alice, "2024-11-28", "10:00")
		f.book(t, f.bob, "2024-11-28", "14:00")

		_, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "14:00", f.patientActor(f.alice))
		var conflict *SchedulingConflict
		if !errors.As(err, &conflict) {
			t.Fatalf("expected scheduling conflict, got %v", err)
		}

		still, _ := f.repo.GetAppointmentByID(context.Background(), orig.ID)
		if still.Status != StatusScheduled {
			t.Fatalf("original should stay scheduled, got %s", still.Status)
		}
	})

	t.Run("terminal", func(t *testing.T) {
		f := newFixture(t)
		orig := f.book(t, f.alice, "2024-11-28", "10:00")
		if _, err := f.svc.Cancel(context.Background(), orig.ID, "", f.patientActor(f.alice)); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		_, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "14:00", f.patientActor(f.alice))
		if !errors.Is(err, ErrPolicyViolation) {
			t.Fatalf("expected policy violation, got %v", err)
		}
	})

	t.Run("malformed target", func(t *testing.T) {
		f := newFixture(t)
		orig := f.book(t, f.alice, "2024-11-28", "10:00")
		_, err := f.svc.Reschedule(context.Background(), orig.ID, "2024-11-28", "2pm", f.patientActor(f.alice))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "2024-11-28", "10:00")

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, "", f.patientActor(f.alice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancellationReason != "Cancelled by patient" {
		t.Fatalf("unexpected record %+v", cancelled)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(f.now) {
		t.Fatalf("cancelledAt=%v, want %v", cancelled.CancelledAt, f.now)
	}

	ev := f.pub.last()
	if ev.Type != events.TopicCancelled || ev.Reason != "Cancelled by patient" || ev.CancelledByRole != "patient" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// cancelling twice is an explicit error, not a silent no-op
	_, err = f.svc.Cancel(context.Background(), appt.ID, "again", f.patientActor(f.alice))
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if n := len(f.pub.types()); n != 2 {
		t.Fatalf("second cancel must not publish, got %d events", n)
	}
}

func TestCancelByDoctorWithReason(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "2024-11-28", "10:00")

	cancelled, err := f.svc.Cancel(context.Background(), appt.ID, "emergency surgery", f.doctorActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.CancellationReason != "emergency surgery" || cancelled.CancelledByRole != RoleDoctor {
		t.Fatalf("unexpected record %+v", cancelled)
	}
}

func TestCancelByOtherDoctorIsRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "2024-11-28", "10:00")

	_, err := f.svc.Cancel(context.Background(), appt.ID, "not mine", Actor{ID: f.peer.ID, Role: RoleDoctor})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	stored, err := f.repo.GetAppointmentByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != StatusScheduled || stored.CancelledAt != nil || stored.CancellationReason != "" {
		t.Fatalf("record changed: %+v", stored)
	}
	if got := f.pub.types(); len(got) != 1 || got[0] != events.TopicCreated {
		t.Fatalf("rejected cancel must not publish, got %v", got)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "2024-11-28", "10:00")

	if _, err := f.svc.Complete(context.Background(), appt.ID, f.patientActor(f.alice)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("patients cannot complete, got %v", err)
	}

	done, err := f.svc.Complete(context.Background(), appt.ID, f.doctorActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", done)
	}

	if _, err := f.svc.Cancel(context.Background(), appt.ID, "", f.patientActor(f.alice)); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("completed record must be immutable, got %v", err)
	}
	if f.pub.last().Type != events.TopicCompleted {
		t.Fatalf("last event=%s, want %s", f.pub.last().Type, events.TopicCompleted)
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "2024-11-28", "10:00")

	if _, err := f.svc.MarkNoShow(context.Background(), appt.ID, f.doctorActor()); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation before the appointment time, got %v", err)
	}

	f.now = time.Date(2024, 11, 28, 10, 20, 0, 0, time.UTC)
	missed, err := f.svc.MarkNoShow(context.Background(), appt.ID, f.doctorActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missed.Status != StatusMissed || missed.NoShowMarkedBy == nil || *missed.NoShowMarkedBy != f.doctor.ID {
		t.Fatalf("unexpected record %+v", missed)
	}

	ev := f.pub.last()
	if ev.Type != events.TopicMissed || ev.MarkedBy == nil || *ev.MarkedBy != f.doctor.ID {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := f.svc.MarkNoShow(context.Background(), appt.ID, f.doctorActor()); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("second no-show should be rejected, got %v", err)
	}
}

func TestGetAndListAppointmentsScopedToActor(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.alice, "2024-11-28", "10:00")
	f.book(t, f.bob, "2024-11-28", "11:00")

	if _, err := f.svc.GetAppointment(context.Background(), a.ID, f.patientActor(f.bob)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if got, err := f.svc.GetAppointment(context.Background(), a.ID, f.admin); err != nil || got.ID != a.ID {
		t.Fatalf("admin read failed: %v", err)
	}

	mine, err := f.svc.ListAppointments(context.Background(), f.patientActor(f.alice), ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("patient should only see own records, got %d", len(mine))
	}

	theirs, err := f.svc.ListAppointments(context.Background(), f.doctorActor(), ListFilter{Limit: 500})
	if err != nil || len(theirs) != 2 {
		t.Fatalf("doctor should see both records, got %d, %v", len(theirs), err)
	}

	if _, err := f.svc.ListAppointments(context.Background(), f.admin, ListFilter{Date: "28-11-2024"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}

func TestCheckSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.alice, "2024-11-28", "10:00")

	report, err := f.svc.CheckSlot(context.Background(), f.doctor.ID, "2024-11-28", "10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Available || report.NextAvailable == nil || *report.NextAvailable.AvailableTime != "10:30" {
		t.Fatalf("unexpected report %+v", report)
	}

	report, err = f.svc.CheckSlot(context.Background(), f.doctor.ID, "2024-11-28", "15:00")
	if err != nil || !report.Available || report.NextAvailable != nil {
		t.Fatalf("free slot should report available, got %+v, %v", report, err)
	}

	if _, err := f.svc.CheckSlot(context.Background(), uuid.New(), "2024-11-28", "10:00"); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}
}

type slowDoctorRepo struct {
	Repository
	calls atomic.Int32
}

func (r *slowDoctorRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.calls.Add(1)
	return nil, context.DeadlineExceeded
}

func TestTransientReadsAreRetried(t *testing.T) {
	var slow *slowDoctorRepo
	f := newFixtureWith(t, NewMemoryRepository(), nil, func(r Repository) Repository {
		slow = &slowDoctorRepo{Repository: r}
		return slow
	})

	_, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.alice), f.request("2024-11-28", "10:00"))
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected transient store error, got %v", err)
	}
	if got := slow.calls.Load(); got != 3 {
		t.Fatalf("doctor lookup attempts=%d, want 3", got)
	}
}

type failingCreateRepo struct {
	Repository
	calls atomic.Int32
}

func (r *failingCreateRepo) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.calls.Add(1)
	return nil, context.DeadlineExceeded
}

func TestWritesAreNotRetried(t *testing.T) {
	var failing *failingCreateRepo
	f := newFixtureWith(t, NewMemoryRepository(), nil, func(r Repository) Repository {
		failing = &failingCreateRepo{Repository: r}
		return failing
	})

	_, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.alice), f.request("2024-11-28", "10:00"))
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected transient store error, got %v", err)
	}
	if got := failing.calls.Load(); got != 1 {
		t.Fatalf("create attempts=%d, want 1", got)
	}
}

func TestSlotLockContentionIsAConflict(t *testing.T) {
	locker := fakeLocker{withLockFn: func(context.Context, string, func(context.Context) error) error {
		return redisclient.ErrLockNotAcquired
	}}
	f := newFixtureWith(t, NewMemoryRepository(), locker)

	_, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.alice), f.request("2024-11-28", "10:00"))
	var conflict *SchedulingConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected scheduling conflict, got %v", err)
	}
	next := conflict.NextAvailable
	if next.AvailableTime == nil || *next.AvailableDate != "2024-11-28" || *next.AvailableTime != "10:30" {
		t.Fatalf("held slot must not be suggested back, got %+v", next)
	}
}

func TestSlotLockOutageFallsBackToStore(t *testing.T) {
	var keys []string
	locker := fakeLocker{withLockFn: func(_ context.Context, key string, _ func(context.Context) error) error {
		keys = append(keys, key)
		return redisclient.ErrLockUnavailable
	}}
	f := newFixtureWith(t, NewMemoryRepository(), locker)

	appt, err := f.svc.CreateAppointment(context.Background(), f.patientActor(f.alice), f.request("2024-11-28", "10:00"))
	if err != nil {
		t.Fatalf("booking should proceed without the lock: %v", err)
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("status=%s", appt.Status)
	}
	if len(keys) != 1 || keys[0] != redisclient.SlotKey(f.doctor.ID, "2024-11-28", "10:00") {
		t.Fatalf("unexpected lock keys %v", keys)
	}
}
