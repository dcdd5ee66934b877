package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryRepositoryActiveSlotIsExclusive(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	first := seedScheduled(t, repo, doctorID, "2024-11-28", "10:00")

	dup := *first
	dup.ID = uuid.New()
	if _, err := repo.CreateAppointment(context.Background(), &dup); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	// once the holder leaves the scheduled state the slot can be claimed again
	_, err := repo.TransitionAppointment(context.Background(), first.ID, Transition{
		From: StatusScheduled, To: StatusCancelled, At: time.Now(), CancellationReason: "test",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := repo.CreateAppointment(context.Background(), &dup); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}

	times, _ := repo.ListBookedTimes(context.Background(), doctorID, "2024-11-28")
	if len(times) != 1 || times[0] != "10:00" {
		t.Fatalf("booked times=%v", times)
	}
}

func TestMemoryRepositoryRejectsUnpaidScheduled(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.CreateAppointment(context.Background(), &Appointment{
		ID:       uuid.New(),
		DoctorID: uuid.New(),
		Date:     "2024-11-28",
		Time:     "10:00",
		Status:   StatusScheduled,
		Payment:  Payment{Status: PaymentPending},
	})
	if err == nil {
		t.Fatal("expected unpaid scheduled appointment to be rejected")
	}
}

func TestMemoryRepositoryTransitionIsConditional(t *testing.T) {
	repo := NewMemoryRepository()
	appt := seedScheduled(t, repo, uuid.New(), "2024-11-28", "10:00")
	ctx := context.Background()

	done := Transition{From: StatusScheduled, To: StatusCompleted, At: time.Now()}
	if _, err := repo.TransitionAppointment(ctx, appt.ID, done); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := repo.TransitionAppointment(ctx, appt.ID, done); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
	if _, err := repo.TransitionAppointment(ctx, uuid.New(), done); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	got, _ := repo.GetAppointmentByID(ctx, appt.ID)
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestMemoryRepositoryRescheduleRollsBack(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	ctx := context.Background()
	orig := seedScheduled(t, repo, doctorID, "2024-11-28", "10:00")
	seedScheduled(t, repo, doctorID, "2024-11-28", "14:00")

	next := *orig
	next.ID = uuid.New()
	next.Time = "14:00"
	t1 := Transition{From: StatusScheduled, To: StatusRescheduled, At: time.Now(), CancellationReason: RescheduledReason, RescheduledToID: &next.ID}

	if _, _, err := repo.RescheduleAppointment(ctx, orig.ID, t1, &next); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	got, _ := repo.GetAppointmentByID(ctx, orig.ID)
	if got.Status != StatusScheduled || got.RescheduledToID != nil {
		t.Fatalf("predecessor should be untouched, got %+v", got)
	}
	if held, err := repo.FindActiveAtSlot(ctx, doctorID, "2024-11-28", "10:00"); err != nil || held.ID != orig.ID {
		t.Fatalf("predecessor should still hold its slot, got %v", err)
	}
	if _, err := repo.GetAppointmentByID(ctx, next.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("successor must not be stored, got %v", err)
	}
}

func TestMemoryRepositoryListPaging(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	for _, clock := range []string{"09:00", "09:30", "10:00", "10:30"} {
		seedScheduled(t, repo, doctorID, "2024-11-28", clock)
	}

	page, err := repo.ListAppointments(context.Background(), ListFilter{DoctorID: &doctorID, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 || page[0].Time != "10:00" || page[1].Time != "09:30" {
		t.Fatalf("unexpected page %+v", page)
	}

	empty, err := repo.ListAppointments(context.Background(), ListFilter{Offset: 10})
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %d, %v", len(empty), err)
	}
}
