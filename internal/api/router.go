package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle-engine/internal/appointment"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, actor appointment.Actor, req appointment.CreateRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime string, actor appointment.Actor) (*appointment.RescheduleResult, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, actor appointment.Actor) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, filter appointment.ListFilter) ([]appointment.Appointment, error)
	CheckSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*appointment.SlotReport, error)
}

type RouterConfig struct {
	Service   AppointmentService
	Health    *HealthHandler
	JWTSecret string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Service))
			r.Get("/", listAppointmentsHandler(cfg.Service))
			r.Get("/{id}", getAppointmentHandler(cfg.Service))
			r.Put("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
			r.Put("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
			r.Put("/{id}/complete", completeAppointmentHandler(cfg.Service))
			r.Put("/{id}/no-show", noShowAppointmentHandler(cfg.Service))
		})

		r.Get("/doctors/{id}/availability", doctorAvailabilityHandler(cfg.Service))
	})

	return r
}
