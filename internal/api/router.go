package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
)

// AppointmentService is the slice of *appointment.Service the HTTP layer uses.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	SoftDelete(ctx context.Context, id uuid.UUID, actor appointment.Actor) error
	Confirm(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	CheckIn(ctx context.Context, id uuid.UUID, req appointment.CheckInRequest) (*appointment.CheckInResult, error)
	LateCheckIn(ctx context.Context, id uuid.UUID, req appointment.LateCheckInRequest) (*appointment.LateCheckInResult, error)
	Start(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, req appointment.NoShowRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, req appointment.CancelRequest) (*appointment.Appointment, error)
}

type RouterConfig struct {
	Service AppointmentService
	PgPool  *pgxpool.Pool // nil with the memory driver
	Redis   *redis.Client // nil with local locks
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(cfg.Service))
			r.Delete("/", deleteAppointmentHandler(cfg.Service))
			r.Post("/confirm", confirmAppointmentHandler(cfg.Service))
			r.Post("/check-in", checkInHandler(cfg.Service))
			r.Post("/late-check-in", lateCheckInHandler(cfg.Service))
			r.Post("/start", startHandler(cfg.Service))
			r.Post("/complete", completeHandler(cfg.Service))
			r.Post("/no-show", noShowHandler(cfg.Service))
			r.Post("/cancel", cancelHandler(cfg.Service))
		})
	})

	return otelhttp.NewHandler(r, "scheduling-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/metrics" && req.URL.Path != "/health/live"
		}),
	)
}
