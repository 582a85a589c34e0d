package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/blume/blume/internal/config"
	"github.com/blume/blume/internal/domain/billing"
	"github.com/blume/blume/internal/domain/rescheduling"
	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/httpx"
	"github.com/blume/blume/internal/platform/middleware"
	"github.com/blume/blume/internal/platform/notification"
	"github.com/blume/blume/internal/platform/worker"
)

const version = "0.1.0"

// stores bundles the persistence the services run on.
type stores struct {
	appts         scheduling.AppointmentRepository
	windows       scheduling.WindowRepository
	payments      billing.PaymentRepository
	requests      rescheduling.RequestRepository
	notifications notification.Store
	tx            db.Transactor
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		appts:         scheduling.NewAppointmentRepoPG(pool),
		windows:       scheduling.NewWindowRepoPG(pool),
		payments:      billing.NewPaymentRepoPG(pool),
		requests:      rescheduling.NewRequestRepoPG(pool),
		notifications: notification.NewStorePG(pool),
		tx:            db.NewTransactor(pool),
	}
}

type app struct {
	sched         *scheduling.Service
	billing       *billing.Service
	resched       *rescheduling.Service
	notifications notification.Store
}

// newApp wires the services. publisher may be nil.
func newApp(cfg *config.Config, st stores, publisher notification.Publisher, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	fee, err := cfg.ConsultationFee()
	if err != nil {
		return nil, err
	}
	dispatcher := notification.NewDispatcher(st.notifications, publisher, nil)

	sched := scheduling.NewService(st.appts, st.windows, st.tx, dispatcher, logger, scheduling.Options{
		Location:            loc,
		PatientCancelNotice: time.Duration(cfg.PatientCancelNoticeHours) * time.Hour,
		DefaultCost:         fee,
	})
	bill := billing.NewService(st.payments, st.appts, &billing.SimulatedGateway{}, st.tx, dispatcher, logger)
	resched := rescheduling.NewService(st.requests, st.appts, sched, bill, st.tx, dispatcher, logger, rescheduling.Options{
		SearchDays:   cfg.RescheduleSearchDays,
		FallbackHour: cfg.RescheduleFallbackHour,
	})
	sched.AddObserver(resched)

	return &app{sched: sched, billing: bill, resched: resched, notifications: st.notifications}, nil
}

// router builds the HTTP surface. checks feed /health/ready.
func (a *app) router(cfg *config.Config, logger zerolog.Logger, checks ...db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpx.NewValidator()
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/ready", db.ReadinessHandler(checks...))

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl))

	scheduling.NewHandler(a.sched).RegisterRoutes(api)
	billing.NewHandler(a.billing).RegisterRoutes(api)
	rescheduling.NewHandler(a.resched).RegisterRoutes(api)
	notification.NewHandler(a.notifications).RegisterRoutes(api)
	return e
}

// schedule registers the periodic jobs of the core on w.
func (a *app) schedule(cfg *config.Config, w *worker.Worker) error {
	horizon := time.Duration(cfg.ReminderHorizonHours) * time.Hour
	if err := w.Add(cfg.ReminderCron, worker.Job{
		Name: "reminders",
		Run:  func(ctx context.Context) (int, error) { return a.sched.SendReminders(ctx, horizon) },
	}); err != nil {
		return err
	}
	if err := w.Add(cfg.RefundRetryCron, worker.Job{
		Name: "refund-retry",
		Run:  a.resched.RetryRefunds,
	}); err != nil {
		return err
	}
	return w.Add(cfg.PaymentRecoveryCron, worker.Job{
		Name: "payment-recovery",
		Run:  a.billing.RecoverProcessing,
	})
}
