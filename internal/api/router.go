package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/api/handlers"
	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/render"
	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/cache"
	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/email"
	"github.com/Togather-Foundation/eventbook/internal/jobs"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/Togather-Foundation/eventbook/internal/storage/postgres"
	"github.com/Togather-Foundation/eventbook/internal/tickets"
	"github.com/Togather-Foundation/eventbook/web"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

const jwtIssuer = auth.Issuer

// Router is the HTTP handler plus the background components that share its
// lifetime. The caller starts RiverClient and AuditRecorder and calls Close on
// shutdown.
type Router struct {
	Handler       http.Handler
	RiverClient   *river.Client[pgx.Tx]
	AuditRecorder *audit.Recorder
	Users         *users.Service

	closers []func()
}

// Close releases the rate limiter and the idempotency store.
func (r *Router) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// NewRouter builds every service on top of pool and mounts the API.
func NewRouter(ctx context.Context, cfg config.Config, logger zerolog.Logger, pool *pgxpool.Pool, info BuildInfo) (*Router, error) {
	info = info.withDefaults()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return nil, fmt.Errorf("repository init: %w", err)
	}

	tokens, err := auth.NewJWTManagerFromSecret(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, jwtIssuer)
	if err != nil {
		return nil, fmt.Errorf("jwt manager: %w", err)
	}
	signer, err := tickets.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	mailer, err := email.NewService(cfg.Email, logger)
	if err != nil {
		return nil, err
	}

	policy := jobs.NewRetryPolicy(cfg.Jobs.NotificationRetry)
	clientOpts := jobs.ClientOptions{
		Logger: config.NewSlogLogger(cfg.Logging),
		Policy: policy,
	}
	if cfg.Jobs.Enabled {
		clientOpts.Workers = jobs.NewWorkers(jobs.WorkerDeps{
			Bookings:      repo.Bookings(),
			Mailer:        mailer,
			AccountMailer: mailer,
			Tickets:       signer,
			// Sweeping only rewrites statuses, so it needs no notifier.
			Sweeper: events.NewAdminService(repo.Events(), nil, logger),
			BaseURL: cfg.Server.BaseURL,
			Logger:  clientOpts.Logger,
		})
		clientOpts.PeriodicJobs = jobs.NewPeriodicJobs(cfg.Jobs.EventSweepInterval, policy)
	}
	riverClient, err := jobs.NewClient(pool, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	notifier := jobs.NewEnqueuer(riverClient, policy)

	router := &Router{
		RiverClient:   riverClient,
		AuditRecorder: audit.NewRecorder(repo.Audit(), cfg.Audit.BufferSize, logger),
		Users:         users.NewService(repo.Users(), notifier, cfg.Server.BaseURL, logger),
	}

	store := newIdempotencyStore(ctx, cfg.Redis, logger, router)

	pages, err := render.NewPages(render.DefaultSiteName)
	if err != nil {
		return nil, fmt.Errorf("page templates: %w", err)
	}

	health := handlers.NewHealthChecker(pool, cfg.Jobs.Enabled, info.Version, info.GitCommit)
	if pinger, ok := store.(handlers.Pinger); ok {
		health.WithRedis(pinger)
	}

	eventService := events.NewService(repo.Events())
	deps := Dependencies{
		Users:       router.Users,
		Events:      eventService,
		EventAdmin:  events.NewAdminService(repo.Events(), notifier, logger),
		Bookings:    bookings.NewService(repo.Bookings(), notifier, signer, logger),
		Audit:       audit.NewService(repo.Audit()),
		AuditSink:   router.AuditRecorder,
		Idempotency: store,
		Tokens:      tokens,
		Health:      health,
		Pages:       pages,
		Build:       info,
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Environment)
	router.closers = append(router.closers, limiter.Stop)
	router.Handler = NewHandler(cfg, logger, deps, limiter)
	return router, nil
}

func newIdempotencyStore(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger, router *Router) cache.IdempotencyStore {
	if cfg.URL == "" {
		logger.Info().Msg("REDIS_URL not set; idempotency keys kept in memory")
		return cache.NewMemoryStore(cfg.TTL)
	}
	store, err := cache.NewRedisStore(ctx, cfg.URL, cfg.TTL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable; idempotency keys kept in memory")
		return cache.NewMemoryStore(cfg.TTL)
	}
	router.closers = append(router.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close failed")
		}
	})
	return store
}

// Dependencies are the services behind the HTTP surface.
type Dependencies struct {
	Users       handlers.UserService
	Events      handlers.EventReader
	EventAdmin  handlers.EventAdmin
	Bookings    handlers.BookingService
	Audit       handlers.AuditReader
	AuditSink   middleware.AuditSink
	Idempotency cache.IdempotencyStore
	Tokens      *auth.JWTManager
	Health      *handlers.HealthChecker
	Pages       *render.Pages
	Build       BuildInfo
}

// NewHandler mounts every route on a ServeMux and wraps it in the global
// middleware chain.
func NewHandler(cfg config.Config, logger zerolog.Logger, deps Dependencies, limiter *middleware.RateLimiter) http.Handler {
	env := cfg.Environment

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Tokens, env)
	usersHandler := handlers.NewUsersHandler(deps.Users, env)
	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.EventAdmin, deps.Bookings, env)
	bookingsHandler := handlers.NewBookingsHandler(deps.Bookings, deps.Idempotency, cfg.Server.BaseURL, env)
	auditHandler := handlers.NewAuditHandler(deps.Audit, env)
	pagesHandler := handlers.NewPublicPagesHandler(deps.Events, deps.Pages, env)

	authed := middleware.JWTAuth(deps.Tokens, env)
	optional := middleware.OptionalAuth(deps.Tokens)
	withPerm := func(perm auth.Permission, h http.HandlerFunc) http.Handler {
		return chain(h, authed, middleware.RequirePermission(perm, env))
	}
	bearer := func(h http.HandlerFunc) http.Handler { return chain(h, authed) }

	mux := http.NewServeMux()

	// Operations
	mux.Handle("GET /healthz", handlers.Healthz())
	if deps.Health != nil {
		mux.Handle("GET /readyz", deps.Health.Readyz())
	}
	mux.Handle("GET /version", VersionHandler(deps.Build))
	mux.Handle("GET /openapi.json", OpenAPIHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("GET /robots.txt", web.RobotsTxtHandler())

	// Auth
	mux.Handle("POST /auth/register", chain(http.HandlerFunc(authHandler.Register), limiter.Limit(middleware.TierRegistration)))
	mux.Handle("POST /auth/login", chain(http.HandlerFunc(authHandler.Login), limiter.Limit(middleware.TierLogin)))
	mux.Handle("GET /auth/me", bearer(authHandler.Me))
	mux.Handle("PATCH /auth/me", bearer(authHandler.UpdateMe))
	mux.Handle("POST /auth/change-password", bearer(authHandler.ChangePassword))
	mux.Handle("POST /auth/verify-email", http.HandlerFunc(authHandler.VerifyEmail))
	mux.Handle("POST /auth/resend-verification", bearer(authHandler.ResendVerification))
	mux.Handle("POST /auth/forgot-password", chain(http.HandlerFunc(authHandler.ForgotPassword), limiter.Limit(middleware.TierPasswordReset)))
	mux.Handle("POST /auth/reset-password", chain(http.HandlerFunc(authHandler.ResetPassword), limiter.Limit(middleware.TierPasswordReset)))

	// Users
	mux.Handle("GET /users", withPerm(auth.PermUsersManage, usersHandler.List))
	mux.Handle("POST /users", withPerm(auth.PermUsersManage, usersHandler.Create))
	mux.Handle("GET /users/{id}", withPerm(auth.PermUsersManage, usersHandler.Get))
	mux.Handle("PATCH /users/{id}", withPerm(auth.PermUsersManage, usersHandler.Update))
	mux.Handle("DELETE /users/{id}", withPerm(auth.PermUsersManage, usersHandler.Delete))

	// Events
	mux.Handle("GET /events", chain(http.HandlerFunc(eventsHandler.List), optional))
	mux.Handle("POST /events", withPerm(auth.PermEventsWrite, eventsHandler.Create))
	mux.Handle("GET /events/{id}", chain(http.HandlerFunc(eventsHandler.Get), optional))
	mux.Handle("PATCH /events/{id}", withPerm(auth.PermEventsWrite, eventsHandler.Update))
	mux.Handle("DELETE /events/{id}", withPerm(auth.PermEventsWrite, eventsHandler.Delete))
	mux.Handle("GET /events/{id}/bookings", withPerm(auth.PermBookingsManage, eventsHandler.Bookings))

	// Bookings
	mux.Handle("POST /bookings", chain(http.HandlerFunc(bookingsHandler.Create), authed, middleware.Idempotency(env)))
	mux.Handle("GET /bookings", bearer(bookingsHandler.List))
	mux.Handle("GET /bookings/{id}", bearer(bookingsHandler.Get))
	mux.Handle("POST /bookings/{id}/confirm", withPerm(auth.PermBookingsManage, bookingsHandler.Confirm))
	mux.Handle("POST /bookings/{id}/refuse", withPerm(auth.PermBookingsManage, bookingsHandler.Refuse))
	mux.Handle("POST /bookings/{id}/cancel", bearer(bookingsHandler.Cancel))
	mux.Handle("GET /bookings/{id}/ticket-token", bearer(bookingsHandler.TicketToken))
	mux.Handle("GET /bookings/{id}/ticket", http.HandlerFunc(bookingsHandler.Ticket))
	mux.Handle("GET /bookings/{id}/ticket/verify", http.HandlerFunc(bookingsHandler.VerifyTicket))

	// Audit
	mux.Handle("GET /audit", withPerm(auth.PermAuditRead, auditHandler.List))
	mux.Handle("GET /audit/{id}", withPerm(auth.PermAuditRead, auditHandler.Get))

	// Public pages
	if deps.Pages != nil {
		mux.Handle("GET /{$}", http.HandlerFunc(pagesHandler.Index))
		mux.Handle("GET /e/{id}", http.HandlerFunc(pagesHandler.Event))
	}

	var handler http.Handler = middleware.CaptureRoute(mux)
	handler = middleware.Audit(deps.AuditSink, deps.Tokens)(handler)
	handler = middleware.RequestSize(middleware.DefaultMaxBodySize, env)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CORS(cfg.CORS, logger)(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.CorrelationID(logger)(handler)
	return handler
}

// chain applies middleware so the first one listed runs first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
