package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/metric"

	"bfintake/internal/config"
	apierrors "bfintake/internal/errors"
	"bfintake/internal/files"
	"bfintake/internal/infrastructure"
	customMiddleware "bfintake/internal/middleware"
	"bfintake/internal/operations"
	"bfintake/internal/services"
	handlers "bfintake/internal/transport/http"
	ws "bfintake/internal/websocket"
	"bfintake/pkg/contracts"
)

// AppName is logged at startup.
const AppName = "Betfair Intake Pipeline"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Cache         *files.Manager
	Pipeline      *operations.Pipeline
	WebSocketHub  *ws.Hub
	HealthService *services.HealthService

	cacheGauges metric.Registration
}

// NewApplication loads configuration, initializes the logger and wires the
// application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(ctx, cfg, logger)
}

// New wires an Application from an already loaded configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("storage_backend", cfg.Storage.Backend))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeServices(ctx); err != nil {
		a.release(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		a.release(ctx)
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	a.createServer()

	return a, nil
}

// initializeServices opens the cache and builds the pipeline, hub and health
// service.
func (a *Application) initializeServices(ctx context.Context) error {
	cache, err := files.OpenManager(ctx, a.Config.Storage, a.Config.Pipeline, a.Logger)
	if err != nil {
		return err
	}
	a.Cache = cache

	meter := a.OTelProviders.Meter

	pipelineMetrics, err := infrastructure.NewPipelineMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	a.cacheGauges, err = infrastructure.RegisterCacheGauges(meter, cache.Status)
	if err != nil {
		return fmt.Errorf("failed to register cache gauges: %w", err)
	}

	wsMetrics, err := ws.NewOTelMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, ws.WithMetrics(wsMetrics))
	a.WebSocketHub.Start()

	a.Pipeline = operations.NewPipeline(cache, a.Logger,
		operations.WithHub(a.WebSocketHub),
		operations.WithTelemetry(a.OTelProviders.Tracer, pipelineMetrics),
		operations.WithConfig(operations.ConfigFrom(a.Config.Pipeline)),
	)

	a.HealthService = services.NewHealthService(contracts.Version, a.Pipeline, a.WebSocketHub, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	// RequestID → RealIP → OTel → Logger → Recoverer
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// The upgrade needs the raw ResponseWriter, so /ws sits before the
	// wrapping middleware.
	wsHandler := ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger)
	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).Handle("/ws", wsHandler)

	// Prometheus scrapes stay outside the instrumented group
	r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter, a.Logger)
	if err != nil {
		return err
	}

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}
		r.Use(customMiddleware.BodyLimit(a.Config.Server.MaxUploadBytes))
		if a.Config.Server.RequestTimeout > 0 {
			r.Use(chimw.Timeout(a.Config.Server.RequestTimeout))
		}

		healthHandler := handlers.NewHealthHandler(a.HealthService, errorHandler, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Get("/version", healthHandler.Version)
			r.Mount("/health", healthHandler.Routes())

			validator := customMiddleware.NewValidator(a.Logger)
			intakeHandler := handlers.NewIntakeHandler(a.Pipeline, validator, errorHandler, a.Logger)
			r.Mount("/", intakeHandler.Routes())
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
	return nil
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"If-None-Match",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"ETag",
			"X-Request-ID",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start begins serving in the background. A listener failure calls cancel so
// Run can shut down instead of the process exiting.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Server.Addr))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	if err := a.release(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// release stops the hub and closes the cache and telemetry providers.
func (a *Application) release(ctx context.Context) error {
	var errs []error
	if a.WebSocketHub != nil {
		a.WebSocketHub.Stop()
	}
	if a.cacheGauges != nil {
		if err := a.cacheGauges.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("cache gauges: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run serves until SIGINT, SIGTERM or a listener failure, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.InfoContext(ctx, "Received shutdown signal")

	return a.Stop(ctx)
}

// performStartupHealthCheck verifies the cache backend answers before
// traffic arrives.
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	ready := a.HealthService.ReadinessCheck(ctx)
	if ready.Status == "ready" {
		return nil
	}
	var failed []string
	for name, v := range ready.Services {
		if check, ok := v.(services.ServiceHealth); ok && check.Status != "ready" {
			failed = append(failed, fmt.Sprintf("%s: %s", name, check.Message))
		}
	}
	return fmt.Errorf("not ready: %s", strings.Join(failed, "; "))
}
