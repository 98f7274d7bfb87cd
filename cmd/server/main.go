package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"huddle/internal/core/services"
	httphandlers "huddle/internal/handlers/http"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories/memory"
	signalgw "huddle/internal/infrastructure/signal"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// deferredSender forwards to the gateway once it exists. The services need an
// event sender at construction time, but the gateway needs the services.
type deferredSender struct {
	sender ports.EventSender
}

func (d *deferredSender) set(s ports.EventSender) { d.sender = s }

func (d *deferredSender) Send(id domain.ConnectionID, event string, payload any) error {
	return d.sender.Send(id, event, payload)
}

func (d *deferredSender) IsConnected(id domain.ConnectionID) bool {
	return d.sender.IsConnected(id)
}

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/huddle/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "huddle",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories and services
	meetingRepo := memory.NewMemoryMeetingRepository()

	collector := monitoring.NewPrometheusCollector()
	metricsService := services.NewMetricsService(collector)
	registryService := services.NewRegistryService(meetingRepo, log)

	// The gateway is built after the services it dispatches to, but the
	// services need the gateway as their event sender; wire through a
	// forwarding sender to break the cycle.
	sender := &deferredSender{}
	roomService := services.NewRoomService(meetingRepo, sender, metricsService, log)
	relayService := services.NewRelayService(roomService, sender, metricsService, log)

	gateway := signalgw.NewGateway(cfg, roomService, relayService, collector, log)
	sender.set(gateway)

	// HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	meetingHandler := httphandlers.NewMeetingHandler(registryService, metricsService)

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		validator := middleware.NewTokenValidator(cfg.Auth.JWTSecret)
		api.Use(middleware.AuthMiddleware(validator))
	}
	meetingHandler.SetupRoutes(api)

	router.GET("/ws", func(c *gin.Context) {
		gateway.HandleWebSocket(c.Writer, c.Request)
	})

	healthHandler := monitoring.NewHealthHandler(gateway)
	router.GET("/health", healthHandler.Health)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Expiry sweeper
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Expiry.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := registryService.Expire(sweepCtx, utils.Now()); err != nil {
					log.Errorw("expiry sweep failed", "error", err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Huddle server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Huddle server...")
	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("Huddle server stopped")
}
