// AFI Assist - chat gateway server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afi-assist/assist-gateway/internal/api"
	"github.com/afi-assist/assist-gateway/internal/assistant"
	"github.com/afi-assist/assist-gateway/internal/chatws"
	"github.com/afi-assist/assist-gateway/internal/config"
	"github.com/afi-assist/assist-gateway/internal/convlog"
	"github.com/afi-assist/assist-gateway/internal/health"
	"github.com/afi-assist/assist-gateway/internal/metrics"
	"github.com/afi-assist/assist-gateway/internal/middleware"
	"github.com/afi-assist/assist-gateway/internal/notify"
	"github.com/afi-assist/assist-gateway/internal/orchestrator"
	"github.com/afi-assist/assist-gateway/internal/reply"
	"github.com/afi-assist/assist-gateway/internal/store"
	"github.com/afi-assist/assist-gateway/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "session_store", cfg.Session.Store)

	sessions, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	var recorder *metrics.Recorder
	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewRecorder(registry)
	}

	conversationLog, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	dispatcher := notify.NewDispatcher(notify.Config{
		Destinations: cfg.Webhooks.Destinations(),
		Timeout:      cfg.DeliveryTimeout,
		Source:       cfg.NotifySource,
		Metrics:      recorder,
		Logger:       logger,
	})

	client := assistant.NewOpenAIClient(assistant.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		AssistantID: cfg.OpenAI.AssistantID,
		BaseURL:     cfg.OpenAI.BaseURL,
	}, logger)

	orch := orchestrator.New(orchestrator.Config{
		PollInterval: cfg.Run.PollInterval,
		Deadline:     cfg.Run.Deadline,
		CancelGrace:  cfg.Run.CancelGrace,
		SettleDelay:  cfg.Run.SettleDelay,
		AutoTrigger:  cfg.AutoTriggerWebhook,
	}, orchestrator.Deps{
		Client:   client,
		Sessions: sessions,
		Notifier: dispatcher,
		ConvLog:  conversationLog,
		Metrics:  recorder,
		Renderer: reply.NewRenderer(),
		Logger:   logger,
	})

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	conns := chatws.NewRegistry()
	wsHandler := chatws.NewHandler(orch, conns, cfg.CORSOrigins, logger)
	wsHandler.SetLimiter(limiter)

	apiHandler := api.NewHandler(orch, dispatcher, limiter, logger)
	apiHandler.SetWebSocket(wsHandler)

	spa, err := web.Handler()
	if err != nil {
		slog.Error("Failed to load embedded frontend", "error", err)
		os.Exit(1)
	}

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	apiHandler.RegisterRoutes(r)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}
	r.Handle("/*", spa)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /api/ws connections stay open across turns
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := store.NewSweeper(sessions, store.SweeperConfig{
		TTL:      cfg.Session.TTL,
		Interval: cfg.Session.SweepInterval,
		OnExpire: func(threadID string) {
			conns.CloseThread(threadID)
			orch.Forget(threadID)
		},
		Logger: logger,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	var grpcHealth *health.Server
	if cfg.GRPCHealthAddr != "" {
		grpcHealth = health.New(logger)
		go func() {
			if err := grpcHealth.ListenAndServe(cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	if grpcHealth != nil {
		grpcHealth.SetServing(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.Deadline+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config) (store.SessionStore, error) {
	if cfg.Session.Store != config.StoreSQLite {
		return store.NewMemory(), nil
	}

	s, err := store.NewSQLite(cfg.Session.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	slog.Info("Session database ready", "path", cfg.Session.DBPath)
	return s, nil
}
