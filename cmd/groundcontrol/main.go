package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/GroundControl/internal/adapter/eventbus"
	gchttp "github.com/Strob0t/GroundControl/internal/adapter/http"
	gcmcp "github.com/Strob0t/GroundControl/internal/adapter/mcp"
	gcnats "github.com/Strob0t/GroundControl/internal/adapter/nats"
	"github.com/Strob0t/GroundControl/internal/adapter/natskv"
	gcotel "github.com/Strob0t/GroundControl/internal/adapter/otel"
	"github.com/Strob0t/GroundControl/internal/adapter/postgres"
	gcredis "github.com/Strob0t/GroundControl/internal/adapter/redis"
	gcristretto "github.com/Strob0t/GroundControl/internal/adapter/ristretto"
	"github.com/Strob0t/GroundControl/internal/adapter/tiered"
	"github.com/Strob0t/GroundControl/internal/adapter/ws"
	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/logger"
	"github.com/Strob0t/GroundControl/internal/middleware"
	"github.com/Strob0t/GroundControl/internal/port/cache"
	"github.com/Strob0t/GroundControl/internal/port/notifier"
	"github.com/Strob0t/GroundControl/internal/resilience"
	"github.com/Strob0t/GroundControl/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	eventBufferSize     = 1024
	alertBufferSize     = 64
	shutdownTimeout     = 10 * time.Second
	rateCleanupInterval = time.Minute
	rateMaxIdle         = 10 * time.Minute
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"version", version,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auto_execute_threshold", cfg.Decision.AutoExecuteRiskThreshold,
		"confirmation_timeout", cfg.Decision.ConfirmationTimeout,
		"cache_l2", cfg.Cache.L2Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := gcotel.Setup(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := gcotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := gcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	stores, err := newCaches(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer stores.close()

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	store := postgres.NewStore(pool)

	fleetSvc := service.NewFleetService(store, hub)
	fleetSvc.SetQueue(queue)
	fleetSvc.SetMetrics(metrics)

	contexts := service.NewContextCache(fleetSvc, cfg.Decision.ContextCacheTTL)
	contexts.SetShared(stores.contexts)
	contexts.SetMetrics(metrics)
	fleetSvc.SetContextInvalidator(contexts)

	dispatcher := service.NewDispatcher(
		gcnats.NewLink(queue, cfg.Dispatch.SubjectPrefix),
		cfg.Dispatch,
		service.NewLinkBreakers(cfg.Breaker),
	)
	dispatcher.SetMetrics(metrics)

	notifications, err := newNotificationService(cfg.Notify)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	// Webhook alerts run on their own worker, behind the main bus.
	alerts := eventbus.NewAsync(alertBufferSize, notifications)
	defer alerts.Close()

	bus := eventbus.NewAsync(eventBufferSize,
		hub,
		gcnats.NewOutcomePublisher(queue),
		eventbus.NewStoreSink(postgres.NewEventStore(pool)),
		alerts,
	)
	defer bus.Close()

	engine := service.NewDecisionEngine(cfg.Decision, service.EngineDeps{
		Contexts:   contexts,
		Evaluator:  service.NewRiskEvaluator(cfg.Risk),
		Dispatcher: dispatcher,
		Ledger:     service.NewLedger(cfg.Decision.HistoryLimit),
		Publisher:  bus,
		Registry:   fleetSvc,
		Archive:    postgres.NewRecordArchive(pool),
	})
	engine.SetMetrics(metrics)

	cancelTelemetry, err := fleetSvc.StartTelemetrySubscriber(ctx)
	if err != nil {
		return fmt.Errorf("telemetry subscriber: %w", err)
	}
	defer cancelTelemetry()

	// --- HTTP ---

	handlers := &gchttp.Handlers{
		Engine: engine,
		Fleet:  fleetSvc,
	}

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate)
	limiter.StartCleanup(ctx, rateCleanupInterval, rateMaxIdle)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	r.Use(chimw.Recoverer)
	r.Use(gchttp.Logger)
	r.Use(gchttp.SecurityHeaders)
	r.Use(gchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(gcotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)

	r.Get("/health", healthHandler(pool, queue))

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.Server.APIKey))
		r.Use(middleware.Idempotency(stores.idempotency, cfg.Cache.IdempotencyTTL, cfg.Cache.IdempotencyClaimTTL))

		r.Get("/ws", hub.HandleWS)
		gchttp.MountRoutes(r, handlers)
	})

	if cfg.MCP.Enabled {
		mcpSrv := gcmcp.NewServer(gcmcp.ServerConfig{
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, gcmcp.ServerDeps{
			Decisions: engine,
			Fleet:     fleetSvc,
		})
		r.Handle(gcmcp.EndpointPath, mcpSrv.Handler())
		slog.Info("mcp endpoint enabled", "path", gcmcp.EndpointPath)
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		engine.Shutdown()
		return err
	})
	return g.Wait()
}

// caches holds the context snapshot cache and the Idempotency-Key store.
type caches struct {
	contexts    cache.Cache
	idempotency cache.Reserver
	close       func()
}

// newCaches builds a ristretto L1 in front of the configured L2 for context
// snapshots, and a separate shared store for Idempotency-Key claims: its own
// NATS KV bucket, or the Redis client under the idempotency: prefix.
func newCaches(ctx context.Context, cfg *config.Config, queue *gcnats.Queue) (*caches, error) {
	l1, err := gcristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	closeL1 := func() {
		s := l1.Stats()
		slog.Info("l1 cache closed", "hits", s.Hits, "misses", s.Misses, "rejected", s.Rejected, "evicted", s.Evicted)
		l1.Close()
	}

	var (
		l2          cache.Cache
		idempotency cache.Reserver
		closeL2     = func() {}
	)
	if cfg.Cache.L2Backend == "redis" {
		rc, err := gcredis.Connect(ctx, cfg.Redis)
		if err != nil {
			closeL1()
			return nil, fmt.Errorf("redis: %w", err)
		}
		l2, idempotency = rc, rc
		closeL2 = func() { _ = rc.Close() }
	} else {
		claims, err := queue.ClaimKeyValue(ctx, cfg.Cache.IdempotencyBucket, cfg.Cache.IdempotencyTTL)
		if err != nil {
			closeL1()
			return nil, fmt.Errorf("idempotency kv: %w", err)
		}
		idempotency = natskv.New(claims, natskv.WithKeyTTL())
	}
	if cfg.Cache.L2Backend == "natskv" {
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			closeL1()
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		l2 = natskv.New(kv)
	}

	c := &caches{idempotency: idempotency, close: func() {
		closeL2()
		closeL1()
	}}
	if l2 == nil {
		slog.Info("cache l2 disabled")
		c.contexts = l1
		return c, nil
	}
	slog.Info("cache ready", "l1_max_mb", cfg.Cache.L1MaxSizeMB, "l2", cfg.Cache.L2Backend)
	c.contexts = tiered.New(l1, l2,
		tiered.WithL1TTL(cfg.Decision.ContextCacheTTL),
		tiered.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
	)
	return c, nil
}

// newNotificationService builds the operator alert sink from the configured
// webhooks. Providers resolve through the notifier registry.
func newNotificationService(cfg config.Notify) (*service.NotificationService, error) {
	notifiers, err := notifier.Build(map[string]string{
		"slack":   cfg.SlackWebhookURL,
		"discord": cfg.DiscordWebhookURL,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("operator alerts", "notifiers", len(notifiers), "providers", notifier.Providers(), "events", cfg.Events)
	return service.NewNotificationService(notifiers, cfg.Events, cfg.SendTimeout), nil
}

// healthHandler reports dependency status. It answers 503 when a dependency is down.
func healthHandler(pool *pgxpool.Pool, queue *gcnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Version: version, Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			status.Postgres = "unavailable"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.NATS = "unavailable"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
