package main

import (
	"context"
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

	cfhttp "github.com/Strob0t/StreamForge/internal/adapter/http"
	"github.com/Strob0t/StreamForge/internal/adapter/mcp"
	cfnats "github.com/Strob0t/StreamForge/internal/adapter/nats"
	"github.com/Strob0t/StreamForge/internal/adapter/natskv"
	"github.com/Strob0t/StreamForge/internal/adapter/npm"
	"github.com/Strob0t/StreamForge/internal/adapter/openai"
	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/adapter/postgres"
	"github.com/Strob0t/StreamForge/internal/adapter/ristretto"
	"github.com/Strob0t/StreamForge/internal/adapter/tiered"
	"github.com/Strob0t/StreamForge/internal/adapter/ws"
	"github.com/Strob0t/StreamForge/internal/config"
	"github.com/Strob0t/StreamForge/internal/logger"
	"github.com/Strob0t/StreamForge/internal/middleware"
	"github.com/Strob0t/StreamForge/internal/port/cache"
	"github.com/Strob0t/StreamForge/internal/resilience"
	"github.com/Strob0t/StreamForge/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
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

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"postgres", cfg.Postgres.Enabled,
		"nats", cfg.NATS.Enabled,
		"mcp", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	probes := map[string]cfhttp.Probe{}

	var pool *pgxpool.Pool
	if cfg.Postgres.Enabled {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
		probes["postgres"] = pool.Ping
	}

	var relay *cfnats.Relay
	if cfg.NATS.Enabled {
		relay, err = cfnats.Connect(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := relay.Close(); err != nil {
				slog.Warn("nats close", "error", err)
			}
		}()
		probes["nats"] = relay.Ping
	}

	// L1 ristretto, L2 NATS KV when available.
	l1, err := ristretto.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var l2 cache.Cache
	if relay != nil {
		kv, err := natskv.Open(ctx, relay.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		l2 = kv
	}
	sharedCache := tiered.New(l1, l2, cfg.Cache.L2TTL)

	// --- Execution registry ---

	streams := service.NewStreamManager(cfg.Stream)
	streams.SetMetrics(metrics)

	executions := service.NewExecutionService(streams)
	tombstones := service.NewTombstoneStore(sharedCache, cfg.Cache.TombstoneTTL)
	executions.SetTombstones(tombstones)
	streams.AddStatusListener(tombstones)

	if pool != nil {
		store := postgres.NewEventStore(pool)
		archive := service.NewArchiveSink(store)
		streams.AddSink(archive)
		streams.AddStatusListener(archive)
		executions.SetArchive(store)
	}
	if relay != nil {
		streams.AddSink(relay)
		streams.AddStatusListener(relay)
	}

	// With a relay the hub follows the shared status subject, so clients see
	// executions of every instance.
	hub := ws.NewHub()
	defer hub.Close()
	if relay != nil {
		stopStatus, err := relay.SubscribeStatus(ctx, hub.ExecutionStatusChanged)
		if err != nil {
			return fmt.Errorf("nats status subscription: %w", err)
		}
		defer stopStatus()
	} else {
		streams.AddStatusListener(hub)
	}

	// --- Producers ---

	llmClient := openai.NewClient(cfg.LLM)
	breaker := resilience.NewBreaker("llm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llmClient.SetBreaker(breaker)
	probes["llm"] = breaker.Probe
	toolset := mcp.NewToolset()

	conversations := service.NewConversationService(llmClient, toolset, cfg.LLM.Model, cfg.LLM.MaxToolRounds)
	conversations.SetMetrics(metrics)

	specs := service.NewSpecService(llmClient, cfg.LLM.SpecModel, toolset)

	previews := cfhttp.NewPreviews(cfg.Deploy.PreviewPrefix)
	deploys := service.NewDeployService(cfg.Deploy.WorkDir, npm.NewRunner(cfg.Deploy.NPM), previews, npm.NewPool(cfg.Deploy.MaxConcurrent))
	deploys.SetMetrics(metrics)

	executions.SetProducers(deploys, conversations, specs)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Executions: executions,
		Tools:      toolset,
		Previews:   previews,
		Probes:     probes,
		Version:    version,
	}

	opts := cfhttp.RouteOptions{
		Idempotency: middleware.Idempotency(sharedCache, cfg.Idempotency.TTL),
		WS:          hub.HandleWS,
	}
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Name:    cfg.MCP.Name,
			Version: cfg.MCP.Version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{Executions: executions, Toolset: toolset})
		opts.MCP = mcpSrv.Handler()
	}

	limiter := middleware.NewRateLimiter(cfg.Rate)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(limiter.Handler)
	cfhttp.MountRoutes(r, handlers, opts)

	addr := ":" + cfg.Server.Port
	// No WriteTimeout: stream responses stay open while the client is attached.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	stopSweeper := streams.StartSweeper()

	// Attached stream connections never go idle on their own; closing the
	// registry when shutdown begins ends their workers so Shutdown can return.
	registryClosed := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(registryClosed)
		stopSweeper()
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := streams.Close(closeCtx); err != nil {
			slog.Error("stream manager close", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if w, err := config.NewWatcher(cfgPath, func(c *config.Config) {
		logger.SetLevel(c.Logging.Level)
	}); err != nil {
		slog.Warn("config watcher disabled", "path", cfgPath, "error", err)
	} else {
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
		select {
		case <-registryClosed:
		case <-shutdownCtx.Done():
		}
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
