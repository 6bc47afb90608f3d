// conductord is the orchestration core daemon: it exposes the command
// API, runs the director and domain worker loops, and sweeps expired
// job leases.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/api"
	"github.com/cleargrid-labs/conductor/pkg/config"
	"github.com/cleargrid-labs/conductor/pkg/connector"
	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/safety"
	"github.com/cleargrid-labs/conductor/pkg/telemetry"
	"github.com/cleargrid-labs/conductor/pkg/worker"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("conductord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.New(ctx, &telemetry.Config{
		ServiceName:  "conductord",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.SampleRate,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	store, registrations, closeDB, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	registry := connector.NewRegistry(registrations, connector.WithLogger(logger))
	if cfg.ConnectorBootstrap != "" {
		seeded, err := connector.SeedRegistrations(ctx, registrations, cfg.ConnectorBootstrap)
		if err != nil {
			return err
		}
		logger.Info("seeded connector registrations", "count", seeded, "path", cfg.ConnectorBootstrap)
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(envelope.MustNewValidator(), gateway, store, registrations,
		api.WithClaimLease(cfg.WorkerLease),
		api.WithServerLogger(logger))

	var handler http.Handler = server.Routes()
	handler = api.RequestLogger(telemetry.NewSampler(cfg.SampleRate), logger)(handler)
	if cfg.RedisAddr != "" {
		redisLimiter := api.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			cfg.RateLimitRPS, cfg.RateBurst, logger)
		defer func() { _ = redisLimiter.Close() }()
		handler = redisLimiter.Middleware(handler)
	} else {
		limiter := api.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateBurst)
		defer limiter.Close()
		handler = limiter.Middleware(handler)
	}

	dispatcher := worker.NewRegistryDispatcher(registry)
	director := worker.NewDirector(dispatcher,
		worker.WithRunTokens(cfg.RunTokens),
		worker.WithDirectorLogger(logger))

	workerOpts := []worker.WorkerOption{
		worker.WithLease(cfg.WorkerLease),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithJobTimeout(cfg.JobTimeout),
		worker.WithWorkerLogger(logger),
		worker.WithTelemetry(provider),
	}
	workers := []*worker.Worker{
		worker.New(envelope.RoleDirector, store, director, workerOpts...),
		worker.New(envelope.RoleDomain, store, worker.NewDomainHandler(dispatcher), workerOpts...),
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			_ = w.Run(ctx)
		}(w)
	}

	sweeper := worker.NewSweeper(store, time.Minute, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sweeper.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("conductord listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	wg.Wait()
	return nil
}

// openStores selects the persistence backend: Postgres when DATABASE_URL
// is set, embedded SQLite otherwise. Registrations share the database.
func openStores(cfg *config.Config) (jobs.Store, *connector.RegistrationStore, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := jobs.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		registrations, err := connector.NewRegistrationStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return store, registrations, func() { _ = db.Close() }, nil
	}

	db, err := jobs.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := jobs.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	registrations, err := connector.NewRegistrationStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return store, registrations, func() { _ = db.Close() }, nil
}

// buildGateway wires the safety gateway against the configured assessment
// service. Without an endpoint it allows everything, which is acceptable
// only for local development; the gateway still fail-closes on errors.
func buildGateway(cfg *config.Config, logger *slog.Logger) (*safety.Gateway, error) {
	if cfg.SafetyEndpoint == "" {
		logger.Warn("no safety endpoint configured; running with allow-all assessor")
		allowAll := safety.AssessorFunc(func(ctx context.Context, env *envelope.CommandEnvelope) (*safety.Assessment, error) {
			return &safety.Assessment{Allowed: true}, nil
		})
		return safety.NewGateway(allowAll, safety.WithTimeout(cfg.SafetyTimeout), safety.WithLogger(logger)), nil
	}

	assessor, err := safety.NewHTTPAssessor(connector.Config{
		Endpoint: cfg.SafetyEndpoint,
		APIKey:   cfg.SafetyAPIKey,
		Timeout:  cfg.SafetyTimeout,
	})
	if err != nil {
		return nil, err
	}
	return safety.NewGateway(assessor, safety.WithTimeout(cfg.SafetyTimeout), safety.WithLogger(logger)), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
