package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewatch/gatewatch/internal/accounts"
	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/gatewatch/gatewatch/internal/background"
	"github.com/gatewatch/gatewatch/internal/blocking"
	"github.com/gatewatch/gatewatch/internal/client"
	"github.com/gatewatch/gatewatch/internal/config"
	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/database"
	"github.com/gatewatch/gatewatch/internal/handlers"
	"github.com/gatewatch/gatewatch/internal/memlimit"
	middlewareCustom "github.com/gatewatch/gatewatch/internal/middleware"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/popularity"
	"github.com/gatewatch/gatewatch/internal/ring"
	"github.com/gatewatch/gatewatch/internal/routes"
	"github.com/gatewatch/gatewatch/internal/services"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/typo"
	pkghttp "github.com/gatewatch/gatewatch/pkg/http"
	pkglogger "github.com/gatewatch/gatewatch/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("host_id", cfg.Node.HostID),
		slog.String("store_backend", cfg.Store.Backend))

	// Initialize the stable store
	stableStore, closeStore, err := buildStableStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize stable store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	// Account state: credit ladder, memory ceiling, controller
	limiter := credit.NewLimiter(cfg.Blocking.CreditWindows)
	mem := memlimit.New(cfg.Store.CacheCeilingMB*1024*1024, logger)
	controller := accounts.NewController(stableStore, limiter, mem, logger,
		accounts.WithLedgerCap(cfg.Store.LedgerCap))

	// Responsibility ring and replicated client. The typo analyzer hangs
	// off the local transport so peers can ask this node to re-score
	// ledgers for the accounts it owns.
	analyzer := typo.NewAnalyzer(controller, cfg.Blocking.TypoMaxEditDistance, logger)
	responsibilityRing := ring.New()
	accountClient := client.NewAccountClient(responsibilityRing, controller, logger,
		client.WithReplicationFactor(cfg.Node.ReplicationFactor),
		client.WithCandidateTimeout(cfg.Node.CandidateTimeout),
		client.WithFanoutRate(cfg.Node.FanoutRatePerSec, cfg.Node.FanoutBurst),
	)

	selfHost := &models.RemoteHost{ID: cfg.Node.HostID, URL: cfg.Node.HostURL, IsLocalHost: true}
	if err := accountClient.RegisterHost(selfHost, client.NewLocalTransport(*selfHost, controller, analyzer), cfg.Node.HostWeight); err != nil {
		logger.Error("failed to register local host", slog.Any("error", err))
		os.Exit(1)
	}
	for _, peer := range cfg.Node.Peers {
		host := &models.RemoteHost{ID: peer.ID, URL: peer.URL}
		if err := accountClient.RegisterHost(host, client.NewHTTPTransport(*host, nil), peer.Weight); err != nil {
			logger.Error("failed to register fleet peer",
				slog.String("peer", peer.ID),
				slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Signal state: per-IP credit, password popularity
	ipLimiter := credit.NewIPLimiter(cfg.Blocking.CreditWindows)
	tracker := popularity.NewTracker(cfg.Store.PopularityWindow)

	// Attack alert channel
	var notifier blocking.AttackNotifier
	if cfg.Alerting.Enabled {
		sesNotifier, err := services.NewSESAttackNotifier(cfg.Alerting.SESRegion, cfg.Alerting.FromAddress, cfg.Alerting.ToAddress, logger)
		if err != nil {
			logger.Error("failed to initialize attack notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = services.NewLogOnlyAttackNotifier(logger)
	}

	// Decision engine. Typo analysis goes through the account client so
	// the ledger rewrite lands on the member that owns the account.
	engine := blocking.NewEngine(accountClient, ipLimiter, tracker, accountClient, notifier, blocking.Options{
		BaseCreditCost:            cfg.Blocking.BaseCreditCost,
		TrustedDeviceCreditCost:   cfg.Blocking.TrustedDeviceCreditCost,
		InvalidGuessCreditCost:    cfg.Blocking.InvalidGuessCreditCost,
		IPCreditCostValidPassword: cfg.Blocking.IPCreditCostValidPassword,
		IPPenaltyInvalidPassword:  cfg.Blocking.IPPenaltyInvalidPassword,
		IPPenaltyUnknownAccount:   cfg.Blocking.IPPenaltyUnknownAccount,
		PopularityBlockThreshold:  cfg.Blocking.PopularityBlockThreshold,
		PopularityMinAccounts:     cfg.Blocking.PopularityMinAccounts,
		FleetPepper:               cfg.Blocking.FleetPepper,
	}, logger)

	// Admin surface auth; left nil disables the surface entirely
	var tokenManager *auth.TokenManager
	if cfg.Admin.JWTSecret != "" {
		tokenManager = auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, admin surface disabled")
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize handlers
	accountsHandler := handlers.NewAccountsHandler(controller, analyzer, logger)
	loginHandler := handlers.NewLoginHandler(engine, ipConfig, auditLogger, logger)
	adminHandler := handlers.NewAdminHandler(accountClient, responsibilityRing, auditLogger, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, accountsHandler, loginHandler, adminHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.PublicRateLimit})

	// Health check with stable store
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if hc, ok := stableStore.(interface{ HealthCheck(context.Context) error }); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","stable_store":"down"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start decay sweeper
	sweepManager := background.NewSweepManager(tracker, ipLimiter, logger, cfg.Store.SweepInterval)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepManager.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server",
			slog.String("addr", server.Addr),
			slog.Int("fleet_size", responsibilityRing.Len()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweepManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Let in-flight typo analyses and replication sends finish
	engine.Wait()
	accountClient.Wait()

	logger.Info("server stopped gracefully")
}

// buildStableStore selects the configured backend. The memory backend
// is for single-node and test deployments; postgres is the durable
// choice for a real fleet.
func buildStableStore(cfg *config.Config, logger *slog.Logger) (store.StableStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		if err := database.RunMigrations(cfg.Database.DSN(), logger); err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			DSN:               cfg.Database.DSN(),
			MaxConns:          cfg.Database.MaxConns,
			MinConns:          cfg.Database.MinConns,
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
