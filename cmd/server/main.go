package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/bootstrap"
	"github.com/wifidoor/gateway-server-go/internal/config"
	"github.com/wifidoor/gateway-server-go/internal/credits"
	"github.com/wifidoor/gateway-server-go/internal/database"
	"github.com/wifidoor/gateway-server-go/internal/enforce"
	"github.com/wifidoor/gateway-server-go/internal/handler"
	"github.com/wifidoor/gateway-server-go/internal/identity"
	"github.com/wifidoor/gateway-server-go/internal/jobs"
	"github.com/wifidoor/gateway-server-go/internal/middleware"
	"github.com/wifidoor/gateway-server-go/internal/netctl"
	"github.com/wifidoor/gateway-server-go/internal/redis"
	"github.com/wifidoor/gateway-server-go/internal/repository"
	"github.com/wifidoor/gateway-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("GATEWAY_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()

	if err := db.EnsureSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	rateRepo := repository.NewRateRepository(db.DB)
	voucherRepo := repository.NewVoucherRepository(db.DB)
	topologyRepo := repository.NewTopologyRepository(db.DB)

	runner := netctl.NewRunner()
	firewall := netctl.NewFirewall(runner, cfg.LANInterface, cfg.Port)
	shaper := netctl.NewShaper(runner)
	routes := netctl.NewRoutes(runner, cfg.LANInterface)
	topology := netctl.NewTopology(runner, shaper)

	enforcer := enforce.NewEnforcer(firewall, shaper, routes, sweepInterfaces(cfg, topologyRepo))

	locks := service.NewLockMap()
	sessionService := service.NewSessionService(
		db, sessionRepo, rateRepo, voucherRepo, enforcer, locks, cfg.TokenTTL(),
	)

	resolver := identity.NewCachedResolver(
		identity.NewSystemResolver(runner, cfg.DHCPLeaseFiles),
		redisClient,
		cfg.IdentityCacheTTL(),
	)

	creditConsumer := credits.NewConsumer(sessionService, resolver)
	creditConsumer.Start()
	defer creditConsumer.Stop()

	identityMiddleware := middleware.NewIdentityMiddleware(resolver, sessionService)
	rateLimiter := service.NewRateLimiter(redisClient.Client)
	startRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.SessionStartRateLimit, config.SessionStartRateWindow, "session-start",
	)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminPasswordHash)

	sessionHandler := handler.NewSessionHandler(sessionService)
	creditHandler := handler.NewCreditHandler(creditConsumer)
	adminHandler := handler.NewAdminHandler(sessionService, adminAuth.Handler)
	portalHandler := handler.NewPortalHandler(cfg.PortalHost)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(identityMiddleware.Handler)

		r.Route("/session", func(r chi.Router) {
			r.Use(startRateLimit.Handler)
			r.Mount("/", sessionHandler.Routes())
		})

		r.Mount("/", creditHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Mount("/", adminHandler.Routes())
	})

	// Everything else is the captive surface: probe paths, the portal page,
	// and the redirect of unadmitted traffic.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware.Handler)
		r.Mount("/", portalHandler.Routes())
	})

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	boot := bootstrap.New(topologyRepo, sessionRepo, topology, enforcer)
	if err := boot.Run(bootCtx); err != nil {
		log.Fatal().Err(err).Msg("boot reconciliation failed")
	}
	bootCancel()

	tickerJob := jobs.NewTickerJob(sessionRepo, sessionService, config.TickInterval)
	tickerJob.Start()
	defer tickerJob.Stop()

	reconcileJob := jobs.NewReconcileJob(sessionRepo, enforcer, config.ReconcileInterval)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// sweepInterfaces lists every interface the reconcile sweep should inspect:
// the LAN bridge plus any configured VLAN.
func sweepInterfaces(cfg *config.Config, topologyRepo repository.TopologyRepository) []string {
	interfaces := []string{cfg.LANInterface}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()

	vlans, err := topologyRepo.ListVLANs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list vlans, sweeping LAN interface only")
		return interfaces
	}
	for _, vlan := range vlans {
		interfaces = append(interfaces, vlan.Name)
	}
	return interfaces
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
