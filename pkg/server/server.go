package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/catalog"
	"github.com/platinummonkey/shopadmin/pkg/config"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/middleware"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/rbac"
	"github.com/platinummonkey/shopadmin/pkg/seed"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Component names one schema_migrations entry and its migrations
type Component struct {
	Name       string
	Migrations []storage.Migration
}

// Components lists every schema in dependency order. rbac references
// users, so auth comes first.
func Components() []Component {
	return []Component{
		{Name: "auth", Migrations: auth.Migrations()},
		{Name: "rbac", Migrations: rbac.Migrations()},
		{Name: "catalog", Migrations: catalog.Migrations()},
		{Name: "audit", Migrations: audit.Migrations()},
	}
}

// Migrate applies every pending migration
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	for _, c := range Components() {
		applied, err := storage.Migrate(ctx, db, c.Name, c.Migrations)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", c.Name, err)
		}
		if applied > 0 {
			logger.WithFields(map[string]interface{}{
				"component": c.Name,
				"applied":   applied,
			}).Info("applied migrations")
		}
	}
	return nil
}

// Server owns the API and health listeners and the background jobs
type Server struct {
	cfg      *config.Config
	logger   *observability.Logger
	db       *sql.DB
	redis    *redis.Client
	cache    cache.Cache
	registry *prometheus.Registry
	metrics  *observability.Metrics
	otel     *observability.OTelProviders
	audit    audit.Logger
	events   *audit.DBLogger
	limiter  middleware.Limiter

	rbacStore    *rbac.Store
	users        *auth.UserStore
	catalogStore *catalog.Store
	checker      *rbac.PermissionChecker
	sweeper      *rbac.MembershipSweeper
	seeder       *seed.Seeder

	router   *mux.Router
	handler  http.Handler
	shutdown *observability.ShutdownManager
}

// New connects to every backing service, migrates when configured and
// builds the HTTP handler. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (_ *Server, err error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout),
	}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	s.otel, err = observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.shutdown.Register("otel", s.otel.Shutdown)

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	s.db, err = storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.shutdown.Register("database", func(context.Context) error { return s.db.Close() })

	if cfg.Database.AutoMigrate {
		if err = Migrate(ctx, s.db, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Cache.RedisURL != "" {
		s.redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		s.shutdown.Register("redis", func(context.Context) error { return s.redis.Close() })
	}
	if s.redis != nil {
		s.cache = cache.New(cfg.Cache, s.redis)
	} else {
		s.cache = cache.New(cfg.Cache, nil)
	}

	s.events, err = audit.NewDBLogger(s.db)
	if err != nil {
		return nil, err
	}
	s.audit = audit.NewMultiLogger(s.events, audit.NewSlogLogger(logger))
	s.shutdown.Register("audit", func(context.Context) error { return s.audit.Close() })

	verifier, err := buildVerifier(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}

	s.rbacStore = rbac.NewStore(s.db, s.metrics)
	s.users = auth.NewUserStore(s.db, s.metrics, auth.WithDeleteHook(s.rbacStore.DeleteUserMembershipsTx))
	s.catalogStore = catalog.NewStore(s.db, cache.WithMetrics(s.cache, "catalog", s.metrics), cfg.Cache.TTL, s.metrics, logger)
	s.checker = rbac.NewPermissionChecker(s.rbacStore,
		rbac.WithCache(cache.WithMetrics(s.cache, "rbac", s.metrics), cfg.RBAC.CacheTTL),
		rbac.WithCheckerMetrics(s.metrics),
		rbac.WithCheckerLogger(logger),
		rbac.WithAuditLogger(s.audit),
		rbac.WithEnforcement(cfg.RBAC.Enforce),
	)
	s.sweeper = rbac.NewMembershipSweeper(s.rbacStore, s.checker, cfg.RBAC.SweepSchedule, s.metrics, logger, s.audit)
	s.seeder = seed.NewSeeder(s.rbacStore, s.users, s.checker, s.metrics, logger, s.audit)

	if cfg.Seed.Enabled {
		f, err := seed.Load(cfg.Seed.Path)
		if err != nil {
			return nil, err
		}
		if _, err := s.seeder.Apply(ctx, f); err != nil {
			return nil, err
		}
	}

	if cfg.RateLimit.Enabled {
		if s.redis != nil {
			s.limiter = middleware.NewRedisLimiter(s.redis, cfg.RateLimit.RateLimitConfig, cfg.Cache.KeyPrefix+"ratelimit:")
		} else {
			s.limiter = middleware.NewMemoryLimiter(cfg.RateLimit.RateLimitConfig)
		}
	}

	s.setupRoutes()
	s.handler = s.buildHandler(verifier)
	return s, nil
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	var chain auth.ChainVerifier
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if cfg.DevSecret != "" {
		v, err := auth.NewHMACVerifier(cfg.DevSecret, cfg.DevIssuer)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// setupRoutes mounts every handler set on one router. Mutating routes are
// wrapped by the permission checker's guard.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	guard := s.checker.Guard()

	auth.NewHandlers(s.users, s.audit).RegisterRoutes(s.router, guard)
	rbac.NewHandlers(s.rbacStore, s.checker, s.audit).RegisterRoutes(s.router, guard)
	catalog.NewHandlers(s.catalogStore, s.audit, s.metrics).RegisterRoutes(s.router, guard)
	audit.NewHandlers(s.events).RegisterRoutes(s.router, guard)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
}

// buildHandler wraps the router, outermost first
func (s *Server) buildHandler(verifier auth.Verifier) http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(s.cfg.Server.CORSOrigins),
	}
	if s.cfg.Observability.MetricsEnabled {
		chain = append(chain, observability.HTTPMetricsMiddleware(s.metrics))
	}
	if s.cfg.Server.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(s.cfg.Server.MaxBodyBytes))
	}
	chain = append(chain, middleware.NewAuthMiddleware(verifier, true).Handler)
	if s.limiter != nil {
		chain = append(chain, middleware.RateLimit(s.limiter))
	}

	h := httputil.Chain(chain...)(s.router)
	if s.cfg.Observability.OTelEnabled {
		h = otelhttp.NewHandler(h, s.cfg.Observability.OTelServiceName)
	}
	return h
}

// ServeHTTP serves the API handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HealthHandler serves liveness, readiness and metrics
func (s *Server) HealthHandler() http.Handler {
	m := http.NewServeMux()
	observability.RegisterHealthRoutes(m, observability.NewHealthChecker(s.db, s.redisClient()))
	if s.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(m, s.registry)
	}
	return m
}

func (s *Server) redisClient() redis.UniversalClient {
	if s.redis == nil {
		return nil
	}
	return s.redis
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	api := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	health := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.HealthPort),
		Handler:           s.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.shutdown.Register("api server", api.Shutdown)
	s.shutdown.Register("health server", health.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serve(api, s.logger.WithField("server", "api")) })
	g.Go(func() error { return serve(health, s.logger.WithField("server", "health")) })
	g.Go(func() error { return s.sweeper.Run(gctx) })

	if ml, ok := s.limiter.(*middleware.MemoryLimiter); ok {
		g.Go(func() error {
			ml.StartCleanup(gctx)
			return nil
		})
	}
	if s.cfg.Seed.Enabled && s.cfg.Seed.Watch {
		g.Go(func() error { return s.seeder.Watch(gctx, s.cfg.Seed.Path, seed.DefaultWatchDelay) })
	}
	if s.cfg.Observability.MetricsEnabled {
		g.Go(func() error {
			s.recordDBStats(gctx, 15*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.shutdown.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serve(srv *http.Server, logger *observability.Logger) error {
	logger.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

func (s *Server) recordDBStats(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.metrics.RecordDBStats(s.db.Stats())
		}
	}
}

// Close releases the connections opened by New. It is safe to call after
// Run has already shut down.
func (s *Server) Close(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx)
}
