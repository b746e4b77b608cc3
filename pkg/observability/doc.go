// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("role_id", roleID).Info("permissions replaced")
//
// Request handlers get a logger carrying request_id and user_id:
//
//	observability.FromContext(r.Context()).WithError(err).Error("grant failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuthzDecision("PRODUCT", "UPDATE", allowed)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, "rbac.AssignCommands")
//	defer func() { observability.EndSpan(span, err) }()
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("database", func(context.Context) error { return db.Close() })
//	defer sm.Shutdown(context.Background())
package observability
