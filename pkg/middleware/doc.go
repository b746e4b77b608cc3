// Package middleware provides HTTP middleware for authentication and rate
// limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token authentication
//
//	authn := middleware.NewAuthMiddleware(verifier, false)
//	router.Use(authn.Handler)
//	// Verifies the token and adds *auth.AuthContext to the request
//
// RateLimit: per-subject or per-IP limiting
//
//	limiter := middleware.NewMemoryLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.RateLimit(limiter))
//
// RedisLimiter shares the window across instances:
//
//	limiter := middleware.NewRedisLimiter(redisClient, cfg, "shopadmin:ratelimit")
//
// Permission checks live in pkg/rbac (PermissionChecker.RequireCommand).
package middleware
