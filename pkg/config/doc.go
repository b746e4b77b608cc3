// Package config loads shopadmin configuration from environment variables.
//
// Server settings:
//
//	SHOPADMIN_HOST="0.0.0.0"
//	SHOPADMIN_PORT="8080"
//	SHOPADMIN_HEALTH_PORT="9090"
//	SHOPADMIN_CORS_ORIGINS="https://admin.example.com"
//
// Database and cache:
//
//	SHOPADMIN_DB_DRIVER="postgres"  # postgres or sqlite3
//	SHOPADMIN_DB_DSN="postgres://localhost/shopadmin?sslmode=disable"
//	SHOPADMIN_REDIS_URL="redis://localhost:6379/0"
//	SHOPADMIN_CACHE_TTL="10m"
//
// Authentication and access control:
//
//	SHOPADMIN_OIDC_ISSUER="https://idp.example.com/realms/shop"
//	SHOPADMIN_OIDC_CLIENT_ID="shopadmin"
//	SHOPADMIN_DEV_TOKEN_SECRET=""  # enables locally minted HMAC tokens
//	SHOPADMIN_RBAC_ENFORCE="true"
//	SHOPADMIN_RBAC_SWEEP_SCHEDULE="*/5 * * * *"
//	SHOPADMIN_SEED_PATH="/etc/shopadmin/seed.yaml"
//	SHOPADMIN_SEED_WATCH="false"
//
// Rate limiting and observability:
//
//	SHOPADMIN_RATE_LIMIT_REQUESTS="100"
//	SHOPADMIN_RATE_LIMIT_WINDOW="1m"
//	SHOPADMIN_LOG_LEVEL="info"  # debug, info, warn, error
//	SHOPADMIN_OTEL_ENABLED="false"
//	SHOPADMIN_OTEL_ENDPOINT="otel-collector:4317"
package config
