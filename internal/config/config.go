// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the server needs to start.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// DatabaseURL is the PostgreSQL DSN of the hosted database. When
	// empty the service falls back to a local SQLite file at DBPath.
	DatabaseURL string

	// DBPath is the SQLite database path used when DatabaseURL is unset.
	DBPath string

	// RPCURL is the ledger node endpoint.
	RPCURL string

	// JWTSecret signs session tokens.
	JWTSecret string

	// TokenDuration is how long session tokens stay valid.
	TokenDuration time.Duration
}

// Load reads configuration from environment variables, applying
// development defaults.
func Load() *Config {
	return &Config{
		Port:          getEnvAsInt("PORT", 8080),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/splitnpay.db"),
		RPCURL:        getEnv("RPC_URL", "https://api.devnet.solana.com"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		TokenDuration: time.Duration(getEnvAsInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
