package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/splitnpay/splitnpay/internal/auth"
	"github.com/splitnpay/splitnpay/internal/config"
	"github.com/splitnpay/splitnpay/internal/httpapi"
	"github.com/splitnpay/splitnpay/internal/ledger"
	"github.com/splitnpay/splitnpay/internal/settlement"
	"github.com/splitnpay/splitnpay/internal/storage"
	"github.com/splitnpay/splitnpay/internal/storage/postgres"
	"github.com/splitnpay/splitnpay/internal/storage/sqlite"
	"github.com/splitnpay/splitnpay/pkg/logging"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ledgerClient, err := ledger.NewClient(ledger.Config{RPCURL: cfg.RPCURL})
	if err != nil {
		slog.Error("Failed to initialize ledger client", "error", err)
		os.Exit(1)
	}
	slog.Info("Ledger client initialized", "rpc_url", cfg.RPCURL)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenDuration)
	authenticator := auth.NewPasswordAuthenticator(store)
	settleService := settlement.NewService(store, ledgerClient)

	handler := httpapi.New(store, authenticator, jwtManager, settleService, ledgerClient)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Server starting", "address", addr, "url", fmt.Sprintf("http://localhost%s", addr))
	if err := http.ListenAndServe(addr, handler.Router()); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// openStore picks the hosted database when configured, a local SQLite
// file otherwise.
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "backend", "postgres")
		return store, nil
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Info("Storage initialized", "backend", "sqlite", "database", cfg.DBPath)
	return store, nil
}
