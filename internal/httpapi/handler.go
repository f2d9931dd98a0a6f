// Package httpapi exposes the JSON HTTP surface: group CRUD, the
// settlement endpoint, auth, and operational routes.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splitnpay/splitnpay/internal/auth"
	"github.com/splitnpay/splitnpay/internal/ledger"
	"github.com/splitnpay/splitnpay/internal/middleware"
	"github.com/splitnpay/splitnpay/internal/settlement"
	"github.com/splitnpay/splitnpay/internal/storage"
)

// Handler holds the service dependencies behind the HTTP surface.
type Handler struct {
	store      storage.Store
	auth       auth.Authenticator
	jwt        *auth.JWTManager
	settlement *settlement.Service
	ledger     *ledger.Client
}

// New creates a Handler over the given dependencies.
func New(store storage.Store, authenticator auth.Authenticator, jwtManager *auth.JWTManager, settle *settlement.Service, ledgerClient *ledger.Client) *Handler {
	return &Handler{
		store:      store,
		auth:       authenticator,
		jwt:        jwtManager,
		settlement: settle,
		ledger:     ledgerClient,
	}
}

// Router builds the route table with logging, CORS, and metrics applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/groups", h.createGroup).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/groups", h.listGroups).Methods(http.MethodGet).Queries("creator", "{creator}")
	api.HandleFunc("/groups/{groupId}", h.getGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/payments", h.listPayments).Methods(http.MethodGet)

	requireAuth := middleware.RequireAuth(h.jwt)
	api.Handle("/groups/{groupId}", requireAuth(http.HandlerFunc(h.updateGroup))).Methods(http.MethodPut, http.MethodOptions)
	api.Handle("/groups/{groupId}/settle", requireAuth(http.HandlerFunc(h.settle))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/groups/{groupId}/reconcile", requireAuth(http.HandlerFunc(h.reconcile))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/wallet/balance", requireAuth(http.HandlerFunc(h.walletBalance))).Methods(http.MethodGet, http.MethodOptions)

	return middleware.Logging(middleware.CORS(r))
}

// health reports liveness.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes an {error} body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
