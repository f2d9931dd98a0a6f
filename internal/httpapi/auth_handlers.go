package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splitnpay/splitnpay/internal/auth"
	"github.com/splitnpay/splitnpay/internal/calculator"
	"github.com/splitnpay/splitnpay/internal/middleware"
)

// registerRequest is the account creation body.
type registerRequest struct {
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress"`
}

// register handles POST /api/auth/register.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.DisplayName, req.Password, req.WalletAddress)
	if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrEmailExists) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "userId": user.ID})
}

// loginRequest is the sign-in body.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "userId": user.ID})
}

// walletBalance handles GET /api/wallet/balance for the signed-in user.
func (h *Handler) walletBalance(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok || !sess.HasWallet() {
		writeError(w, http.StatusBadRequest, "no wallet address on account")
		return
	}

	lamports, err := h.ledger.Balance(r.Context(), sess.WalletAddress)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  sess.WalletAddress,
		"lamports": lamports,
		"sol":      float64(lamports) / calculator.LamportsPerSOL,
	})
}
