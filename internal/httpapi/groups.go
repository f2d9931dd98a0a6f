package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/splitnpay/splitnpay/internal/calculator"
	"github.com/splitnpay/splitnpay/internal/ledger"
	"github.com/splitnpay/splitnpay/internal/middleware"
	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/settlement"
	"github.com/splitnpay/splitnpay/internal/storage"
)

// createGroupRequest is the group creation body. Numeric fields are
// pointers so a missing field reads differently from an invalid one.
type createGroupRequest struct {
	GroupName        string   `json:"groupName"`
	GroupPhoto       string   `json:"groupPhoto"`
	GroupDescription string   `json:"groupDescription"`
	TotalAmount      *float64 `json:"totalAmount"`
	NumberOfPeople   *int     `json:"numberOfPeople"`
	PublicKey        string   `json:"publicKey"`
	SplitAmount      *float64 `json:"splitAmount"`
}

// groupResponse is the JSON shape of a group.
type groupResponse struct {
	ID             string  `json:"id"`
	GroupName      string  `json:"groupName"`
	GroupPhoto     string  `json:"groupPhoto,omitempty"`
	Description    string  `json:"groupDescription,omitempty"`
	TotalAmount    float64 `json:"totalAmount"`
	NumberOfPeople int     `json:"numberOfPeople"`
	SplitAmount    float64 `json:"splitAmount"`
	AmountPaid     float64 `json:"amountPaid"`
	Remaining      float64 `json:"amountRemaining"`
	Status         string  `json:"status"`
	CreatorAddress string  `json:"creatorAddress"`
	CreatedAt      int64   `json:"createdAt"`
}

func toGroupResponse(g *models.Group) groupResponse {
	return groupResponse{
		ID:             g.ID,
		GroupName:      g.Name,
		GroupPhoto:     g.Photo,
		Description:    g.Description,
		TotalAmount:    g.TotalAmount,
		NumberOfPeople: g.NumberOfPeople,
		SplitAmount:    g.SplitAmount,
		AmountPaid:     g.AmountPaid,
		Remaining:      g.Remaining(),
		Status:         g.Status,
		CreatorAddress: g.CreatorAddress,
		CreatedAt:      g.CreatedAt,
	}
}

// createGroup handles POST /api/groups. Returns {groupId} on success.
func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.GroupName == "" {
		writeError(w, http.StatusBadRequest, "groupName is required")
		return
	}
	if req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "publicKey is required")
		return
	}
	if req.TotalAmount == nil {
		writeError(w, http.StatusBadRequest, "totalAmount is required")
		return
	}
	if req.NumberOfPeople == nil {
		writeError(w, http.StatusBadRequest, "numberOfPeople is required")
		return
	}

	split, ok := calculator.ComputeSplit(*req.TotalAmount, *req.NumberOfPeople)
	if !ok {
		writeError(w, http.StatusBadRequest, "totalAmount must be positive and numberOfPeople a positive integer")
		return
	}
	// Clients send their displayed split; trust the server's arithmetic
	// but reject bodies that disagree with themselves.
	if req.SplitAmount != nil && math.Abs(*req.SplitAmount-split) > 1e-9 {
		writeError(w, http.StatusBadRequest, "splitAmount does not match totalAmount / numberOfPeople")
		return
	}

	group := &models.Group{
		Name:           req.GroupName,
		Photo:          req.GroupPhoto,
		Description:    req.GroupDescription,
		TotalAmount:    *req.TotalAmount,
		NumberOfPeople: *req.NumberOfPeople,
		SplitAmount:    split,
		Status:         models.StatusOpen,
		CreatorAddress: req.PublicKey,
	}
	if err := h.store.CreateGroup(r.Context(), group); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"groupId": group.ID})
}

// getGroup handles GET /api/groups/{groupId}.
func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	group, err := h.store.GetGroup(r.Context(), groupID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch group")
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(group))
}

// listGroups handles GET /api/groups?creator=<address>.
func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	groups, err := h.store.ListGroupsByCreator(r.Context(), creator)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

// updateGroupRequest is the body for descriptive-field updates.
type updateGroupRequest struct {
	GroupName        string `json:"groupName"`
	GroupPhoto       string `json:"groupPhoto"`
	GroupDescription string `json:"groupDescription"`
}

// updateGroup handles PUT /api/groups/{groupId}. Only the creator may
// edit, and only the descriptive fields.
func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	groupID := mux.Vars(r)["groupId"]
	group, err := h.store.GetGroup(r.Context(), groupID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch group")
		return
	}
	if group.CreatorAddress != sess.WalletAddress {
		writeError(w, http.StatusForbidden, "only the creator can edit a group")
		return
	}

	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GroupName == "" {
		writeError(w, http.StatusBadRequest, "groupName is required")
		return
	}

	if err := h.store.UpdateGroupDetails(r.Context(), groupID, req.GroupName, req.GroupPhoto, req.GroupDescription); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"groupId": groupID})
}

// paymentResponse is the JSON shape of one payment history entry.
type paymentResponse struct {
	PayerAddress string  `json:"payerAddress"`
	AmountPaid   float64 `json:"amountPaid"`
	Signature    string  `json:"signature,omitempty"`
	PaidAt       int64   `json:"paidAt"`
}

// listPayments handles GET /api/groups/{groupId}/payments.
func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	if _, err := h.store.GetGroup(r.Context(), groupID); errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch group")
		return
	}

	payments, err := h.store.ListPayments(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentResponse{
			PayerAddress: p.PayerAddress,
			AmountPaid:   p.Amount,
			Signature:    p.Signature,
			PaidAt:       p.PaidAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

// settleRequest carries the transaction the browser wallet signed and the
// expiry height of the blockhash the client pinned it to.
type settleRequest struct {
	SignedTransaction    string `json:"signedTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// settle handles POST /api/groups/{groupId}/settle: runs the settlement
// workflow around a transfer the caller's wallet already authorized.
func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.SignedTransaction)
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "signedTransaction must be non-empty base64")
		return
	}
	if req.LastValidBlockHeight == 0 {
		writeError(w, http.StatusBadRequest, "lastValidBlockHeight is required")
		return
	}

	groupID := mux.Vars(r)["groupId"]
	wallet := ledger.NewPresigned(sess.WalletAddress, raw, req.LastValidBlockHeight)
	result, err := h.settlement.Settle(r.Context(), sess, wallet, groupID)
	if err != nil {
		writeSettleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signature":  result.Signature,
		"amount":     result.Amount,
		"amountPaid": result.AmountPaid,
		"status":     result.Status,
	})
}

// writeSettleError maps workflow failures onto HTTP statuses.
func writeSettleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "group not found")
	case errors.Is(err, storage.ErrGroupClosed):
		writeError(w, http.StatusConflict, "group is closed")
	case errors.Is(err, settlement.ErrNoWalletAddress):
		writeError(w, http.StatusBadRequest, "no wallet address on account")
	case errors.Is(err, settlement.ErrInvalidSplit):
		writeError(w, http.StatusBadRequest, "group split amount is not payable")
	case errors.Is(err, ledger.ErrTransferMismatch):
		writeError(w, http.StatusBadRequest, "signedTransaction does not encode the expected transfer")
	case errors.Is(err, settlement.ErrLedgerCommitted):
		// The transfer is on-chain; tell the caller the database lags so
		// the client does not retry the payment.
		writeError(w, http.StatusInternalServerError, "payment confirmed but recording failed; it will be reconciled")
	default:
		writeError(w, http.StatusBadGateway, "payment failed: "+err.Error())
	}
}

// reconcile handles POST /api/groups/{groupId}/reconcile: repairs a group
// whose cumulative total lags the ledger.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	recovered, err := h.settlement.Reconcile(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reconcile failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": recovered})
}
