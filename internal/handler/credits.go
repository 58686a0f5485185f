package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/respond"
)

// Credits handles GET /credits.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	acct, err := h.ledger.Balance(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.ledger.Transactions(r.Context(), user.ID, config.CreditsTransactionsLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := creditsResponse{
		AvailableCredits: credits(acct.AvailableCredits),
		LastUsedAt:       acct.LastUsedAt,
		Transactions:     make([]transactionView, 0, len(txs)),
	}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, transactionView{
			ID:        tx.ID,
			Amount:    credits(tx.Amount),
			Type:      tx.TxType,
			Metadata:  tx.Metadata,
			CreatedAt: tx.CreatedAt,
		})
	}
	respond.JSON(w, http.StatusOK, resp)
}

// GrantCredits handles POST /admin/credits.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetUser(r.Context())

	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if req.Amount == nil {
		respond.Error(w, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
		return
	}
	txType, ok := domain.ParseTxType(req.Type)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "type must be topup or refund")
		return
	}

	meta := map[string]any{"granted_by": admin.ID.String()}
	if req.Note != "" {
		meta["note"] = req.Note
	}

	balance, err := h.ledger.Credit(r.Context(), userID, *req.Amount, txType, meta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, grantResponse{
		UserID:           userID.String(),
		AvailableCredits: credits(balance),
	})
}
