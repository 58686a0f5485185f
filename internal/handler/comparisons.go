package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/respond"
	"github.com/set-night/modelarena/internal/service"
)

// CreateComparison handles POST /comparisons.
func (h *Handler) CreateComparison(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req comparisonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sessionID *uuid.UUID
	if req.SessionID != nil && *req.SessionID != "" {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			// A malformed id cannot name any session the caller owns.
			h.writeError(w, r, domain.ErrSessionNotFound)
			return
		}
		sessionID = &id
	}

	models := make([]domain.ModelSelector, 0, len(req.Models))
	for _, m := range req.Models {
		if m.Label == "" {
			respond.Error(w, http.StatusBadRequest, "model label is required")
			return
		}
		models = append(models, domain.NewModelSelector(m.Provider, m.Label, m.Price))
	}

	result, err := h.comparisons.Compare(r.Context(), service.CompareRequest{
		UserID:    user.ID,
		SessionID: sessionID,
		Text:      req.Text,
		Models:    models,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, comparisonResponse{
		Prompt:           result.Prompt,
		Responses:        result.Responses,
		Failed:           result.Failed,
		AvailableCredits: credits(result.AvailableCredits),
		SessionID:        result.SessionID.String(),
	})
}
