package handler

import (
	"net/http"

	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/respond"
	"github.com/set-night/modelarena/internal/service"
)

// History handles GET /history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	history, err := h.conversations.RecentHistory(r.Context(), user.ID, h.cfg.HistorySessionLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toSessionViews(history))
}

func toSessionViews(history []service.SessionHistory) []sessionView {
	views := make([]sessionView, 0, len(history))
	for _, sh := range history {
		sv := sessionView{
			SessionID: sh.Session.ID.String(),
			Name:      sh.Session.Name,
			Models:    sh.Session.ModelSelection,
			StartedAt: sh.Session.StartedAt,
			EndedAt:   sh.Session.EndedAt,
			Turns:     make([]turnView, 0, len(sh.Turns)),
		}
		for _, t := range sh.Turns {
			tv := turnView{
				MessageID: t.Message.ID,
				Sender:    t.Message.Sender,
				Content:   t.Message.Content,
				CreatedAt: t.Message.CreatedAt,
				Responses: make([]replyView, 0, len(t.Responses)),
			}
			for _, resp := range t.Responses {
				tv.Responses = append(tv.Responses, replyView{
					Provider:   resp.Provider,
					ModelLabel: resp.ModelLabel,
					Content:    resp.Content,
					LatencyMs:  resp.LatencyMs,
					TokenCount: resp.TokenCount,
					CreatedAt:  resp.CreatedAt,
				})
			}
			sv.Turns = append(sv.Turns, tv)
		}
		views = append(views, sv)
	}
	return views
}
