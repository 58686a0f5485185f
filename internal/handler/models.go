package handler

import (
	"net/http"

	"github.com/set-night/modelarena/internal/respond"
)

// Models handles GET /models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.Entries()
	views := make([]modelView, 0, len(entries))
	for _, e := range entries {
		views = append(views, modelView{
			Key:      e.Provider + "-" + e.Label,
			Provider: e.Provider,
			Label:    e.Label,
		})
	}
	respond.JSON(w, http.StatusOK, views)
}
