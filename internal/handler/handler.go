package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/respond"
	"github.com/set-night/modelarena/internal/service"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	cfg           *config.Config
	store         Pinger
	users         middleware.UserProvisioner
	ledger        *service.CreditLedger
	conversations *service.ConversationService
	comparisons   *service.ComparisonService
	registry      *service.ModelRegistry
	limiter       *middleware.RateLimiter
	events        service.EventLogger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Cfg           *config.Config
	Store         Pinger
	Users         middleware.UserProvisioner
	Ledger        *service.CreditLedger
	Conversations *service.ConversationService
	Comparisons   *service.ComparisonService
	Registry      *service.ModelRegistry
	RateLimiter   *middleware.RateLimiter
	Events        service.EventLogger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	h := &Handler{
		cfg:           deps.Cfg,
		store:         deps.Store,
		users:         deps.Users,
		ledger:        deps.Ledger,
		conversations: deps.Conversations,
		comparisons:   deps.Comparisons,
		registry:      deps.Registry,
		limiter:       deps.RateLimiter,
		events:        deps.Events,
	}
	if h.limiter == nil {
		h.limiter = middleware.NewRateLimiter(0)
	}
	return h
}

// Routes builds the router with the global middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logging())
	r.Use(middleware.Recover(h.events))
	r.Use(middleware.CORS(h.cfg.AllowedOrigins))

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth([]byte(h.cfg.JWTSecret), h.users))
		r.Use(h.limiter.Middleware())

		r.Post("/comparisons", h.CreateComparison)
		r.Get("/history", h.History)
		r.Get("/credits", h.Credits)
		r.Get("/models", h.Models)
		r.With(middleware.RequireAdmin(h.cfg.IsAdmin)).Post("/admin/credits", h.GrantCredits)
	})

	return r
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmptyPrompt),
		errors.Is(err, domain.ErrNoModels),
		errors.Is(err, domain.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "path", r.URL.Path, "request_id", chiMiddleware.GetReqID(r.Context()))
		if h.events != nil {
			h.events.LogError(err, r.Method+" "+r.URL.Path)
		}
		respond.Error(w, status, "internal server error")
		return
	}
	respond.Error(w, status, rootMessage(err))
}

// rootMessage returns the sentinel's text rather than the wrapped chain.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrEmptyPrompt, domain.ErrNoModels, domain.ErrInvalidAmount,
		domain.ErrUnauthorized, domain.ErrInsufficientBalance, domain.ErrForbidden,
		domain.ErrSessionNotFound, domain.ErrUserNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
