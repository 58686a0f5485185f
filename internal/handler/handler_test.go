package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/set-night/modelarena/internal/service"
	"github.com/shopspring/decimal"
)

const testSecret = "handler-test-secret"

type echoCaller struct{}

func (echoCaller) Call(_ context.Context, messages []service.ChatMessage, backend domain.BackendDescriptor) service.CallOutcome {
	if backend.Deployment == "o4-mini" {
		return service.Failure(errors.New("deployment unavailable"))
	}
	return service.Success("echo: "+messages[len(messages)-1].Content, nil)
}

type testServer struct {
	t      *testing.T
	server *httptest.Server
	store  *repository.SQLiteStore
	admin  uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	admin := uuid.New()
	cfg := &config.Config{
		JWTSecret:           testSecret,
		AdminIDs:            []string{admin.String()},
		InitialCredits:      decimal.RequireFromString("1.00"),
		HistorySessionLimit: 20,
		AllowedOrigins:      []string{"http://localhost:3000"},
	}

	registry, err := service.LoadModelRegistry("")
	if err != nil {
		t.Fatalf("Failed to load registry: %v", err)
	}
	ledger := service.NewCreditLedger(store, nil)
	conversations := service.NewConversationService(store)

	h := New(Deps{
		Cfg:           cfg,
		Store:         store,
		Users:         service.NewUserService(store, cfg.InitialCredits, nil),
		Ledger:        ledger,
		Conversations: conversations,
		Comparisons: service.NewComparisonService(service.ComparisonDeps{
			Store:         store,
			Ledger:        ledger,
			Conversations: conversations,
			Registry:      registry,
			Caller:        echoCaller{},
			MaxParallel:   3,
		}),
		Registry:    registry,
		RateLimiter: middleware.NewRateLimiter(100),
	})

	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	return &testServer{t: t, server: server, store: store, admin: admin}
}

func (ts *testServer) token(userID uuid.UUID) string {
	ts.t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		ts.t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func (ts *testServer) do(method, path string, userID uuid.UUID, body string) (*http.Response, map[string]any) {
	ts.t.Helper()
	req, err := http.NewRequest(method, ts.server.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		ts.t.Fatalf("Failed to build request: %v", err)
	}
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(userID))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	out, _ := decoded.(map[string]any)
	if list, ok := decoded.([]any); ok {
		out = map[string]any{"items": list}
	}
	return resp, out
}

func TestCreateComparison(t *testing.T) {
	ts := newTestServer(t)
	user := uuid.New()

	resp, body := ts.do(http.MethodPost, "/comparisons", user, `{
		"text": "Hello there",
		"models": [
			{"provider": "openai", "label": "GPT-4o", "price": 0.1},
			{"provider": "azure", "label": "o4 – mini", "price": "0.1"},
			{"label": "GPT-4.1 -mini", "price": 0.1}
		]
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}

	if body["prompt"] != "Hello there" {
		t.Errorf("Expected prompt echoed, got %v", body["prompt"])
	}
	if body["available_credits"] != 0.7 {
		t.Errorf("Expected available_credits 0.7, got %v", body["available_credits"])
	}
	responses, _ := body["responses"].(map[string]any)
	if responses["openai-GPT-4o"] != "echo: Hello there" {
		t.Errorf("Unexpected openai reply %v", responses["openai-GPT-4o"])
	}
	if responses["openai-GPT-4.1 -mini"] != "echo: Hello there" {
		t.Errorf("Expected provider to default to openai, got %v", responses)
	}
	if msg, _ := responses["azure-o4 – mini"].(string); !strings.HasPrefix(msg, "Error: ") {
		t.Errorf("Expected error entry for azure o4, got %q", msg)
	}

	sessionID, _ := body["session_id"].(string)
	if _, err := uuid.Parse(sessionID); err != nil {
		t.Fatalf("Expected session_id UUID, got %q", sessionID)
	}

	resp, body = ts.do(http.MethodPost, "/comparisons", user, `{"text": "again", "session_id": "`+sessionID+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 on follow-up, got %d: %v", resp.StatusCode, body)
	}
	if body["available_credits"] != 0.4 {
		t.Errorf("Expected available_credits 0.4, got %v", body["available_credits"])
	}
}

func TestCreateComparison_Errors(t *testing.T) {
	ts := newTestServer(t)
	user := uuid.New()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest},
		{"blank text", `{"text": "  ", "models": [{"label": "GPT-4o"}]}`, http.StatusBadRequest},
		{"no models", `{"text": "hi"}`, http.StatusBadRequest},
		{"malformed session id", `{"text": "hi", "session_id": "nope"}`, http.StatusNotFound},
		{"unknown session", `{"text": "hi", "session_id": "` + uuid.NewString() + `"}`, http.StatusNotFound},
		{"too expensive", `{"text": "hi", "models": [{"label": "GPT-4o", "price": 5}]}`, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(http.MethodPost, "/comparisons", user, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d: %v", tt.want, resp.StatusCode, body)
			}
			if body["error"] == nil {
				t.Errorf("Expected error body, got %v", body)
			}
		})
	}
}

func TestCreateComparison_OutOfRangePriceDefaults(t *testing.T) {
	ts := newTestServer(t)
	user := uuid.New()

	resp, body := ts.do(http.MethodPost, "/comparisons", user, `{
		"text": "hi",
		"models": [{"label": "GPT-4o", "price": 1e100000000}]
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["available_credits"] != 0.0 {
		t.Errorf("Expected the default price of 1 to be charged, got %v", body["available_credits"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/history", "/credits", "/models"} {
		resp, _ := ts.do(http.MethodGet, path, uuid.Nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	resp, body := ts.do(http.MethodGet, "/healthz", uuid.Nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Expected healthy status, got %d %v", resp.StatusCode, body)
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	user := uuid.New()

	_, first := ts.do(http.MethodPost, "/comparisons", user, `{"text": "one", "models": [{"label": "GPT-4o", "price": 0.1}]}`)
	sessionID := first["session_id"].(string)
	ts.do(http.MethodPost, "/comparisons", user, `{"text": "two", "session_id": "`+sessionID+`"}`)

	resp, body := ts.do(http.MethodGet, "/history", user, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	sessions, _ := body["items"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	session := sessions[0].(map[string]any)
	if session["session_name"] != "one" {
		t.Errorf("Expected session name 'one', got %v", session["session_name"])
	}
	turns := session["turns"].([]any)
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	second := turns[1].(map[string]any)
	if second["content"] != "two" {
		t.Errorf("Expected second turn 'two', got %v", second["content"])
	}
	replies := second["responses"].([]any)
	if len(replies) != 1 || replies[0].(map[string]any)["model_label"] != "GPT-4o" {
		t.Errorf("Unexpected replies %v", replies)
	}

	other := uuid.New()
	_, body = ts.do(http.MethodGet, "/history", other, "")
	if items, _ := body["items"].([]any); len(items) != 0 {
		t.Errorf("Expected no history for another user, got %d sessions", len(items))
	}
}

func TestCreditsAndAdminGrant(t *testing.T) {
	ts := newTestServer(t)
	user := uuid.New()

	resp, body := ts.do(http.MethodGet, "/credits", user, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["available_credits"] != 1.0 {
		t.Errorf("Expected initial credits 1, got %v", body["available_credits"])
	}

	grant := `{"user_id": "` + user.String() + `", "amount": 2.5, "note": "promo"}`
	resp, _ = ts.do(http.MethodPost, "/admin/credits", user, grant)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp, body = ts.do(http.MethodPost, "/admin/credits", ts.admin, grant)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["available_credits"] != 3.5 {
		t.Errorf("Expected 3.5 after grant, got %v", body["available_credits"])
	}

	_, body = ts.do(http.MethodGet, "/credits", user, "")
	txs, _ := body["transactions"].([]any)
	if len(txs) != 1 || txs[0].(map[string]any)["type"] != "topup" {
		t.Errorf("Expected one topup transaction, got %v", txs)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", `{"user_id": "` + user.String() + `", "amount": 0}`, http.StatusBadRequest},
		{"missing amount", `{"user_id": "` + user.String() + `"}`, http.StatusBadRequest},
		{"bad type", `{"user_id": "` + user.String() + `", "amount": 1, "type": "deduct"}`, http.StatusBadRequest},
		{"bad user id", `{"user_id": "x", "amount": 1}`, http.StatusBadRequest},
		{"unknown user", `{"user_id": "` + uuid.NewString() + `", "amount": 1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(http.MethodPost, "/admin/credits", ts.admin, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d: %v", tt.want, resp.StatusCode, body)
			}
		})
	}
}

func TestModels(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(http.MethodGet, "/models", uuid.New(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) != len(config.DefaultCatalogue) {
		t.Errorf("Expected %d models, got %d", len(config.DefaultCatalogue), len(items))
	}
	first := items[0].(map[string]any)
	if first["key"] != "openai-GPT-4o" {
		t.Errorf("Expected first key openai-GPT-4o, got %v", first["key"])
	}
}
