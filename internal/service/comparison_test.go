package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/shopspring/decimal"
)

func TestCompare_DebitsExactTotal(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "1.00")

	result, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "hello",
		Models: []domain.ModelSelector{
			selector(domain.ProviderOpenAI, "GPT-4o", "0.1"),
			selector(domain.ProviderOpenAI, "o4 – mini", "0.1"),
			selector(domain.ProviderAzure, "GPT-4o", "0.1"),
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !result.AvailableCredits.Equal(decimal.RequireFromString("0.7")) {
		t.Errorf("Expected 0.7 credits left, got %s", result.AvailableCredits)
	}
	if result.Prompt != "hello" {
		t.Errorf("Expected prompt to be echoed, got %q", result.Prompt)
	}
	if len(result.Responses) != 3 {
		t.Fatalf("Expected 3 responses, got %d: %v", len(result.Responses), result.Responses)
	}
	if got := result.Responses["azure-GPT-4o"]; got != "reply from azure:gpt-4o" {
		t.Errorf("Unexpected azure reply %q", got)
	}

	turns, err := a.convs.Turns(ctx, a.store, result.SessionID)
	if err != nil {
		t.Fatalf("Turns failed: %v", err)
	}
	if len(turns) != 1 || len(turns[0].Responses) != 3 {
		t.Fatalf("Expected 1 turn with 3 replies, got %+v", turns)
	}
	for _, r := range turns[0].Responses {
		if !r.Cost.Valid || !r.Cost.Decimal.Equal(decimal.RequireFromString("0.1")) {
			t.Errorf("Expected reply cost 0.1, got %+v", r.Cost)
		}
	}
}

func TestCompare_InsufficientCreditsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "0.50")

	_, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "too expensive",
		Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")},
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	acct, _ := a.ledger.Balance(ctx, userID)
	if !acct.AvailableCredits.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("Expected balance unchanged, got %s", acct.AvailableCredits)
	}
	history, err := a.convs.RecentHistory(ctx, userID, 10)
	if err != nil {
		t.Fatalf("RecentHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no sessions, got %d", len(history))
	}
	if calls := a.caller.lastCall("openai:gpt-4o"); calls != nil {
		t.Error("Expected no model call for a rejected request")
	}
}

func TestCompare_OneFailureOutOfThree(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	a.caller.fail["azure:o4-mini"] = true
	userID := newTestUser(t, a.store, "5")

	result, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "compare",
		Models: []domain.ModelSelector{
			selector(domain.ProviderOpenAI, "GPT-4o", "1"),
			selector(domain.ProviderAzure, "o4 – mini", "1"),
			selector(domain.ProviderAzure, "GPT-4.1 -mini", "1"),
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	failed := result.Responses["azure-o4 – mini"]
	if !strings.HasPrefix(failed, "Error: ") {
		t.Errorf("Expected an error entry, got %q", failed)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "azure-o4 – mini" {
		t.Errorf("Expected one failed key, got %v", result.Failed)
	}
	if !result.AvailableCredits.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected failed calls to stay charged, got %s", result.AvailableCredits)
	}

	turns, _ := a.convs.Turns(ctx, a.store, result.SessionID)
	if len(turns[0].Responses) != 2 {
		t.Errorf("Expected 2 stored replies, got %d", len(turns[0].Responses))
	}
}

func TestCompare_UnknownModelIsSkipped(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "5")

	result, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "hi",
		Models: []domain.ModelSelector{
			selector(domain.ProviderOpenAI, "GPT-4o", "1"),
			selector(domain.ProviderOpenAI, "gpt-9000", "1"),
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := result.Responses["openai-gpt-9000"]; ok {
		t.Error("Expected unknown model to be omitted from responses")
	}
	if len(result.Responses) != 1 {
		t.Errorf("Expected 1 response, got %d", len(result.Responses))
	}
	if !result.AvailableCredits.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected both slots charged, got %s", result.AvailableCredits)
	}
}

func TestCompare_LateJoiningModelHistory(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "5")

	first, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "first",
		Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")},
	})
	if err != nil {
		t.Fatalf("First compare failed: %v", err)
	}

	_, err = a.compare.Compare(ctx, CompareRequest{
		UserID:    userID,
		SessionID: &first.SessionID,
		Text:      "second",
		Models: []domain.ModelSelector{
			selector(domain.ProviderOpenAI, "GPT-4o", "1"),
			selector(domain.ProviderAzure, "GPT-4o", "1"),
		},
	})
	if err != nil {
		t.Fatalf("Second compare failed: %v", err)
	}

	want := []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply from openai:gpt-4o"},
		{Role: "user", Content: "second"},
	}
	assertMessages(t, a.caller.lastCall("openai:gpt-4o"), want)

	want = []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
	}
	assertMessages(t, a.caller.lastCall("azure:gpt-4o"), want)
}

func TestCompare_ReusesStoredSelection(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "5")

	first, err := a.compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "one",
		Models: []domain.ModelSelector{selector(domain.ProviderAzure, "GPT-4.1 -mini", "0.25")},
	})
	if err != nil {
		t.Fatalf("First compare failed: %v", err)
	}

	second, err := a.compare.Compare(ctx, CompareRequest{UserID: userID, SessionID: &first.SessionID, Text: "two"})
	if err != nil {
		t.Fatalf("Second compare failed: %v", err)
	}
	if _, ok := second.Responses["azure-GPT-4.1 -mini"]; !ok {
		t.Errorf("Expected stored selection to be used, got %v", second.Responses)
	}
	if !second.AvailableCredits.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Expected 4.5 credits left, got %s", second.AvailableCredits)
	}
}

func TestCompare_ForeignSessionNotFound(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	owner := newTestUser(t, a.store, "5")
	intruder := newTestUser(t, a.store, "5")

	first, err := a.compare.Compare(ctx, CompareRequest{
		UserID: owner,
		Text:   "mine",
		Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")},
	})
	if err != nil {
		t.Fatalf("Owner compare failed: %v", err)
	}

	_, err = a.compare.Compare(ctx, CompareRequest{UserID: intruder, SessionID: &first.SessionID, Text: "yours?"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}

	acct, _ := a.ledger.Balance(ctx, intruder)
	if !acct.AvailableCredits.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected intruder balance untouched, got %s", acct.AvailableCredits)
	}
	turns, _ := a.convs.Turns(ctx, a.store, first.SessionID)
	if len(turns) != 1 {
		t.Errorf("Expected owner session to keep 1 turn, got %d", len(turns))
	}

	missing := uuid.New()
	_, err = a.compare.Compare(ctx, CompareRequest{UserID: owner, SessionID: &missing, Text: "ghost"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for missing session, got %v", err)
	}
}

func TestCompare_BadRequests(t *testing.T) {
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "5")

	tests := []struct {
		name string
		req  CompareRequest
		want error
	}{
		{"blank prompt", CompareRequest{UserID: userID, Text: "  \n\t", Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")}}, domain.ErrEmptyPrompt},
		{"no models for new session", CompareRequest{UserID: userID, Text: "hi"}, domain.ErrNoModels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.compare.Compare(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCompare_ConcurrentRequestsOnlyOneFunded(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "1")

	const requests = 4
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		funded int
	)
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.compare.Compare(ctx, CompareRequest{
				UserID: userID,
				Text:   "race",
				Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")},
			})
			if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				funded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if funded != 1 {
		t.Errorf("Expected exactly 1 funded request, got %d", funded)
	}
	acct, _ := a.ledger.Balance(ctx, userID)
	if !acct.AvailableCredits.IsZero() {
		t.Errorf("Expected zero balance, got %s", acct.AvailableCredits)
	}
	history, _ := a.convs.RecentHistory(ctx, userID, 10)
	if len(history) != 1 {
		t.Errorf("Expected 1 session, got %d", len(history))
	}
}

// flakyReadStore fails turn reads made outside a transaction.
type flakyReadStore struct {
	*repository.SQLiteStore
}

func (flakyReadStore) ListSessionTurns(context.Context, uuid.UUID) ([]domain.Turn, error) {
	return nil, errors.New("read replica unavailable")
}

func TestCompare_SnapshotTakenInsideDebitTransaction(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t)
	userID := newTestUser(t, a.store, "5")

	store := flakyReadStore{a.store}
	registry, _ := LoadModelRegistry("")
	compare := NewComparisonService(ComparisonDeps{
		Store:         store,
		Ledger:        NewCreditLedger(store, nil),
		Conversations: NewConversationService(store),
		Registry:      registry,
		Caller:        a.caller,
		MaxParallel:   2,
	})

	result, err := compare.Compare(ctx, CompareRequest{
		UserID: userID,
		Text:   "still answered",
		Models: []domain.ModelSelector{selector(domain.ProviderOpenAI, "GPT-4o", "1")},
	})
	if err != nil {
		t.Fatalf("Expected charged request to reach the models, got %v", err)
	}
	if result.Responses["openai-GPT-4o"] != "reply from openai:gpt-4o" {
		t.Errorf("Unexpected responses %v", result.Responses)
	}
	assertMessages(t, a.caller.lastCall("openai:gpt-4o"), []ChatMessage{{Role: "user", Content: "still answered"}})
}

func assertMessages(t *testing.T, got, want []ChatMessage) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d messages, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Message %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
