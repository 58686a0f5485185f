package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestUser(t *testing.T, store repository.Store, credits string) uuid.UUID {
	t.Helper()
	users := NewUserService(store, decimal.RequireFromString(credits), nil)
	user, created, err := users.FindOrCreate(context.Background(), uuid.New(), "tester@example.com")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if !created {
		t.Fatal("Expected a new user")
	}
	return user.ID
}

// fakeCaller answers with a canned reply per backend and records what it was sent.
type fakeCaller struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]bool
	calls   map[string][][]ChatMessage
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		replies: map[string]string{},
		fail:    map[string]bool{},
		calls:   map[string][][]ChatMessage{},
	}
}

func backendKey(b domain.BackendDescriptor) string {
	if b.Deployment != "" {
		return string(b.Provider) + ":" + b.Deployment
	}
	return string(b.Provider) + ":" + b.Model
}

func (f *fakeCaller) Call(_ context.Context, messages []ChatMessage, backend domain.BackendDescriptor) CallOutcome {
	key := backendKey(backend)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key] = append(f.calls[key], messages)

	if f.fail[key] {
		return Failure(errors.New("upstream unavailable"))
	}
	if reply, ok := f.replies[key]; ok {
		return Success(reply, nil)
	}
	return Success("reply from "+key, nil)
}

func (f *fakeCaller) lastCall(key string) []ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[key]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

type testArena struct {
	store   *repository.SQLiteStore
	caller  *fakeCaller
	ledger  *CreditLedger
	convs   *ConversationService
	compare *ComparisonService
}

func newTestArena(t *testing.T) *testArena {
	t.Helper()
	store := newTestStore(t)
	registry, err := LoadModelRegistry("")
	if err != nil {
		t.Fatalf("Failed to load registry: %v", err)
	}

	a := &testArena{
		store:  store,
		caller: newFakeCaller(),
		ledger: NewCreditLedger(store, nil),
		convs:  NewConversationService(store),
	}
	a.compare = NewComparisonService(ComparisonDeps{
		Store:         store,
		Ledger:        a.ledger,
		Conversations: a.convs,
		Registry:      registry,
		Caller:        a.caller,
		MaxParallel:   4,
	})
	return a
}

func selector(provider domain.Provider, label, price string) domain.ModelSelector {
	return domain.ModelSelector{Provider: provider, Label: label, Price: decimal.RequireFromString(price)}
}
