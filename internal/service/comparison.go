package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ModelResolver maps a selected model to the backend that serves it.
type ModelResolver interface {
	Resolve(provider domain.Provider, label string) (domain.BackendDescriptor, bool)
}

type ComparisonDeps struct {
	Store         repository.Store
	Ledger        *CreditLedger
	Conversations *ConversationService
	Registry      ModelResolver
	Caller        ModelCaller
	Events        EventLogger
	MaxParallel   int
	CallTimeout   time.Duration
}

// ComparisonService sends one prompt to several models and records the replies.
type ComparisonService struct {
	store         repository.Store
	ledger        *CreditLedger
	conversations *ConversationService
	registry      ModelResolver
	caller        ModelCaller
	events        EventLogger
	maxParallel   int
	callTimeout   time.Duration
}

func NewComparisonService(deps ComparisonDeps) *ComparisonService {
	s := &ComparisonService{
		store:         deps.Store,
		ledger:        deps.Ledger,
		conversations: deps.Conversations,
		registry:      deps.Registry,
		caller:        deps.Caller,
		events:        orNop(deps.Events),
		maxParallel:   deps.MaxParallel,
		callTimeout:   deps.CallTimeout,
	}
	if s.maxParallel <= 0 {
		s.maxParallel = 1
	}
	if s.callTimeout <= 0 {
		s.callTimeout = config.RequestTimeout
	}
	return s
}

type CompareRequest struct {
	UserID    uuid.UUID
	SessionID *uuid.UUID
	Text      string
	Models    []domain.ModelSelector
}

type CompareResult struct {
	Prompt           string
	Responses        map[string]string
	Failed           []string
	AvailableCredits decimal.Decimal
	SessionID        uuid.UUID
}

type slot struct {
	model   domain.ModelSelector
	text    string
	failed  bool
	skipped bool
}

func (s *ComparisonService) Compare(ctx context.Context, req CompareRequest) (*CompareResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.ErrEmptyPrompt
	}

	session, isNew, selection, err := s.conversations.Resolve(ctx, req.UserID, req.SessionID, req.Models)
	if err != nil {
		return nil, err
	}

	total := domain.TotalCost(selection)
	meta := map[string]any{
		"session_id": session.ID.String(),
		"models":     len(selection),
	}

	var (
		balance decimal.Decimal
		msg     *domain.PromptMessage
		turns   []domain.Turn
	)
	err = retryOnConflict(ctx, func() error {
		return s.store.InTx(ctx, func(q repository.Querier) error {
			b, err := s.ledger.debit(ctx, q, req.UserID, total, meta)
			if err != nil {
				return err
			}
			if isNew {
				if err := s.conversations.Create(ctx, q, session, req.Text); err != nil {
					return err
				}
			}
			m, err := s.conversations.AppendUserTurn(ctx, q, session, req.Text)
			if err != nil {
				return err
			}
			// Snapshot before commit so no later read can strand a charged turn.
			t, err := s.conversations.Turns(ctx, q, session.ID)
			if err != nil {
				return err
			}
			balance, msg, turns = b, m, t
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("charge comparison: %w", err)
	}

	slots := s.dispatch(context.WithoutCancel(ctx), req.UserID, msg, turns, selection)

	result := &CompareResult{
		Prompt:           req.Text,
		Responses:        make(map[string]string, len(slots)),
		AvailableCredits: balance,
		SessionID:        session.ID,
	}
	for _, sl := range slots {
		if sl.skipped {
			continue
		}
		key := sl.model.Key()
		result.Responses[key] = sl.text
		if sl.failed {
			result.Failed = append(result.Failed, key)
		}
	}
	return result, nil
}

// dispatch calls every selected model concurrently. Each branch writes only
// its own slot.
func (s *ComparisonService) dispatch(ctx context.Context, userID uuid.UUID, msg *domain.PromptMessage, turns []domain.Turn, selection []domain.ModelSelector) []slot {
	slots := make([]slot, len(selection))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)

	for i, model := range selection {
		slots[i].model = model
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in model call", "model", model.Key(), "panic", r)
					slots[i].text = "Error: internal error"
					slots[i].failed = true
				}
			}()
			s.callOne(ctx, userID, msg, turns, &slots[i])
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (s *ComparisonService) callOne(ctx context.Context, userID uuid.UUID, msg *domain.PromptMessage, turns []domain.Turn, sl *slot) {
	backend, ok := s.registry.Resolve(sl.model.Provider, sl.model.Label)
	if !ok {
		slog.Warn("model not in catalogue, skipped", "model", sl.model.Key(), "user_id", userID)
		sl.skipped = true
		return
	}

	history := ChatMessagesFromHistory(domain.HistoryFor(turns, sl.model.Provider, sl.model.Label))

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	start := time.Now()
	outcome := s.caller.Call(callCtx, history, backend)
	cancel()
	if outcome.Latency == 0 {
		outcome.Latency = time.Since(start)
	}

	if !outcome.OK() {
		s.fail(userID, sl, outcome.Err)
		return
	}

	if _, err := s.conversations.AppendModelReply(ctx, msg, sl.model, outcome); err != nil {
		slog.Error("failed to store model reply", "error", err, "model", sl.model.Key())
		s.fail(userID, sl, err)
		return
	}

	slog.Info("model replied",
		"model", sl.model.Key(),
		"user_id", userID,
		"latency_ms", outcome.Latency.Milliseconds(),
	)
	sl.text = outcome.Text
}

func (s *ComparisonService) fail(userID uuid.UUID, sl *slot, err error) {
	slog.Warn("model call failed", "model", sl.model.Key(), "user_id", userID, "error", err)
	s.events.LogModelFailure(userID, sl.model.Key(), err.Error())
	sl.text = "Error: " + err.Error()
	sl.failed = true
}
