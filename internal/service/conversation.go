package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/shopspring/decimal"
)

type ConversationService struct {
	store repository.Store
}

func NewConversationService(store repository.Store) *ConversationService {
	return &ConversationService{store: store}
}

// SessionHistory is a session expanded into its turns.
type SessionHistory struct {
	Session domain.ChatSession
	Turns   []domain.Turn
}

// Resolve finds the session a request continues, or builds a new one that is
// not yet persisted. It returns the selection effective for this request.
func (s *ConversationService) Resolve(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, requested []domain.ModelSelector) (*domain.ChatSession, bool, []domain.ModelSelector, error) {
	if sessionID == nil {
		if len(requested) == 0 {
			return nil, false, nil, domain.ErrNoModels
		}
		session := &domain.ChatSession{
			ID:             uuid.New(),
			UserID:         userID,
			ModelSelection: requested,
		}
		return session, true, requested, nil
	}

	session, err := s.store.GetSession(ctx, *sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil, domain.ErrSessionNotFound
		}
		return nil, false, nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != userID {
		return nil, false, nil, domain.ErrSessionNotFound
	}

	selection := requested
	if len(selection) == 0 {
		selection = session.ModelSelection
	}
	if len(selection) == 0 {
		return nil, false, nil, domain.ErrNoModels
	}
	return &session, false, selection, nil
}

// Create persists a session built by Resolve. The name is taken from the
// first prompt.
func (s *ConversationService) Create(ctx context.Context, q repository.Querier, session *domain.ChatSession, firstPrompt string) error {
	session.Name = domain.SessionName(firstPrompt)
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if err := q.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *ConversationService) AppendUserTurn(ctx context.Context, q repository.Querier, session *domain.ChatSession, text string) (*domain.PromptMessage, error) {
	msg := &domain.PromptMessage{
		SessionID: session.ID,
		Sender:    domain.SenderUser,
		Content:   text,
	}
	if err := q.CreatePromptMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	return msg, nil
}

// Turns reads the session's turns through q, so a caller inside a
// transaction sees its own uncommitted turn.
func (s *ConversationService) Turns(ctx context.Context, q repository.Querier, sessionID uuid.UUID) ([]domain.Turn, error) {
	turns, err := q.ListSessionTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session turns: %w", err)
	}
	return turns, nil
}

// AppendModelReply stores one successful model reply to msg.
func (s *ConversationService) AppendModelReply(ctx context.Context, msg *domain.PromptMessage, model domain.ModelSelector, outcome CallOutcome) (*domain.ModelResponse, error) {
	latency := int(outcome.Latency / time.Millisecond)
	resp := &domain.ModelResponse{
		PromptMessageID: msg.ID,
		Provider:        model.Provider,
		ModelLabel:      model.Label,
		Content:         outcome.Text,
		LatencyMs:       &latency,
		TokenCount:      outcome.Tokens,
		Cost:            decimal.NewNullDecimal(model.Price),
	}
	if err := s.store.CreateModelResponse(ctx, resp); err != nil {
		return nil, fmt.Errorf("append model reply: %w", err)
	}
	return resp, nil
}

// RecentHistory returns the user's latest sessions, newest first.
func (s *ConversationService) RecentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]SessionHistory, error) {
	sessions, err := s.store.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	history := make([]SessionHistory, 0, len(sessions))
	for _, session := range sessions {
		turns, err := s.store.ListSessionTurns(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("list turns for %s: %w", session.ID, err)
		}
		history = append(history, SessionHistory{Session: session, Turns: turns})
	}
	return history, nil
}
