package handler

import (
	"encoding/json"
	"time"

	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// credits serialises as a bare JSON number.
type credits decimal.Decimal

func (c credits) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(c).String()), nil
}

type modelInput struct {
	Provider string          `json:"provider"`
	Label    string          `json:"label"`
	Price    json.RawMessage `json:"price"`
}

type comparisonRequest struct {
	Text      string       `json:"text"`
	SessionID *string      `json:"session_id"`
	Models    []modelInput `json:"models"`
}

type comparisonResponse struct {
	Prompt           string            `json:"prompt"`
	Responses        map[string]string `json:"responses"`
	Failed           []string          `json:"failed,omitempty"`
	AvailableCredits credits           `json:"available_credits"`
	SessionID        string            `json:"session_id"`
}

type replyView struct {
	Provider   domain.Provider `json:"provider"`
	ModelLabel string          `json:"model_label"`
	Content    string          `json:"content"`
	LatencyMs  *int            `json:"latency_ms,omitempty"`
	TokenCount *int            `json:"token_count,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type turnView struct {
	MessageID int64         `json:"message_id"`
	Sender    domain.Sender `json:"sender"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Responses []replyView   `json:"responses"`
}

type sessionView struct {
	SessionID string                 `json:"session_id"`
	Name      string                 `json:"session_name"`
	Models    []domain.ModelSelector `json:"model_selection"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   *time.Time             `json:"ended_at"`
	Turns     []turnView             `json:"turns"`
}

type transactionView struct {
	ID        int64          `json:"id"`
	Amount    credits        `json:"amount"`
	Type      domain.TxType  `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type creditsResponse struct {
	AvailableCredits credits           `json:"available_credits"`
	LastUsedAt       *time.Time        `json:"last_used_at"`
	Transactions     []transactionView `json:"transactions"`
}

type grantRequest struct {
	UserID string           `json:"user_id"`
	Amount *decimal.Decimal `json:"amount"`
	Type   string           `json:"type"`
	Note   string           `json:"note"`
}

type grantResponse struct {
	UserID           string  `json:"user_id"`
	AvailableCredits credits `json:"available_credits"`
}

type modelView struct {
	Key      string `json:"key"`
	Provider string `json:"provider"`
	Label    string `json:"label"`
}
