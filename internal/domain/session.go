package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

const sessionNameMaxRunes = 60

type ChatSession struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Name           string
	ModelSelection []ModelSelector
	StartedAt      time.Time
	EndedAt        *time.Time
}

type PromptMessage struct {
	ID        int64
	SessionID uuid.UUID
	Sender    Sender
	Content   string
	CreatedAt time.Time
}

type ModelResponse struct {
	ID              int64
	PromptMessageID int64
	Provider        Provider
	ModelLabel      string
	Content         string
	LatencyMs       *int
	TokenCount      *int
	Cost            decimal.NullDecimal
	CreatedAt       time.Time
}

// Turn is one prompt message together with the replies attached to it,
// both in creation order.
type Turn struct {
	Message   PromptMessage
	Responses []ModelResponse
}

// SessionName derives a display name from the first prompt of a session.
func SessionName(prompt string) string {
	name := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(name) <= sessionNameMaxRunes {
		return name
	}
	return string([]rune(name)[:sessionNameMaxRunes-1]) + "…"
}
