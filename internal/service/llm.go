package service

import (
	"context"
	"fmt"
	"time"

	"github.com/set-night/modelarena/internal/domain"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOutcome is the result of one model invocation: either text or a failure reason.
type CallOutcome struct {
	Text    string
	Tokens  *int
	Err     error
	Latency time.Duration
}

func Success(text string, tokens *int) CallOutcome {
	return CallOutcome{Text: text, Tokens: tokens}
}

func Failure(err error) CallOutcome {
	return CallOutcome{Err: err}
}

func (o CallOutcome) OK() bool {
	return o.Err == nil
}

// ModelCaller invokes one model backend with a conversation.
type ModelCaller interface {
	Call(ctx context.Context, messages []ChatMessage, backend domain.BackendDescriptor) CallOutcome
}

// ChatMessagesFromHistory renders a folded model history as chat messages.
func ChatMessagesFromHistory(history []domain.Exchange) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)*2)
	for _, ex := range history {
		role := "user"
		if ex.Sender == domain.SenderSystem {
			role = "system"
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: ex.Prompt})
		if ex.Answered {
			msgs = append(msgs, ChatMessage{Role: "assistant", Content: ex.Reply})
		}
	}
	return msgs
}

// ProviderRouter sends each call to the client registered for its provider.
type ProviderRouter struct {
	clients map[domain.Provider]ModelCaller
}

func NewProviderRouter(clients map[domain.Provider]ModelCaller) *ProviderRouter {
	return &ProviderRouter{clients: clients}
}

func (r *ProviderRouter) Call(ctx context.Context, messages []ChatMessage, backend domain.BackendDescriptor) CallOutcome {
	client, ok := r.clients[backend.Provider]
	if !ok {
		return Failure(fmt.Errorf("no client configured for provider %q", backend.Provider))
	}
	return client.Call(ctx, messages, backend)
}
