package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Querier is the set of queries shared by the pool and by transactions.
type Querier interface {
	// CreateUser inserts the user and its credit account. It is a no-op when
	// the user already exists.
	CreateUser(ctx context.Context, user domain.User, initialCredits decimal.Decimal) (bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)

	GetCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error)
	// LockCreditAccount reads the account for an update in the current
	// transaction. Postgres holds a row lock until commit.
	LockCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error)
	// SwapCreditBalance sets the balance to next only if it still equals
	// expected. It reports whether the row was updated.
	SwapCreditBalance(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal, usedAt *time.Time) (bool, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)

	CreateSession(ctx context.Context, session *domain.ChatSession) error
	GetSession(ctx context.Context, id uuid.UUID) (domain.ChatSession, error)
	ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ChatSession, error)
	CreatePromptMessage(ctx context.Context, msg *domain.PromptMessage) error
	CreateModelResponse(ctx context.Context, resp *domain.ModelResponse) error
	// ListSessionTurns returns every message of the session with its replies,
	// ordered by creation time, in a single query.
	ListSessionTurns(ctx context.Context, sessionID uuid.UUID) ([]domain.Turn, error)
}

// Store is a Querier that can also open transactions.
type Store interface {
	Querier

	// InTx runs fn inside a transaction, committing when fn returns nil.
	// fn must only use the Querier it is given.
	InTx(ctx context.Context, fn func(q Querier) error) error

	Ping(ctx context.Context) error
	Close() error
}

// foldTurns groups flat message/response rows, already in order, into turns.
func foldTurns(rows []turnRow) []domain.Turn {
	var turns []domain.Turn
	for _, r := range rows {
		if len(turns) == 0 || turns[len(turns)-1].Message.ID != r.message.ID {
			turns = append(turns, domain.Turn{Message: r.message})
		}
		if r.response != nil {
			last := &turns[len(turns)-1]
			last.Responses = append(last.Responses, *r.response)
		}
	}
	return turns
}

type turnRow struct {
	message  domain.PromptMessage
	response *domain.ModelResponse
}
