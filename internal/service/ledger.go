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

const maxConflictRetries = 3

var errBalanceChanged = errors.New("credit balance changed concurrently")

// CreditLedger owns every mutation of credit balances.
type CreditLedger struct {
	store  repository.Store
	events EventLogger
}

func NewCreditLedger(store repository.Store, events EventLogger) *CreditLedger {
	return &CreditLedger{store: store, events: orNop(events)}
}

// AuthorizeAndDebit atomically checks the balance and deducts amount.
func (l *CreditLedger) AuthorizeAndDebit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, metadata map[string]any) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := retryOnConflict(ctx, func() error {
		return l.store.InTx(ctx, func(q repository.Querier) error {
			b, err := l.debit(ctx, q, userID, amount, metadata)
			balance = b
			return err
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// debit runs inside the caller's transaction. The row lock (Postgres) and the
// compare-and-swap update keep concurrent debits from both passing the check.
func (l *CreditLedger) debit(ctx context.Context, q repository.Querier, userID uuid.UUID, amount decimal.Decimal, metadata map[string]any) (decimal.Decimal, error) {
	if amount.IsNegative() || (amount.Exponent() < -domain.CreditScale && !domain.IsStorableAmount(amount)) {
		return decimal.Zero, domain.ErrInvalidAmount
	}

	acct, err := q.LockCreditAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, domain.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("lock credit account: %w", err)
	}

	if !acct.CanAfford(amount) {
		return decimal.Zero, domain.ErrInsufficientBalance
	}

	next := acct.AvailableCredits.Sub(amount)
	now := time.Now().UTC()
	ok, err := q.SwapCreditBalance(ctx, userID, acct.AvailableCredits, next, &now)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, errBalanceChanged
	}

	if err := q.CreateTransaction(ctx, &domain.Transaction{
		UserID:   userID,
		Amount:   amount.Neg(),
		TxType:   domain.TxTypeDeduct,
		Metadata: metadata,
	}); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Credit adds funds as a topup or refund entry.
func (l *CreditLedger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType domain.TxType, metadata map[string]any) (decimal.Decimal, error) {
	if !amount.IsPositive() || !domain.IsStorableAmount(amount) {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	if txType != domain.TxTypeTopup && txType != domain.TxTypeRefund {
		return decimal.Zero, fmt.Errorf("credit with %q: %w", txType, domain.ErrInvalidAmount)
	}

	var balance decimal.Decimal
	err := retryOnConflict(ctx, func() error {
		return l.store.InTx(ctx, func(q repository.Querier) error {
			acct, err := q.LockCreditAccount(ctx, userID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ErrUserNotFound
				}
				return fmt.Errorf("lock credit account: %w", err)
			}

			next := acct.AvailableCredits.Add(amount)
			if !domain.IsStorableAmount(next) {
				return fmt.Errorf("balance would exceed %s: %w", domain.MaxCreditAmount, domain.ErrInvalidAmount)
			}
			ok, err := q.SwapCreditBalance(ctx, userID, acct.AvailableCredits, next, nil)
			if err != nil {
				return err
			}
			if !ok {
				return errBalanceChanged
			}

			if err := q.CreateTransaction(ctx, &domain.Transaction{
				UserID:   userID,
				Amount:   amount,
				TxType:   txType,
				Metadata: metadata,
			}); err != nil {
				return err
			}
			balance = next
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}

	l.events.LogCreditGrant(userID, amount, txType)
	return balance, nil
}

func (l *CreditLedger) Balance(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error) {
	acct, err := l.store.GetCreditAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.CreditAccount{}, domain.ErrUserNotFound
		}
		return domain.CreditAccount{}, err
	}
	return acct, nil
}

func (l *CreditLedger) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	return l.store.ListTransactions(ctx, userID, limit)
}

// retryOnConflict reruns fn when a concurrent writer won the race.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !(errors.Is(err, errBalanceChanged) || repository.IsConflictError(err)) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxConflictRetries, err)
}
