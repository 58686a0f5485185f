package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreditAccount is the single mutable balance owned by a user.
type CreditAccount struct {
	UserID           uuid.UUID
	AvailableCredits decimal.Decimal
	LastUsedAt       *time.Time
}

// CanAfford reports whether debiting amount keeps the balance non-negative.
func (a *CreditAccount) CanAfford(amount decimal.Decimal) bool {
	return !a.AvailableCredits.Sub(amount).IsNegative()
}
