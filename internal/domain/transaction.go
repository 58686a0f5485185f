package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxTypeTopup  TxType = "topup"
	TxTypeDeduct TxType = "deduct"
	TxTypeRefund TxType = "refund"
)

// ParseTxType accepts the credit-adding transaction types.
func ParseTxType(s string) (TxType, bool) {
	switch TxType(s) {
	case TxTypeTopup, TxTypeRefund:
		return TxType(s), true
	case "":
		return TxTypeTopup, true
	default:
		return "", false
	}
}

// Transaction is an immutable ledger entry. Amount is signed: deductions are negative.
type Transaction struct {
	ID        int64
	UserID    uuid.UUID
	Amount    decimal.Decimal
	TxType    TxType
	Metadata  map[string]any
	CreatedAt time.Time
}
