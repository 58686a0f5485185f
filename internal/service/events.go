package service

import (
	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// EventLogger receives operational events worth surfacing outside the logs.
type EventLogger interface {
	LogError(err error, context string)
	LogRegistration(userID uuid.UUID, email string)
	LogModelFailure(userID uuid.UUID, model string, reason string)
	LogCreditGrant(userID uuid.UUID, amount decimal.Decimal, txType domain.TxType)
}

type nopEventLogger struct{}

func (nopEventLogger) LogError(error, string)                                   {}
func (nopEventLogger) LogRegistration(uuid.UUID, string)                        {}
func (nopEventLogger) LogModelFailure(uuid.UUID, string, string)                {}
func (nopEventLogger) LogCreditGrant(uuid.UUID, decimal.Decimal, domain.TxType) {}

func orNop(events EventLogger) EventLogger {
	if events == nil {
		return nopEventLogger{}
	}
	return events
}
