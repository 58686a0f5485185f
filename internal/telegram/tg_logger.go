package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

const sendTimeout = 10 * time.Second

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramLogger mirrors operational events into topics of an ops chat.
type TelegramLogger struct {
	sender messageSender
	cfg    *config.Config
	wg     sync.WaitGroup
}

// NewTelegramLogger returns nil when no bot token or chat is configured.
func NewTelegramLogger(cfg *config.Config) (*TelegramLogger, error) {
	if cfg.TelegramBotToken == "" || cfg.LogTelegramChatID == 0 {
		return nil, nil
	}
	b, err := bot.New(cfg.TelegramBotToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramLogger{sender: b, cfg: cfg}, nil
}

type LogType string

const (
	LogTypeError        LogType = "error"
	LogTypeRegistration LogType = "registration"
	LogTypeModelFailure LogType = "modelFailure"
	LogTypeCreditGrant  LogType = "creditGrant"
)

// Log sends in the background so request handling never waits on Telegram.
func (l *TelegramLogger) Log(logType LogType, message string) {
	topicID := l.getTopicID(logType)
	if topicID == 0 {
		return
	}

	if len([]rune(message)) > config.MaxTelegramMessageLen {
		message = string([]rune(message)[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		_, err := l.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          l.cfg.LogTelegramChatID,
			Text:            message,
			MessageThreadID: topicID,
		})
		if err != nil {
			slog.Error("failed to send telegram log", "type", logType, "error", err)
		}
	}()
}

// Wait blocks until queued messages are sent.
func (l *TelegramLogger) Wait() {
	l.wg.Wait()
}

func (l *TelegramLogger) LogError(err error, context string) {
	msg := fmt.Sprintf("❌ Error\n\nContext: %s\nError: %s\nTime: %s",
		context, err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogRegistration(userID uuid.UUID, email string) {
	msg := fmt.Sprintf("👤 New User\n\nID: %s", userID)
	if email != "" {
		msg += "\nEmail: " + email
	}
	l.Log(LogTypeRegistration, msg)
}

func (l *TelegramLogger) LogModelFailure(userID uuid.UUID, model string, reason string) {
	msg := fmt.Sprintf("⚠️ Model Failure\n\nModel: %s\nUser: %s\nReason: %s", model, userID, reason)
	l.Log(LogTypeModelFailure, msg)
}

func (l *TelegramLogger) LogCreditGrant(userID uuid.UUID, amount decimal.Decimal, txType domain.TxType) {
	msg := fmt.Sprintf("💰 Credits Granted\n\nUser: %s\nAmount: %s\nType: %s", userID, amount.StringFixed(2), txType)
	l.Log(LogTypeCreditGrant, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeRegistration:
		return l.cfg.LogTopicRegistration
	case LogTypeModelFailure:
		return l.cfg.LogTopicModelFailure
	case LogTypeCreditGrant:
		return l.cfg.LogTopicCreditGrant
	default:
		return 0
	}
}
