package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	*pgQueries
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: &pgQueries{db: pool}, pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQueries struct {
	db DBTX
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *pgQueries) CreateUser(ctx context.Context, user domain.User, initialCredits decimal.Decimal) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		user.ID, user.Email, user.PasswordHash, nowIfZero(user.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := q.db.Exec(ctx, `
		INSERT INTO credit_accounts (user_id, available_credits)
		VALUES ($1, $2)`,
		user.ID, initialCredits); err != nil {
		return false, fmt.Errorf("insert credit account: %w", err)
	}
	return true, nil
}

func (q *pgQueries) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	var createdAt pgtype.Timestamptz
	err := q.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", notFound(err))
	}
	u.CreatedAt = pgTimestamptzToTime(createdAt)
	return u, nil
}

func (q *pgQueries) getCreditAccount(ctx context.Context, query string, userID uuid.UUID) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	var lastUsed pgtype.Timestamptz
	err := q.db.QueryRow(ctx, query, userID).Scan(&a.UserID, &a.AvailableCredits, &lastUsed)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("get credit account: %w", notFound(err))
	}
	a.LastUsedAt = pgTimestamptzToTimePtr(lastUsed)
	return a, nil
}

func (q *pgQueries) GetCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error) {
	return q.getCreditAccount(ctx, `
		SELECT user_id, available_credits, last_used_at
		FROM credit_accounts WHERE user_id = $1`, userID)
}

func (q *pgQueries) LockCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error) {
	return q.getCreditAccount(ctx, `
		SELECT user_id, available_credits, last_used_at
		FROM credit_accounts WHERE user_id = $1
		FOR UPDATE`, userID)
}

func (q *pgQueries) SwapCreditBalance(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal, usedAt *time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE credit_accounts
		SET available_credits = $3,
		    last_used_at = COALESCE($4, last_used_at)
		WHERE user_id = $1 AND available_credits = $2`,
		userID, expected, next, timePtrToPgTimestamptz(usedAt))
	if err != nil {
		return false, fmt.Errorf("update credit balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *pgQueries) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	meta, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	tx.CreatedAt = nowIfZero(tx.CreatedAt)
	err = q.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount, tx_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		tx.UserID, tx.Amount, string(tx.TxType), meta, tx.CreatedAt).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *pgQueries) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, amount, tx_type, metadata, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var txType string
		var meta []byte
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.TxType = domain.TxType(txType)
		t.CreatedAt = pgTimestamptzToTime(createdAt)
		if t.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (q *pgQueries) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	selection, err := encodeSelection(session.ModelSelection)
	if err != nil {
		return err
	}
	session.StartedAt = nowIfZero(session.StartedAt)
	if _, err := q.db.Exec(ctx, `
		INSERT INTO chat_sessions (id, user_id, session_name, model_selection, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.UserID, session.Name, selection, session.StartedAt,
		timePtrToPgTimestamptz(session.EndedAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const pgSessionColumns = `id, user_id, session_name, model_selection, started_at, ended_at`

func scanPgSession(row pgx.Row) (domain.ChatSession, error) {
	var s domain.ChatSession
	var selection []byte
	var startedAt, endedAt pgtype.Timestamptz
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &selection, &startedAt, &endedAt); err != nil {
		return domain.ChatSession{}, err
	}
	models, err := decodeSelection(selection)
	if err != nil {
		return domain.ChatSession{}, err
	}
	s.ModelSelection = models
	s.StartedAt = pgTimestamptzToTime(startedAt)
	s.EndedAt = pgTimestamptzToTimePtr(endedAt)
	return s, nil
}

func (q *pgQueries) GetSession(ctx context.Context, id uuid.UUID) (domain.ChatSession, error) {
	s, err := scanPgSession(q.db.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM chat_sessions WHERE id = $1`, id))
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("get session: %w", notFound(err))
	}
	return s, nil
}

func (q *pgQueries) ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ChatSession, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+pgSessionColumns+` FROM chat_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ChatSession
	for rows.Next() {
		s, err := scanPgSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (q *pgQueries) CreatePromptMessage(ctx context.Context, msg *domain.PromptMessage) error {
	if msg.Sender == "" {
		msg.Sender = domain.SenderUser
	}
	msg.CreatedAt = nowIfZero(msg.CreatedAt)
	err := q.db.QueryRow(ctx, `
		INSERT INTO prompt_messages (chat_session_id, sender, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		msg.SessionID, string(msg.Sender), msg.Content, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert prompt message: %w", err)
	}
	return nil
}

func (q *pgQueries) CreateModelResponse(ctx context.Context, resp *domain.ModelResponse) error {
	resp.CreatedAt = nowIfZero(resp.CreatedAt)
	err := q.db.QueryRow(ctx, `
		INSERT INTO model_responses
			(prompt_message_id, provider, model_label, response_content, latency_ms, token_count, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		resp.PromptMessageID, string(resp.Provider), resp.ModelLabel, resp.Content,
		intPtrToInt32Ptr(resp.LatencyMs), intPtrToInt32Ptr(resp.TokenCount), resp.Cost, resp.CreatedAt).
		Scan(&resp.ID)
	if err != nil {
		return fmt.Errorf("insert model response: %w", err)
	}
	return nil
}

func (q *pgQueries) ListSessionTurns(ctx context.Context, sessionID uuid.UUID) ([]domain.Turn, error) {
	rows, err := q.db.Query(ctx, `
		SELECT m.id, m.chat_session_id, m.sender, m.content, m.created_at,
		       r.id, r.provider, r.model_label, r.response_content,
		       r.latency_ms, r.token_count, r.cost, r.created_at
		FROM prompt_messages m
		LEFT JOIN model_responses r ON r.prompt_message_id = m.id
		WHERE m.chat_session_id = $1
		ORDER BY m.created_at, m.id, r.created_at, r.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session turns: %w", err)
	}
	defer rows.Close()

	var flat []turnRow
	for rows.Next() {
		var (
			m                        domain.PromptMessage
			sender                   string
			msgCreated, respCreated  pgtype.Timestamptz
			respID                   *int64
			provider, label, content *string
			latency, tokens          *int32
			cost                     decimal.NullDecimal
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &msgCreated,
			&respID, &provider, &label, &content, &latency, &tokens, &cost, &respCreated); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.CreatedAt = pgTimestamptzToTime(msgCreated)

		row := turnRow{message: m}
		if respID != nil {
			row.response = &domain.ModelResponse{
				ID:              *respID,
				PromptMessageID: m.ID,
				Provider:        domain.Provider(*provider),
				ModelLabel:      *label,
				Content:         *content,
				LatencyMs:       int32PtrToIntPtr(latency),
				TokenCount:      int32PtrToIntPtr(tokens),
				Cost:            cost,
				CreatedAt:       pgTimestamptzToTime(respCreated),
			}
		}
		flat = append(flat, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return foldTurns(flat), nil
}
