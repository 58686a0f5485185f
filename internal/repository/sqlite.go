package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// sqlDBTX is satisfied by both *sql.DB and *sql.Tx.
type sqlDBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on an embedded SQLite database. Decimals are
// stored as canonical text, timestamps as unix nanoseconds.
type SQLiteStore struct {
	*sqliteQueries
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection serialises every
	// transaction, including the credit check-and-debit.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{sqliteQueries: &sqliteQueries{db: db}, db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		available_credits TEXT NOT NULL,
		last_used_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_name TEXT NOT NULL DEFAULT '',
		model_selection TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, started_at);

	CREATE TABLE IF NOT EXISTS prompt_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		sender TEXT NOT NULL DEFAULT 'user',
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompt_messages_session ON prompt_messages(chat_session_id, created_at, id);

	CREATE TABLE IF NOT EXISTS model_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt_message_id INTEGER NOT NULL REFERENCES prompt_messages(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		model_label TEXT NOT NULL,
		response_content TEXT NOT NULL,
		latency_ms INTEGER,
		token_count INTEGER,
		cost TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_model_responses_message ON model_responses(prompt_message_id, created_at, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsConflictError reports SQLite lock contention (SQLITE_BUSY or "database is locked").
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

type sqliteQueries struct {
	db sqlDBTX
}

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixNano(*t), Valid: true}
}

func timePtrFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixNano(v.Int64)
	return &t
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtrFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullDecimalText(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func (q *sqliteQueries) CreateUser(ctx context.Context, user domain.User, initialCredits decimal.Decimal) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		user.ID.String(), user.Email, user.PasswordHash, unixNano(nowIfZero(user.CreatedAt)))
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, available_credits) VALUES (?, ?)`,
		user.ID.String(), initialCredits.String()); err != nil {
		return false, fmt.Errorf("insert credit account: %w", err)
	}
	return true, nil
}

func (q *sqliteQueries) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	var createdAt int64
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id.String()).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", sqlNotFound(err))
	}
	u.CreatedAt = fromUnixNano(createdAt)
	return u, nil
}

func (q *sqliteQueries) GetCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	var balance string
	var lastUsed sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, available_credits, last_used_at
		FROM credit_accounts WHERE user_id = ?`, userID.String()).
		Scan(&a.UserID, &balance, &lastUsed)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("get credit account: %w", sqlNotFound(err))
	}
	if a.AvailableCredits, err = decimal.NewFromString(balance); err != nil {
		return domain.CreditAccount{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	a.LastUsedAt = timePtrFromNull(lastUsed)
	return a, nil
}

// LockCreditAccount is a plain read; the single connection and the
// compare-and-swap in SwapCreditBalance provide the exclusion.
func (q *sqliteQueries) LockCreditAccount(ctx context.Context, userID uuid.UUID) (domain.CreditAccount, error) {
	return q.GetCreditAccount(ctx, userID)
}

func (q *sqliteQueries) SwapCreditBalance(ctx context.Context, userID uuid.UUID, expected, next decimal.Decimal, usedAt *time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET available_credits = ?,
		    last_used_at = COALESCE(?, last_used_at)
		WHERE user_id = ? AND available_credits = ?`,
		next.String(), nullUnixNano(usedAt), userID.String(), expected.String())
	if err != nil {
		return false, fmt.Errorf("update credit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

func (q *sqliteQueries) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	meta, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	var metaText sql.NullString
	if meta != nil {
		metaText = sql.NullString{String: string(meta), Valid: true}
	}
	tx.CreatedAt = nowIfZero(tx.CreatedAt)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, amount, tx_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.UserID.String(), tx.Amount.String(), string(tx.TxType), metaText, unixNano(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if tx.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get transaction id: %w", err)
	}
	return nil
}

func (q *sqliteQueries) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, amount, tx_type, metadata, created_at
		FROM transactions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var amount, txType string
		var meta sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &txType, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		t.TxType = domain.TxType(txType)
		t.CreatedAt = fromUnixNano(createdAt)
		if meta.Valid {
			if t.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
				return nil, err
			}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (q *sqliteQueries) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	selection, err := encodeSelection(session.ModelSelection)
	if err != nil {
		return err
	}
	session.StartedAt = nowIfZero(session.StartedAt)
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, session_name, model_selection, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID.String(), session.UserID.String(), session.Name, string(selection),
		unixNano(session.StartedAt), nullUnixNano(session.EndedAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sqliteSessionColumns = `id, user_id, session_name, model_selection, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (domain.ChatSession, error) {
	var s domain.ChatSession
	var selection string
	var startedAt int64
	var endedAt sql.NullInt64
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &selection, &startedAt, &endedAt); err != nil {
		return domain.ChatSession{}, err
	}
	models, err := decodeSelection([]byte(selection))
	if err != nil {
		return domain.ChatSession{}, err
	}
	s.ModelSelection = models
	s.StartedAt = fromUnixNano(startedAt)
	s.EndedAt = timePtrFromNull(endedAt)
	return s, nil
}

func (q *sqliteQueries) GetSession(ctx context.Context, id uuid.UUID) (domain.ChatSession, error) {
	s, err := scanSQLiteSession(q.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM chat_sessions WHERE id = ?`, id.String()))
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("get session: %w", sqlNotFound(err))
	}
	return s, nil
}

func (q *sqliteQueries) ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ChatSession, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+sqliteSessionColumns+` FROM chat_sessions
		WHERE user_id = ?
		ORDER BY started_at DESC, id
		LIMIT ?`, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ChatSession
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (q *sqliteQueries) CreatePromptMessage(ctx context.Context, msg *domain.PromptMessage) error {
	if msg.Sender == "" {
		msg.Sender = domain.SenderUser
	}
	msg.CreatedAt = nowIfZero(msg.CreatedAt)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO prompt_messages (chat_session_id, sender, content, created_at)
		VALUES (?, ?, ?, ?)`,
		msg.SessionID.String(), string(msg.Sender), msg.Content, unixNano(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert prompt message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get prompt message id: %w", err)
	}
	return nil
}

func (q *sqliteQueries) CreateModelResponse(ctx context.Context, resp *domain.ModelResponse) error {
	resp.CreatedAt = nowIfZero(resp.CreatedAt)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO model_responses
			(prompt_message_id, provider, model_label, response_content, latency_ms, token_count, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.PromptMessageID, string(resp.Provider), resp.ModelLabel, resp.Content,
		nullInt(resp.LatencyMs), nullInt(resp.TokenCount), nullDecimalText(resp.Cost), unixNano(resp.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert model response: %w", err)
	}
	if resp.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get model response id: %w", err)
	}
	return nil
}

func (q *sqliteQueries) ListSessionTurns(ctx context.Context, sessionID uuid.UUID) ([]domain.Turn, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT m.id, m.chat_session_id, m.sender, m.content, m.created_at,
		       r.id, r.provider, r.model_label, r.response_content,
		       r.latency_ms, r.token_count, r.cost, r.created_at
		FROM prompt_messages m
		LEFT JOIN model_responses r ON r.prompt_message_id = m.id
		WHERE m.chat_session_id = ?
		ORDER BY m.created_at, m.id, r.created_at, r.id`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list session turns: %w", err)
	}
	defer rows.Close()

	var flat []turnRow
	for rows.Next() {
		var (
			m                        domain.PromptMessage
			sender                   string
			msgCreated               int64
			respID, respCreated      sql.NullInt64
			provider, label, content sql.NullString
			latency, tokens          sql.NullInt64
			cost                     sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.Content, &msgCreated,
			&respID, &provider, &label, &content, &latency, &tokens, &cost, &respCreated); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.CreatedAt = fromUnixNano(msgCreated)

		row := turnRow{message: m}
		if respID.Valid {
			resp := &domain.ModelResponse{
				ID:              respID.Int64,
				PromptMessageID: m.ID,
				Provider:        domain.Provider(provider.String),
				ModelLabel:      label.String,
				Content:         content.String,
				LatencyMs:       intPtrFromNull(latency),
				TokenCount:      intPtrFromNull(tokens),
				CreatedAt:       fromUnixNano(respCreated.Int64),
			}
			if cost.Valid {
				d, err := decimal.NewFromString(cost.String)
				if err != nil {
					return nil, fmt.Errorf("parse cost %q: %w", cost.String, err)
				}
				resp.Cost = decimal.NewNullDecimal(d)
			}
			row.response = resp
		}
		flat = append(flat, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return foldTurns(flat), nil
}
