package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

// SQLiteStore is a SQLite implementation of the SenderHistoryStore
// interface. One row per sender, child tables for the observed display
// names and reply-to addresses.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and if needed creates) the history database.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS sender_history (
			sender TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sender_display_names (
			sender TEXT NOT NULL,
			display_name TEXT NOT NULL,
			UNIQUE(sender, display_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sender_reply_tos (
			sender TEXT NOT NULL,
			reply_to TEXT NOT NULL,
			UNIQUE(sender, reply_to)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// GetHistory retrieves the accumulated history for a sender.
func (s *SQLiteStore) GetHistory(ctx context.Context, sender string) (*core.SenderHistory, error) {
	sender = strings.ToLower(sender)

	history := &core.SenderHistory{Sender: sender}
	var firstSeen, lastSeen string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_count, first_seen, last_seen
		FROM sender_history
		WHERE sender = ?
	`, sender).Scan(&history.MessageCount, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sender history: %w", err)
	}

	if history.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return nil, fmt.Errorf("failed to parse first_seen: %w", err)
	}
	if history.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}

	if history.DisplayNames, err = s.queryValues(ctx,
		`SELECT display_name FROM sender_display_names WHERE sender = ?`, sender); err != nil {
		return nil, err
	}
	if history.ReplyTos, err = s.queryValues(ctx,
		`SELECT reply_to FROM sender_reply_tos WHERE sender = ?`, sender); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *SQLiteStore) queryValues(ctx context.Context, query, sender string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to query sender attributes: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan sender attribute: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Record appends one observation inside a transaction so the counter
// and the attribute sets move together.
func (s *SQLiteStore) Record(ctx context.Context, sender, displayName, replyTo string, timestamp time.Time) error {
	sender = strings.ToLower(sender)
	ts := timestamp.Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sender_history (sender, message_count, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET
			message_count = message_count + 1,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen)
	`, sender, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert sender history: %w", err)
	}

	if displayName != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO sender_display_names (sender, display_name) VALUES (?, ?)
		`, sender, displayName); err != nil {
			return fmt.Errorf("failed to record display name: %w", err)
		}
	}
	if replyTo != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO sender_reply_tos (sender, reply_to) VALUES (?, ?)
		`, sender, replyTo); err != nil {
			return fmt.Errorf("failed to record reply-to: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}
	return nil
}
