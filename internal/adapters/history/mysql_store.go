package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

// MySQLStore is a MySQL implementation of the SenderHistoryStore
// interface, for deployments where several filter instances share one
// history database.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore connects to MySQL and ensures the schema exists.
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS sender_history (
			sender VARCHAR(320) PRIMARY KEY,
			message_count INT NOT NULL DEFAULT 0,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sender_display_names (
			sender VARCHAR(320) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			UNIQUE KEY uq_sender_name (sender, display_name)
		)`,
		`CREATE TABLE IF NOT EXISTS sender_reply_tos (
			sender VARCHAR(320) NOT NULL,
			reply_to VARCHAR(320) NOT NULL,
			UNIQUE KEY uq_sender_reply (sender, reply_to)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &MySQLStore{db: db, logger: logger}, nil
}

// GetHistory retrieves the accumulated history for a sender.
func (s *MySQLStore) GetHistory(ctx context.Context, sender string) (*core.SenderHistory, error) {
	sender = strings.ToLower(sender)

	history := &core.SenderHistory{Sender: sender}
	err := s.db.QueryRowContext(ctx, `
		SELECT message_count, first_seen, last_seen
		FROM sender_history
		WHERE sender = ?
	`, sender).Scan(&history.MessageCount, &history.FirstSeen, &history.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sender history: %w", err)
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

func (s *MySQLStore) queryValues(ctx context.Context, query, sender string) ([]string, error) {
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

// Record appends one observation inside a transaction.
func (s *MySQLStore) Record(ctx context.Context, sender, displayName, replyTo string, timestamp time.Time) error {
	sender = strings.ToLower(sender)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sender_history (sender, message_count, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON DUPLICATE KEY UPDATE
			message_count = message_count + 1,
			first_seen = LEAST(first_seen, VALUES(first_seen)),
			last_seen = GREATEST(last_seen, VALUES(last_seen))
	`, sender, timestamp, timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert sender history: %w", err)
	}

	if displayName != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO sender_display_names (sender, display_name) VALUES (?, ?)
		`, sender, displayName); err != nil {
			return fmt.Errorf("failed to record display name: %w", err)
		}
	}
	if replyTo != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO sender_reply_tos (sender, reply_to) VALUES (?, ?)
		`, sender, replyTo); err != nil {
			return fmt.Errorf("failed to record reply-to: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close MySQL connection: %w", err)
	}
	return nil
}
