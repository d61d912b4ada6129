// Package audit keeps a SQLite record of relay sessions: who joined, from
// where, when they left and why. Message content is never stored.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/codefionn/bfrelay/internal/relay"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnknownSession is returned when closing a session that was never recorded.
var ErrUnknownSession = errors.New("unknown session")

// Entry is one recorded session
type Entry struct {
	ID       int64
	Session  string
	Token    string
	Address  string
	JoinedAt time.Time
	LeftAt   *time.Time
	Reason   string
}

// Open reports whether the session was still connected when read.
func (e Entry) Open() bool {
	return e.LeftAt == nil
}

// Store handles SQLite operations for the audit log
type Store struct {
	db     *sql.DB
	dbPath string
	log    *slog.Logger
}

// Open opens or creates the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// serializes writers; sqlite allows one at a time anyway
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logger.Slog().With("component", "audit"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		address TEXT,
		joined_at DATETIME NOT NULL,
		left_at DATETIME,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_joined_at ON sessions(joined_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordJoin stores a newly admitted session.
func (s *Store) RecordJoin(ctx context.Context, session, token, address string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session, token, address, joined_at) VALUES (?, ?, ?, ?)`,
		session, token, address, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record join of %s: %w", session, err)
	}
	return nil
}

// RecordLeave marks the session identified by token as closed.
func (s *Store) RecordLeave(ctx context.Context, token, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET left_at = ?, reason = ? WHERE token = ? AND left_at IS NULL`,
		at.UTC(), reason, token)
	if err != nil {
		return fmt.Errorf("failed to record leave: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record leave: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, token, COALESCE(address, ''), joined_at, left_at, COALESCE(reason, '')
		FROM sessions
		ORDER BY joined_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var leftAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Session, &e.Token, &e.Address, &e.JoinedAt, &leftAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if leftAt.Valid {
			t := leftAt.Time
			e.LeftAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountOpen returns how many recorded sessions have not left. After an
// unclean shutdown this can be non-zero with no server running.
func (s *Store) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE left_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// SessionJoined implements relay.Observer.
func (s *Store) SessionJoined(sess *relay.Session) {
	if err := s.RecordJoin(context.Background(), sess.ID.String(), sess.Token, sess.RemoteAddr(), sess.JoinedAt); err != nil {
		s.log.Error("audit write failed", "session", sess.ID.String(), "error", err)
	}
}

// SessionLeft implements relay.Observer.
func (s *Store) SessionLeft(sess *relay.Session, reason string) {
	if err := s.RecordLeave(context.Background(), sess.Token, reason, time.Now()); err != nil {
		s.log.Error("audit write failed", "session", sess.ID.String(), "error", err)
		return
	}
	s.log.Debug("session closed", "session", sess.ID.String(), "reason", reason)
}

var _ relay.Observer = (*Store)(nil)
