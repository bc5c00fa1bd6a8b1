package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ambiware-labs/verba/internal/config"
	_ "modernc.org/sqlite"
)

// Event records one step in the speech timeline of a session: an utterance
// requested, completed, interrupted or failed.
type Event struct {
	ID          int64
	SessionID   string
	UtteranceID string
	Type        string
	Detail      string
	CreatedAt   time.Time
}

// Speech timeline event types.
const (
	EventUtteranceRequested   = "utterance.requested"
	EventUtteranceCompleted   = "utterance.completed"
	EventUtteranceInterrupted = "utterance.interrupted"
	EventUtteranceFailed      = "utterance.failed"
	EventSessionInterrupted   = "session.interrupted"
)

// Store wraps a SQLite-backed speech timeline store.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config. With retention_mode
// ephemeral the store is a no-op and never touches disk.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS speech_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    utterance_id TEXT,
    event_type TEXT,
    detail TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_speech_events_session_created ON speech_events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSession makes sure a session row exists.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC())
	return err
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speech_events(session_id, utterance_id, event_type, detail, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.UtteranceID, evt.Type, evt.Detail, evt.CreatedAt)
	return err
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, utterance_id, event_type, detail, created_at
		 FROM speech_events WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UtteranceID, &e.Type, &e.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM speech_events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
