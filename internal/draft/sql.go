package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/DukeRupert/custodybuddy/internal/domain"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the draft database. For SQLite dsn is a file path and
// its directory is created if needed; for Postgres it is a connection URL.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("create draft directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", "file:"+dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err == nil {
			// SQLite allows a single writer
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported draft driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open draft database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping draft database: %w", err)
	}
	return db, nil
}

// SQLStore implements Store on a database/sql connection. One row per
// session holds a JSON envelope; the schema is created by the goose
// migrations in internal/migrations.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger, now: time.Now}
}

const (
	loadQuery   = `SELECT payload FROM drafts WHERE session_id = $1`
	upsertQuery = `INSERT INTO drafts (session_id, payload, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
	deleteQuery = `DELETE FROM drafts WHERE session_id = $1`
)

// Load returns the saved draft or nil.
func (s *SQLStore) Load(ctx context.Context, sessionID uuid.UUID) (*Draft, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, loadQuery, sessionID.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, "draft.load", "failed to load draft")
	}

	var d Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		s.logger.Warn("discarding malformed draft", "session_id", sessionID, "error", err)
		return nil, nil
	}
	if d.Version != Version {
		s.logger.Info("discarding draft with unexpected version", "session_id", sessionID, "version", d.Version)
		return nil, nil
	}
	if !d.Step.IsValid() {
		d.Step = domain.StepConsent
	}

	// Older rows may have null collections
	if d.Record.Parties == nil {
		d.Record.Parties = []string{}
	}
	if d.Record.Children == nil {
		d.Record.Children = []string{}
	}
	if d.Record.Evidence == nil {
		d.Record.Evidence = []domain.EvidenceItem{}
	}

	return &d, nil
}

// Save writes the record and step as the session's draft.
func (s *SQLStore) Save(ctx context.Context, sessionID uuid.UUID, rec domain.IncidentRecord, step domain.Step) error {
	d := Draft{
		Version: Version,
		Step:    step,
		SavedAt: s.now().UTC(),
		Record:  rec.Stripped(),
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return domain.Internal(err, "draft.save", "failed to encode draft")
	}

	if _, err := s.db.ExecContext(ctx, upsertQuery, sessionID.String(), string(payload), d.SavedAt); err != nil {
		return domain.Internal(err, "draft.save", "failed to save draft")
	}
	return nil
}

// Clear removes the session's draft.
func (s *SQLStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, deleteQuery, sessionID.String()); err != nil {
		return domain.Internal(err, "draft.clear", "failed to clear draft")
	}
	return nil
}
