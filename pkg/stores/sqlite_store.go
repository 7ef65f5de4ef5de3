package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/cloudsim/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath keeps the journal in memory for the life of the process.
const MemoryPath = ":memory:"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = MemoryPath
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 && cfg.Path != MemoryPath {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if dsn != MemoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.cfg.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, operation, source, status, succeeded, failed, skipped, started_at, completed_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Metadata == "" {
		run.Metadata = "{}"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Operation,
		run.Source,
		run.Status,
		run.Counts.Succeeded,
		run.Counts.Failed,
		run.Counts.Skipped,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, operation, source, status, succeeded, failed, skipped, started_at, completed_at, error, metadata
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, counts RunCounts, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("run status %q is not terminal", status)
	}

	query := `
		UPDATE runs
		SET status = ?, succeeded = ?, failed = ?, skipped = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		status, counts.Succeeded, counts.Failed, counts.Skipped, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, operation, source, status, succeeded, failed, skipped, started_at, completed_at, error, metadata
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends an event to the journal
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, type, kind, resource_id, resource_name, action, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Type,
		event.Kind,
		event.ResourceID,
		event.ResourceName,
		event.Action,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id

	return nil
}

// GetEvents returns events in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	query := `
		SELECT id, run_id, type, kind, resource_id, resource_name, action, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR kind = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		q.RunID, q.RunID, q.Kind, q.Kind, q.Level, q.Level, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Type,
			&event.Kind,
			&event.ResourceID,
			&event.ResourceName,
			&event.Action,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Subscriber returns a telemetry subscriber that journals every event.
// Failures go to onError, which may be nil.
func (s *SQLiteStore) Subscriber(ctx context.Context, onError func(error)) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		if err := s.AppendEvent(ctx, FromTelemetry(e)); err != nil && onError != nil {
			onError(err)
		}
	}
}

// FromTelemetry converts a telemetry event into a journal entry.
func FromTelemetry(e telemetry.Event) *Event {
	out := &Event{
		Type:         e.Type,
		Kind:         string(e.Kind),
		ResourceID:   e.ResourceID,
		ResourceName: e.ResourceName,
		Action:       string(e.Action),
		Level:        EventLevel(e.Level),
		Message:      e.Message,
		Timestamp:    e.Timestamp.UTC(),
	}
	if e.RunID != "" {
		runID := e.RunID
		out.RunID = &runID
	}
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			details := string(b)
			out.Details = &details
		}
	}
	switch out.Level {
	case EventLevelDebug, EventLevelInfo, EventLevelWarning, EventLevelError:
	default:
		out.Level = EventLevelInfo
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Operation,
		&run.Source,
		&run.Status,
		&run.Counts.Succeeded,
		&run.Counts.Failed,
		&run.Counts.Skipped,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
