package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
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
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init opens the database connection with WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

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

// Migrate runs database migrations.
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

// RecordRender stores a render and its sources in one transaction.
func (s *SQLiteStore) RecordRender(ctx context.Context, render *Render) error {
	if render.RenderedAt.IsZero() {
		render.RenderedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO renders (id, environment, namespace, digest, fragment_count, entry_count, duration_ms, rendered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		render.ID,
		render.Environment,
		render.Namespace,
		render.Digest,
		render.FragmentCount,
		render.EntryCount,
		render.Duration.Milliseconds(),
		render.RenderedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record render: %w", err)
	}

	for i, source := range render.Sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO render_sources (render_id, position, source) VALUES (?, ?, ?)`,
			render.ID, i, source,
		)
		if err != nil {
			return fmt.Errorf("failed to record render source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit render: %w", err)
	}
	return nil
}

const renderColumns = `id, environment, namespace, digest, fragment_count, entry_count, duration_ms, rendered_at`

// GetRender retrieves a render by ID
func (s *SQLiteStore) GetRender(ctx context.Context, id string) (*Render, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+renderColumns+` FROM renders WHERE id = ?`, id)

	render, err := scanRender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	if err := s.loadSources(ctx, render); err != nil {
		return nil, err
	}
	return render, nil
}

// LatestRender returns the most recent render of one top.
func (s *SQLiteStore) LatestRender(ctx context.Context, env, namespace string) (*Render, error) {
	renders, err := s.ListRenders(ctx, RenderFilter{Environment: env, Namespace: namespace, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(renders) == 0 {
		return nil, fmt.Errorf("render of %s/%s: %w", namespace, env, ErrNotFound)
	}
	return renders[0], nil
}

// ListRenders lists renders, newest first.
func (s *SQLiteStore) ListRenders(ctx context.Context, filter RenderFilter) ([]*Render, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+renderColumns+`
		FROM renders
		WHERE (? = '' OR environment = ?)
		  AND (? = '' OR namespace = ?)
		ORDER BY rendered_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`,
		filter.Environment, filter.Environment,
		filter.Namespace, filter.Namespace,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := []*Render{}
	for rows.Next() {
		render, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, render)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating renders: %w", err)
	}

	for _, render := range renders {
		if err := s.loadSources(ctx, render); err != nil {
			return nil, err
		}
	}
	return renders, nil
}

// PruneRenders deletes all but the newest keep renders of one top.
func (s *SQLiteStore) PruneRenders(ctx context.Context, env, namespace string, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM renders
		WHERE environment = ? AND namespace = ?
		  AND id NOT IN (
			SELECT id FROM renders
			WHERE environment = ? AND namespace = ?
			ORDER BY rendered_at DESC, rowid DESC
			LIMIT ?
		  )
	`, env, namespace, env, namespace, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune renders: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) loadSources(ctx context.Context, render *Render) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source FROM render_sources WHERE render_id = ? ORDER BY position`, render.ID)
	if err != nil {
		return fmt.Errorf("failed to load render sources: %w", err)
	}
	defer rows.Close()

	render.Sources = []string{}
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return fmt.Errorf("failed to scan render source: %w", err)
		}
		render.Sources = append(render.Sources, source)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (*Render, error) {
	render := &Render{}
	var durationMS int64
	err := row.Scan(
		&render.ID,
		&render.Environment,
		&render.Namespace,
		&render.Digest,
		&render.FragmentCount,
		&render.EntryCount,
		&durationMS,
		&render.RenderedAt,
	)
	if err != nil {
		return nil, err
	}
	render.Duration = time.Duration(durationMS) * time.Millisecond
	return render, nil
}

// AppendEvent appends an event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, type, level, environment, namespace, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Level,
		event.Environment,
		event.Namespace,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
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

// ListEvents lists events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, type, level, environment, namespace, message, details, timestamp
		FROM events
		WHERE (? = '' OR environment = ?)
		  AND (? = '' OR type = ?)
		  AND (? = '' OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`,
		filter.Environment, filter.Environment,
		filter.Type, filter.Type,
		filter.Level, filter.Level,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Level,
			&event.Environment,
			&event.Namespace,
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
