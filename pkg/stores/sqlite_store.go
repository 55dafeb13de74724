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
	"github.com/google/uuid"
	"github.com/openfroyo/scripthost/pkg/container"
	"github.com/openfroyo/scripthost/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore stores deployments and events in SQLite.
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
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

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

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
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

// DeploymentCreated implements container.Recorder.
func (s *SQLiteStore) DeploymentCreated(ctx context.Context, d container.Deployment) error {
	query := `
		INSERT INTO deployments (id, identifier, prefix, health, deployed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET health = excluded.health, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.Identifier,
		d.Prefix,
		string(d.Health),
		d.DeployedAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// HealthChanged implements container.Recorder.
func (s *SQLiteStore) HealthChanged(ctx context.Context, deploymentID string, health container.Health, fault *container.Fault) error {
	now := time.Now().UTC()

	var exitCode *int
	var lastError *string
	if fault != nil {
		code := fault.ExitCode
		exitCode = &code
		if fault.Cause != nil {
			msg := fault.Cause.Error()
			lastError = &msg
		}
	}

	var stoppedAt *time.Time
	if health == container.HealthStopped {
		stoppedAt = &now
	}

	query := `
		UPDATE deployments
		SET health = ?,
		    exit_code = COALESCE(?, exit_code),
		    last_error = COALESCE(?, last_error),
		    stopped_at = COALESCE(?, stopped_at),
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, string(health), exitCode, lastError, stoppedAt, now, deploymentID)
	if err != nil {
		return fmt.Errorf("failed to update deployment health: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment %s: %w", deploymentID, ErrNotFound)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT id, identifier, prefix, health, exit_code, last_error, deployed_at, updated_at, stopped_at
		FROM deployments
		WHERE id = ?
	`

	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// ListDeployments lists deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `
		SELECT id, identifier, prefix, health, exit_code, last_error, deployed_at, updated_at, stopped_at
		FROM deployments
		ORDER BY deployed_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	return deployments, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	d := &Deployment{}
	err := row.Scan(
		&d.ID,
		&d.Identifier,
		&d.Prefix,
		&d.Health,
		&d.ExitCode,
		&d.LastError,
		&d.DeployedAt,
		&d.UpdatedAt,
		&d.StoppedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateEvent stores a component event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *ComponentEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO component_events (id, deployment_id, type, level, source, component, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.DeploymentID,
		event.Type,
		event.Level,
		event.Source,
		event.Component,
		event.Message,
		event.Data,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// ListEvents lists events in creation order. An empty deploymentID lists
// events of every deployment.
func (s *SQLiteStore) ListEvents(ctx context.Context, deploymentID string, limit int) ([]*ComponentEvent, error) {
	query := `
		SELECT id, deployment_id, type, level, source, component, message, data, created_at
		FROM component_events
		WHERE (? = '' OR deployment_id = ?)
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*ComponentEvent{}
	for rows.Next() {
		e := &ComponentEvent{}
		err := rows.Scan(
			&e.ID,
			&e.DeploymentID,
			&e.Type,
			&e.Level,
			&e.Source,
			&e.Component,
			&e.Message,
			&e.Data,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// EventSubscriber returns a subscriber that stores published events.
// Storage failures are passed to onError when it is non-nil.
func (s *SQLiteStore) EventSubscriber(onError func(error)) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		stored := &ComponentEvent{
			ID:        event.ID,
			Type:      event.Type,
			Level:     event.Level,
			Source:    event.Source,
			Message:   event.Message,
			CreatedAt: event.Timestamp,
		}
		if event.DeploymentID != "" {
			stored.DeploymentID = &event.DeploymentID
		}
		if event.Component != "" {
			stored.Component = &event.Component
		}
		if len(event.Data) > 0 {
			if data, err := json.Marshal(event.Data); err == nil {
				blob := string(data)
				stored.Data = &blob
			}
		}

		if err := s.CreateEvent(context.Background(), stored); err != nil && onError != nil {
			onError(err)
		}
	}
}
