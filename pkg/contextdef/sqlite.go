package contextdef

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/configurator/pkg/value"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteConfig holds SQLite provider configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteProvider reads Context Definition values from a context_values table.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at cfg.Path and applies migrations.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteProvider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &SQLiteProvider{db: db, path: cfg.Path}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *SQLiteProvider) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(p.db, &migratesqlite.Config{})
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

// Close closes the database connection.
func (p *SQLiteProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Lookup implements Provider.
func (p *SQLiteProvider) Lookup(ctx context.Context, path string) (value.Value, bool, error) {
	var kind, raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT kind, value FROM context_values WHERE path = ?`, path,
	).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, fmt.Errorf("failed to look up %s: %w", path, err)
	}

	v, err := decodeStored(kind, raw)
	if err != nil {
		return value.Null(), false, fmt.Errorf("context value %s: %w", path, err)
	}
	return v, true, nil
}

// Seed upserts values in a single transaction.
func (p *SQLiteProvider) Seed(ctx context.Context, values map[string]value.Value) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_values (path, kind, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for path, v := range values {
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		if _, err := stmt.ExecContext(ctx, path, storedKind(v), string(data), now); err != nil {
			return fmt.Errorf("failed to seed %s: %w", path, err)
		}
	}
	return tx.Commit()
}

func storedKind(v value.Value) string {
	if v.Kind() == value.KindDecimal && v.Precision() >= 0 {
		return fmt.Sprintf("decimal(%d)", v.Precision())
	}
	return v.Kind().String()
}

// decodeStored restores the stored kind; JSON alone cannot tell 2 from 2.0.
func decodeStored(kind, raw string) (value.Value, error) {
	var v value.Value
	if err := v.UnmarshalJSON([]byte(raw)); err != nil {
		return value.Null(), err
	}
	k, prec, err := value.ParseKind(kind)
	if err != nil || k == value.KindNull || v.IsNull() {
		return v, nil
	}
	return v.ConvertTo(k, prec)
}
