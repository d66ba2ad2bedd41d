// Package sqlite stores installed instances and install history in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.InstanceRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository opens (creating it if needed) and migrates the database.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(migrations.MigratorConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// DB returns the underlying database, shared with the history repository.
func (r *Repository) DB() *sql.DB { return r.db }

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

const instanceColumns = `id, name, package_id, version_id, version_name, path, installed_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateInstance stores a new instance.
func (r *Repository) CreateInstance(ctx context.Context, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	if err := insertInstance(ctx, r.db, inst); err != nil {
		return err
	}

	r.logger.Debugf("Created instance in repository: %s", inst.ID)
	return nil
}

// ReplaceInstance removes targetID and stores inst in the same transaction.
func (r *Repository) ReplaceInstance(ctx context.Context, targetID string, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, targetID)
	if err != nil {
		return fmt.Errorf("could not delete instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("instance %s: %w", targetID, model.ErrNotFound)
	}

	if err := insertInstance(ctx, tx, inst); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Replaced instance %s with %s in repository", targetID, inst.ID)
	return nil
}

func insertInstance(ctx context.Context, db execer, inst model.Instance) error {
	query := `INSERT INTO instances (` + instanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		inst.ID,
		inst.Name,
		inst.PackageID,
		inst.VersionID,
		inst.VersionName,
		inst.Path,
		inst.InstalledAt.Unix(),
		unixOrNil(inst.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: instances.") {
			return fmt.Errorf("instance %s: %w", inst.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (r *Repository) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("instance %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query instance: %w", err)
	}
	return &inst, nil
}

// ListInstances returns all instances, newest first.
func (r *Repository) ListInstances(ctx context.Context) ([]model.Instance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY installed_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("could not query instances: %w", err)
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return instances, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (model.Instance, error) {
	var inst model.Instance
	var installedAt int64
	var updatedAt sql.NullInt64

	err := s.Scan(
		&inst.ID,
		&inst.Name,
		&inst.PackageID,
		&inst.VersionID,
		&inst.VersionName,
		&inst.Path,
		&installedAt,
		&updatedAt,
	)
	if err != nil {
		return model.Instance{}, err
	}

	inst.InstalledAt = timeFromUnix(installedAt)
	if updatedAt.Valid {
		t := timeFromUnix(updatedAt.Int64)
		inst.UpdatedAt = &t
	}

	return inst, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeFromUnix(unix int64) time.Time    { return time.Unix(unix, 0).UTC() }
func timeFromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
