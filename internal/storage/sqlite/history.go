package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
)

// HistoryRepositoryConfig is the configuration for the SQLite install history repository.
type HistoryRepositoryConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *HistoryRepositoryConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.HistoryRepository"})
	return nil
}

// HistoryRepository is a SQLite implementation of storage.InstallHistoryRepository.
type HistoryRepository struct {
	db     *sql.DB
	logger log.Logger
}

// NewHistoryRepository creates a new SQLite install history repository.
func NewHistoryRepository(cfg HistoryRepositoryConfig) (*HistoryRepository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HistoryRepository{
		db:     cfg.DB,
		logger: cfg.Logger,
	}, nil
}

// RecordInstallOutcome stores a finished install, assigning an ID when missing.
func (r *HistoryRepository) RecordInstallOutcome(ctx context.Context, o model.InstallOutcome) error {
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.Phase == "" {
		return fmt.Errorf("install outcome phase is required: %w", model.ErrNotValid)
	}

	query := `
		INSERT INTO install_outcomes (
			id, request_uuid, package_id, version_id,
			display_name, version_name, updating_target_id,
			phase, error, instance_id,
			started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.Request.RequestUUID,
		o.Request.PackageID,
		o.Request.VersionID,
		o.Request.DisplayName,
		o.Request.VersionName,
		o.Request.UpdatingTargetID,
		string(o.Phase),
		o.Error,
		o.InstanceID,
		o.StartedAt.UnixMilli(),
		o.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("could not insert install outcome: %w", err)
	}

	r.logger.Debugf("Recorded install outcome %s (%s)", o.ID, o.Phase)
	return nil
}

// ListInstallOutcomes returns the outcomes, newest first.
func (r *HistoryRepository) ListInstallOutcomes(ctx context.Context, limit int) ([]model.InstallOutcome, error) {
	query := `
		SELECT
			id, request_uuid, package_id, version_id,
			display_name, version_name, updating_target_id,
			phase, error, instance_id,
			started_at, finished_at
		FROM install_outcomes
		ORDER BY finished_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query install outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.InstallOutcome
	for rows.Next() {
		var o model.InstallOutcome
		var phase string
		var startedAt, finishedAt int64
		err := rows.Scan(
			&o.ID,
			&o.Request.RequestUUID,
			&o.Request.PackageID,
			&o.Request.VersionID,
			&o.Request.DisplayName,
			&o.Request.VersionName,
			&o.Request.UpdatingTargetID,
			&phase,
			&o.Error,
			&o.InstanceID,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan install outcome: %w", err)
		}
		o.Phase = model.InstallPhase(phase)
		o.StartedAt = timeFromUnixMilli(startedAt)
		o.FinishedAt = timeFromUnixMilli(finishedAt)
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return outcomes, nil
}
