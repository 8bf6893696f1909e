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

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/storage/sqlite/migrations"
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

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	if _, err := migrations.Apply(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// GetPackage retrieves a package by name.
func (r *Repository) GetPackage(ctx context.Context, name string) (*model.Package, error) {
	query := `
		SELECT name, architecture, current_version, candidate_version
		FROM packages
		WHERE name = ?
	`

	var p model.Package
	err := r.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &p.Architecture, &p.CurrentVersion, &p.CandidateVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query package: %w", err)
	}

	return &p, nil
}

// ListPackages returns all packages sorted by name.
func (r *Repository) ListPackages(ctx context.Context) ([]model.Package, error) {
	query := `
		SELECT name, architecture, current_version, candidate_version
		FROM packages
		ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []model.Package
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.Name, &p.Architecture, &p.CurrentVersion, &p.CandidateVersion); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		pkgs = append(pkgs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return pkgs, nil
}

// SavePackage creates or replaces a package.
func (r *Repository) SavePackage(ctx context.Context, p model.Package) error {
	if p.Name == "" {
		return fmt.Errorf("package name is required: %w", model.ErrNotValid)
	}

	query := `
		INSERT INTO packages (name, architecture, current_version, candidate_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			architecture = excluded.architecture,
			current_version = excluded.current_version,
			candidate_version = excluded.candidate_version
	`

	if _, err := r.db.ExecContext(ctx, query, p.Name, p.Architecture, p.CurrentVersion, p.CandidateVersion); err != nil {
		return fmt.Errorf("could not save package: %w", err)
	}

	r.logger.Debugf("Saved package in repository: %s", p.Name)
	return nil
}

// CreateRun creates a new run in the repository.
func (r *Repository) CreateRun(ctx context.Context, run model.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (
			id, status, error,
			operations, batches, total_steps, done_steps,
			started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		run.ID, run.Status, run.Error,
		run.Operations, run.Batches, run.TotalSteps, run.DoneSteps,
		run.StartedAt.Unix(), unixOrNil(run.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.") {
			return fmt.Errorf("run already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert run: %w", err)
	}

	if err := insertRunPackages(ctx, tx, run); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Created run in repository: %s", run.ID)
	return nil
}

// GetRun retrieves a run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := `
		SELECT
			id, status, error,
			operations, batches, total_steps, done_steps,
			started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run: %w", err)
	}

	pkgs, err := r.runPackages(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Packages = pkgs

	return &run, nil
}

// ListRuns returns all runs, most recent first.
func (r *Repository) ListRuns(ctx context.Context) ([]model.Run, error) {
	query := `
		SELECT
			id, status, error,
			operations, batches, total_steps, done_steps,
			started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	for i := range runs {
		pkgs, err := r.runPackages(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Packages = pkgs
	}

	return runs, nil
}

// UpdateRun updates an existing run and replaces its package progress.
func (r *Repository) UpdateRun(ctx context.Context, run model.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE runs SET
			status = ?, error = ?,
			operations = ?, batches = ?, total_steps = ?, done_steps = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := tx.ExecContext(ctx, query,
		run.Status, run.Error,
		run.Operations, run.Batches, run.TotalSteps, run.DoneSteps,
		run.StartedAt.Unix(), unixOrNil(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_packages WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("could not delete run packages: %w", err)
	}
	if err := insertRunPackages(ctx, tx, run); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Updated run in repository: %s", run.ID)
	return nil
}

func insertRunPackages(ctx context.Context, tx *sql.Tx, run model.Run) error {
	if len(run.Packages) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_packages (run_id, position, name, kinds, done_steps, total_steps)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, p := range run.Packages {
		kinds := make([]string, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			kinds = append(kinds, string(k))
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, p.Name, strings.Join(kinds, ","), p.DoneSteps, p.TotalSteps); err != nil {
			return fmt.Errorf("could not insert run package: %w", err)
		}
	}

	return nil
}

func (r *Repository) runPackages(ctx context.Context, runID string) ([]model.PackageProgress, error) {
	query := `
		SELECT name, kinds, done_steps, total_steps
		FROM run_packages
		WHERE run_id = ?
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("could not query run packages: %w", err)
	}
	defer rows.Close()

	var pkgs []model.PackageProgress
	for rows.Next() {
		var p model.PackageProgress
		var kinds string
		if err := rows.Scan(&p.Name, &kinds, &p.DoneSteps, &p.TotalSteps); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		if kinds != "" {
			for _, k := range strings.Split(kinds, ",") {
				p.Kinds = append(p.Kinds, model.OperationKind(k))
			}
		}
		pkgs = append(pkgs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return pkgs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var run model.Run
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(
		&run.ID, &run.Status, &run.Error,
		&run.Operations, &run.Batches, &run.TotalSteps, &run.DoneSteps,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return model.Run{}, err
	}

	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}

	return run, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
