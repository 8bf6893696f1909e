package lib

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/slok/dpkgdrv/internal/app/history"
	"github.com/slok/dpkgdrv/internal/app/importstatus"
	"github.com/slok/dpkgdrv/internal/app/plan"
	"github.com/slok/dpkgdrv/internal/app/run"
	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/dpkg"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
	"github.com/slok/dpkgdrv/internal/storage"
	storageio "github.com/slok/dpkgdrv/internal/storage/io"
	"github.com/slok/dpkgdrv/internal/storage/memory"
	"github.com/slok/dpkgdrv/internal/storage/sqlite"
)

// Config configures the SDK client.
//
// All fields are optional. An empty Config{} uses an in-memory package
// catalog and run journal, the default dpkg configuration and the process
// standard streams.
type Config struct {
	// DBPath is the SQLite database path. When empty the catalog and the run
	// journal are kept in memory and lost on Close.
	DBPath string

	// ConfigFiles are YAML configuration files loaded in order.
	ConfigFiles []string

	// Settings are `Key::Path=value` configuration assignments applied after
	// the config files (e.g. "Dir::Bin::dpkg=/usr/bin/dpkg").
	Settings []string

	// Env is added to the dpkg environment.
	Env map[string]string

	// Stdin, Stdout and Stderr are passed to dpkg and the hooks.
	// Default: the process standard streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// OnProgress receives the progress events of the runs. Default: ignored.
	OnProgress func(Event)

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}

	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}

	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	return nil
}

// Client is the SDK entry point to run dpkg operations programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// Runs must not be started concurrently, dpkg locks its own database.
type Client struct {
	repo     storage.Repository
	config   *config.Config
	env      map[string]string
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	reporter progress.Reporter
	logger   log.Logger
	closeFn  func() error
}

// New creates a new SDK client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dcfg, err := config.Load(config.LoadConfig{
		Files:     cfg.ConfigFiles,
		Overrides: cfg.Settings,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not load configuration: %w", err))
	}

	c := &Client{
		config:   dcfg,
		env:      cfg.Env,
		stdin:    cfg.Stdin,
		stdout:   cfg.Stdout,
		stderr:   cfg.Stderr,
		reporter: progress.Noop,
		logger:   cfg.Logger,
	}
	if cfg.OnProgress != nil {
		c.reporter = reporterFunc(cfg.OnProgress)
	}

	if cfg.DBPath == "" {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		c.repo = repo
		return c, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	c.repo = repo
	c.closeFn = repo.Close

	return c, nil
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

func (c *Client) newDriver() (*dpkg.Driver, error) {
	return dpkg.NewDriver(dpkg.DriverConfig{
		Config:   c.config,
		Reporter: c.reporter,
		Env:      c.env,
		Stdin:    c.stdin,
		Stdout:   c.stdout,
		Stderr:   c.stderr,
		Logger:   c.logger,
	})
}

// Run runs the operations with dpkg, in order, and records the run.
//
// Packages known by the catalog can be configured or removed, install
// operations register their package. A failed run is returned together with
// the error when dpkg was involved.
func (c *Client) Run(ctx context.Context, ops []Operation) (*Run, error) {
	driver, err := c.newDriver()
	if err != nil {
		return nil, fmt.Errorf("could not create driver: %w", err)
	}

	svc, err := run.NewService(run.ServiceConfig{
		Driver:     driver,
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	r, err := svc.Run(ctx, run.Request{Operations: toInternalRequests(ops)})
	if r == nil {
		return nil, mapError(err)
	}

	result := fromInternalRun(*r)
	return &result, mapError(err)
}

// Plan returns the dpkg invocations the operations would run. Nothing is
// run and the catalog is not changed.
func (c *Client) Plan(ctx context.Context, ops []Operation) (*Plan, error) {
	driver, err := c.newDriver()
	if err != nil {
		return nil, fmt.Errorf("could not create driver: %w", err)
	}

	svc, err := plan.NewService(plan.ServiceConfig{
		Planner:    driver,
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, plan.Request{Operations: toInternalRequests(ops)})
	if err != nil {
		return nil, mapError(err)
	}

	p := &Plan{TotalSteps: resp.TotalSteps}
	for _, inv := range resp.Invocations {
		p.Invocations = append(p.Invocations, fromInternalInvocation(inv))
	}

	return p, nil
}

// ImportStatus imports the installed versions of a dpkg status database
// (e.g. /var/lib/dpkg/status) in the catalog and returns the number of
// installed packages.
func (c *Client) ImportStatus(ctx context.Context, statusPath string) (int, error) {
	abs, err := filepath.Abs(statusPath)
	if err != nil {
		return 0, fmt.Errorf("could not resolve status path: %w", err)
	}

	svc, err := importstatus.NewService(importstatus.ServiceConfig{
		StatusRepository: storageio.NewDpkgStatusRepository(os.DirFS("/")),
		Repository:       c.repo,
		Logger:           c.logger,
	})
	if err != nil {
		return 0, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, importstatus.Request{StatusPath: abs[1:]})
	if err != nil {
		return 0, mapError(err)
	}

	return resp.Installed, nil
}

// SetPackage registers or replaces a package in the catalog.
func (c *Client) SetPackage(ctx context.Context, p Package) error {
	if err := model.ValidatePackageName(p.Name); err != nil {
		return mapError(err)
	}

	return mapError(c.repo.SavePackage(ctx, model.Package{
		Name:             p.Name,
		Architecture:     p.Architecture,
		CurrentVersion:   p.CurrentVersion,
		CandidateVersion: p.CandidateVersion,
	}))
}

// ListPackages returns the catalog packages sorted by name.
func (c *Client) ListPackages(ctx context.Context) ([]Package, error) {
	pkgs, err := c.repo.ListPackages(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		result[i] = fromInternalPackage(p)
	}

	return result, nil
}

// History returns the recorded runs, most recent first. A zero limit
// returns all of them.
func (c *Client) History(ctx context.Context, limit int) ([]Run, error) {
	svc, err := history.NewService(history.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	runs, err := svc.Run(ctx, history.Request{Limit: limit})
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]Run, len(runs))
	for i, r := range runs {
		result[i] = fromInternalRun(r)
	}

	return result, nil
}

// Doctor runs the driver preflight checks.
func (c *Client) Doctor(ctx context.Context) ([]CheckResult, error) {
	driver, err := c.newDriver()
	if err != nil {
		return nil, fmt.Errorf("could not create driver: %w", err)
	}

	results := driver.Check(ctx)
	results = append(results, dpkg.CheckHooks(c.config)...)

	return fromInternalCheckResults(results), nil
}
