// Package dpkg drives the privileged package tool: it runs the configured
// hooks, dispatches the queued operations in batches and follows the
// progress of every package through the tool status stream.
package dpkg

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/hook"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
	"github.com/slok/dpkgdrv/internal/status"
	"github.com/slok/dpkgdrv/internal/utils/term"
)

// HookRunner runs the configured hooks.
type HookRunner interface {
	RunHooks(ctx context.Context, hook string) error
	RunHooksWithPendingFiles(ctx context.Context, hook string, ops []model.Operation) error
}

// DriverConfig is the configuration of the package tool driver.
type DriverConfig struct {
	Config *config.Config
	// Hooks defaults to a hook.Runner using the same config and standard streams.
	Hooks    HookRunner
	Reporter progress.Reporter
	// Env is added to the package tool environment.
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// InterruptGuard is held while the package tool runs, defaults to term.SignalGuard.
	InterruptGuard term.InterruptGuard
	// DrainTimeout is how long the status pipe is read after the tool exits.
	DrainTimeout time.Duration
	Logger       log.Logger
}

func (c *DriverConfig) defaults() error {
	if c.Config == nil {
		return fmt.Errorf("config is required")
	}

	if c.Reporter == nil {
		c.Reporter = progress.Noop
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

	if c.InterruptGuard == nil {
		c.InterruptGuard = term.SignalGuard
	}

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 500 * time.Millisecond
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dpkg.Driver"})

	if c.Hooks == nil {
		r, err := hook.NewRunner(hook.RunnerConfig{
			Config:         c.Config,
			Env:            c.Env,
			Stdin:          c.Stdin,
			Stdout:         c.Stdout,
			Stderr:         c.Stderr,
			InterruptGuard: c.InterruptGuard,
			Logger:         c.Logger,
		})
		if err != nil {
			return fmt.Errorf("could not create hooks runner: %w", err)
		}
		c.Hooks = r
	}

	return nil
}

// Driver runs queued operations with the package tool.
type Driver struct {
	tool         string
	options      []string
	runDir       string
	flushStdin   bool
	maxArgs      int
	maxArgBytes  int
	hooks        HookRunner
	reporter     progress.Reporter
	env          map[string]string
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
	guard        term.InterruptGuard
	drainTimeout time.Duration
	logger       log.Logger
}

// NewDriver returns a new package tool driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Driver{
		tool:         cfg.Config.DpkgPath(),
		options:      cfg.Config.DpkgOptions(),
		runDir:       cfg.Config.RunDirectory(),
		flushStdin:   cfg.Config.FlushStdin(),
		maxArgs:      cfg.Config.MaxArgs(),
		maxArgBytes:  cfg.Config.MaxArgBytes(),
		hooks:        cfg.Hooks,
		reporter:     cfg.Reporter,
		env:          cfg.Env,
		stdin:        cfg.Stdin,
		stdout:       cfg.Stdout,
		stderr:       cfg.Stderr,
		guard:        cfg.InterruptGuard,
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
	}, nil
}

// Result is the outcome of a driver run.
type Result struct {
	// Batches is the number of batches dispatched to the package tool.
	Batches    int
	TotalSteps int
	DoneSteps  int
	Packages   []model.PackageProgress
}

// Percentage returns the completion percentage of the run.
func (r Result) Percentage() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.DoneSteps) / float64(r.TotalSteps) * 100.0
}

// Plan returns the batches the operations would be dispatched in.
func (d *Driver) Plan(ops []model.Operation) []model.Batch {
	return Partition(ops, d.maxArgs, d.maxArgBytes)
}

// Args returns the package tool argument vector of a batch.
func (d *Driver) Args(statusFD int, b model.Batch) ([]string, error) {
	return BuildArgs(d.tool, d.options, statusFD, b)
}

// Go runs the operations. The result is returned even on failure with the
// progress reached so far.
//
// The Pre-Invoke and Pre-Install-Pkgs hooks run first and any failure aborts
// the run. Then every batch runs with the package tool, stopping on the first
// failure. Post-Invoke hooks run even when the tool fails, but their failure is
// only returned when nothing failed before. A cancelled context stops
// dispatching new batches, an in-flight batch always runs until the tool exits.
func (d *Driver) Go(ctx context.Context, ops []model.Operation) (Result, error) {
	logger := d.logger.WithCtxValues(ctx)

	parser, err := status.NewParser(status.ParserConfig{
		Operations: ops,
		Reporter:   d.reporter,
		Logger:     d.logger,
	})
	if err != nil {
		return Result{}, fmt.Errorf("could not create status parser: %w", err)
	}

	res := Result{TotalSteps: parser.TotalSteps(), Packages: parser.Progress()}
	snapshot := func() Result {
		res.DoneSteps = parser.DoneSteps()
		res.Packages = parser.Progress()
		return res
	}

	if err := d.hooks.RunHooks(ctx, config.HookPreInvoke); err != nil {
		return res, err
	}
	if err := d.hooks.RunHooksWithPendingFiles(ctx, config.HookPreInstallPkgs, ops); err != nil {
		return res, err
	}

	batches := d.Plan(ops)
	logger.Infof("Dispatching %d operations in %d batches (%d steps)", len(ops), len(batches), parser.TotalSteps())

	var runErr error
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run cancelled before batch %d: %w", i+1, err)
			break
		}

		// Invalid batches are programming errors, they don't run the post hooks.
		if _, err := d.Args(0, b); err != nil {
			return snapshot(), err
		}

		logger.Debugf("running batch %d/%d: %s of %d packages", i+1, len(batches), b.Kind, len(b.Operations))
		err := d.runBatch(ctx, b, parser)
		res.Batches++
		if err != nil {
			logger.Errorf("Batch %d/%d failed: %s", i+1, len(batches), err)
			runErr = err
			break
		}
	}

	if err := d.hooks.RunHooks(ctx, config.HookPostInvoke); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			logger.Errorf("Post-Invoke hooks failed after a failed run: %s", err)
		}
	}

	return snapshot(), runErr
}
