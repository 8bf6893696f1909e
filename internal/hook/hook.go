// Package hook runs the configured scripts around package tool invocations.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/utils/env"
	"github.com/slok/dpkgdrv/internal/utils/term"
)

const (
	// failureExitBase is the exit code base used by the hooks shell to report
	// the 1-based index of the failed command.
	failureExitBase = 100
	maxExitCode     = 255
)

// RunnerConfig is the configuration of the hooks runner.
type RunnerConfig struct {
	Config *config.Config
	// Shell is the shell used to run the commands, defaults to /bin/sh.
	Shell string
	// ScratchDir is the working directory of plain hooks, defaults to the temp dir.
	ScratchDir string
	// Env is added to the hooks environment.
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// InterruptGuard is held while the hooks run, defaults to term.SignalGuard.
	InterruptGuard term.InterruptGuard
	Logger         log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Config == nil {
		return fmt.Errorf("config is required")
	}

	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}

	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
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

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "hook.Runner"})

	return nil
}

// Runner runs hooks.
type Runner struct {
	cfg    *config.Config
	shell  string
	dir    string
	env    []string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	guard  term.InterruptGuard
	logger log.Logger
}

// NewRunner returns a new hooks runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		cfg:    cfg.Config,
		shell:  cfg.Shell,
		dir:    cfg.ScratchDir,
		env:    env.Child(cfg.Env),
		stdin:  cfg.Stdin,
		stdout: cfg.Stdout,
		stderr: cfg.Stderr,
		guard:  cfg.InterruptGuard,
		logger: cfg.Logger,
	}, nil
}

// RunHooks runs the commands of a hook in order on a single shell started in
// the scratch directory. The first failed command stops the hook and is
// reported in the returned model.HookError.
func (r *Runner) RunHooks(ctx context.Context, hook string) error {
	cmds := r.cfg.Hooks(hook)
	if len(cmds) == 0 {
		return nil
	}

	logger := r.logger.WithCtxValues(ctx).WithValues(log.Kv{"hook": hook})
	logger.Infof("Running %s hooks (%d commands)", hook, len(cmds))

	cmd := exec.Command(r.shell, "-c", hooksScript(r.dir, cmds))
	cmd.Env = r.env
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	release := r.guard.Acquire()
	defer release()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start %s hooks: %w: %w", hook, model.ErrSpawn, err)
	}

	err := cmd.Wait()
	release()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("could not wait %s hooks: %w: %w", hook, model.ErrSpawn, err)
	}

	code := exitErr.ExitCode()
	herr := &model.HookError{Hook: hook, ExitCode: code}
	if idx := code - failureExitBase; idx >= 1 && idx <= len(cmds) && code < maxExitCode {
		herr.Command = cmds[idx-1]
	}
	logger.Errorf("%s", herr)

	return herr
}

// hooksScript returns a shell script that runs every command in its own
// subshell, exiting with 100+index of the first failed one.
func hooksScript(dir string, cmds []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s || exit %d\n", shellQuote(dir), failureExitBase)
	for i, c := range cmds {
		code := failureExitBase + i + 1
		if code > maxExitCode {
			code = maxExitCode
		}
		fmt.Fprintf(&b, "(\n%s\n) || exit %d\n", c, code)
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RunHooksWithPendingFiles runs every helper program of a hook feeding the
// pending operations on its standard input. The protocol version of each
// program is read from `DPkg::Tools::Options::<program>::Version`.
func (r *Runner) RunHooksWithPendingFiles(ctx context.Context, hook string, ops []model.Operation) error {
	for _, command := range r.cfg.Hooks(hook) {
		program, _, _ := strings.Cut(command, " ")
		version := r.cfg.ToolVersion(program)

		logger := r.logger.WithCtxValues(ctx).WithValues(log.Kv{"hook": hook, "program": program, "protocol": version})
		logger.Infof("Running %s helper %q", hook, command)

		var payload bytes.Buffer
		var err error
		if version <= 1 {
			err = WritePendingFilesV1(&payload, ops)
		} else {
			err = WritePendingFilesV2(&payload, r.cfg.Entries(), ops)
		}
		if err != nil {
			return fmt.Errorf("could not build %s input: %w", hook, err)
		}

		if err := r.runHelper(hook, command, payload.Bytes(), logger); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) runHelper(hook, command string, payload []byte, logger log.Logger) error {
	cmd := exec.Command(r.shell, "-c", command)
	cmd.Env = r.env
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not create %s helper pipe: %w: %w", hook, model.ErrSpawn, err)
	}

	release := r.guard.Acquire()
	defer release()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start %s helper %q: %w: %w", hook, command, model.ErrSpawn, err)
	}

	// Helpers are free to not read their input.
	if _, err := stdin.Write(payload); err != nil {
		logger.Warningf("could not write helper input: %s", err)
	}
	_ = stdin.Close()

	err = cmd.Wait()
	release()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("could not wait %s helper %q: %w: %w", hook, command, model.ErrSpawn, err)
	}

	herr := &model.HookError{Hook: hook, Command: command, ExitCode: exitErr.ExitCode()}
	logger.Errorf("%s", herr)

	return herr
}
