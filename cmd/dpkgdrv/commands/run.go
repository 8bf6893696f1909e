package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	apprun "github.com/slok/dpkgdrv/internal/app/run"
	"github.com/slok/dpkgdrv/internal/dpkg"
	"github.com/slok/dpkgdrv/internal/progress"
	"github.com/slok/dpkgdrv/internal/storage/io"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	planFile   string
	statusFile string
	progressFD int
	envSpecs   []string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run the operations of a plan file with dpkg.")
	c.Cmd.Flag("plan", "YAML plan file with the operations to run.").Short('p').Required().StringVar(&c.planFile)
	c.Cmd.Flag("status-file", "Import installed versions from a dpkg status database before running.").StringVar(&c.statusFile)
	c.Cmd.Flag("progress-fd", "Write machine readable progress lines to this file descriptor instead of human progress to stdout.").Default("-1").IntVar(&c.progressFD)
	c.Cmd.Flag("env", "Environment variables for dpkg (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&c.envSpecs)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cmdEnv, err := parseEnvSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid --env value: %w", err)
	}

	cfg, err := c.rootCmd.LoadConfig()
	if err != nil {
		return err
	}

	planPath, err := rootRelative(c.planFile)
	if err != nil {
		return err
	}
	reqs, err := io.NewPlanYAMLRepository(os.DirFS("/")).GetPlan(ctx, planPath)
	if err != nil {
		return fmt.Errorf("could not load plan: %w", err)
	}

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if c.statusFile != "" {
		resp, err := importStatus(ctx, logger, repo, c.statusFile)
		if err != nil {
			return err
		}
		logger.Infof("Imported %d installed packages", resp.Installed)
	}

	var reporter progress.Reporter = progress.NewTextReporter(c.rootCmd.Stdout)
	if c.progressFD >= 0 {
		f := os.NewFile(uintptr(c.progressFD), "progress-fd")
		if f == nil {
			return fmt.Errorf("invalid progress file descriptor %d", c.progressFD)
		}
		defer f.Close()
		reporter = progress.NewLineReporter(f, logger)
	}

	driver, err := dpkg.NewDriver(dpkg.DriverConfig{
		Config:   cfg,
		Reporter: reporter,
		Env:      cmdEnv,
		Stdin:    c.rootCmd.Stdin,
		Stdout:   c.rootCmd.Stdout,
		Stderr:   c.rootCmd.Stderr,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create driver: %w", err)
	}

	svc, err := apprun.NewService(apprun.ServiceConfig{
		Driver:     driver,
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	r, err := svc.Run(ctx, apprun.Request{Operations: reqs})
	if err != nil {
		return err
	}

	logger.Infof("Run %s %s (%d batches, %d/%d steps)", r.ID, r.Status, r.Batches, r.DoneSteps, r.TotalSteps)

	return nil
}
