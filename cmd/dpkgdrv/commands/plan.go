package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/dpkgdrv/internal/app/plan"
	"github.com/slok/dpkgdrv/internal/dpkg"
	"github.com/slok/dpkgdrv/internal/storage/io"
)

type PlanCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	planFile string
	format   string
}

// NewPlanCommand returns the plan command.
func NewPlanCommand(rootCmd *RootCommand, app *kingpin.Application) *PlanCommand {
	c := &PlanCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("plan", "Show the dpkg invocations a plan file would run, without running anything.")
	c.Cmd.Flag("plan", "YAML plan file with the operations to plan.").Short('p').Required().StringVar(&c.planFile)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c PlanCommand) Name() string { return c.Cmd.FullCommand() }

func (c PlanCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

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

	driver, err := dpkg.NewDriver(dpkg.DriverConfig{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create driver: %w", err)
	}

	svc, err := plan.NewService(plan.ServiceConfig{
		Planner:    driver,
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, plan.Request{Operations: reqs})
	if err != nil {
		return fmt.Errorf("could not plan operations: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintPlan(resp.Invocations, resp.TotalSteps); err != nil {
		return fmt.Errorf("could not print plan: %w", err)
	}

	return nil
}
