package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/dpkgdrv/internal/app/history"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id     string
	limit  int
	format string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List the recorded runs.")
	c.Cmd.Arg("id", "Show the details of a single run.").StringVar(&c.id)
	c.Cmd.Flag("limit", "Maximum number of runs to list, 0 lists all.").Short('n').Default("0").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := history.NewService(history.ServiceConfig{
		Repository: repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	runs, err := svc.Run(ctx, history.Request{ID: c.id, Limit: c.limit})
	if err != nil {
		return fmt.Errorf("could not get history: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if c.id != "" && len(runs) == 1 {
		err = p.PrintRun(runs[0])
	} else {
		err = p.PrintRuns(runs)
	}
	if err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}
