package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type PackagesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewPackagesCommand returns the packages command.
func NewPackagesCommand(rootCmd *RootCommand, app *kingpin.Application) *PackagesCommand {
	c := &PackagesCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("packages", "List the package catalog.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c PackagesCommand) Name() string { return c.Cmd.FullCommand() }

func (c PackagesCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	pkgs, err := repo.ListPackages(ctx)
	if err != nil {
		return fmt.Errorf("could not list packages: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintPackages(pkgs); err != nil {
		return fmt.Errorf("could not print packages: %w", err)
	}

	return nil
}
