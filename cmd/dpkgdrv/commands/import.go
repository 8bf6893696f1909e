package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/dpkgdrv/internal/app/importstatus"
	"github.com/slok/dpkgdrv/internal/conventions"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/storage"
	"github.com/slok/dpkgdrv/internal/storage/io"
)

type ImportCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	statusFile string
}

// NewImportCommand returns the import command.
func NewImportCommand(rootCmd *RootCommand, app *kingpin.Application) *ImportCommand {
	c := &ImportCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("import", "Import the installed package versions from a dpkg status database.")
	c.Cmd.Flag("status-file", "dpkg status database.").Default(conventions.DpkgStatusFile).StringVar(&c.statusFile)

	return c
}

func (c ImportCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImportCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	resp, err := importStatus(ctx, c.rootCmd.Logger, repo, c.statusFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Imported %d installed packages, %d no longer installed\n", resp.Installed, resp.Cleared)

	return nil
}

// importStatus imports the installed versions of a dpkg status database into the catalog.
func importStatus(ctx context.Context, logger log.Logger, repo storage.PackageRepository, statusFile string) (*importstatus.Response, error) {
	statusPath, err := rootRelative(statusFile)
	if err != nil {
		return nil, err
	}

	svc, err := importstatus.NewService(importstatus.ServiceConfig{
		StatusRepository: io.NewDpkgStatusRepository(os.DirFS("/")),
		Repository:       repo,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, importstatus.Request{StatusPath: statusPath})
	if err != nil {
		return nil, fmt.Errorf("could not import status database: %w", err)
	}

	return resp, nil
}
