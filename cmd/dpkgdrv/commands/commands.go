package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/conventions"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/printer"
	"github.com/slok/dpkgdrv/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	DBPath      string
	ConfigFiles []string
	Overrides   []string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("db-path", "Path to the SQLite database file.").Envar("DPKGDRV_DB_PATH").Default(conventions.DefaultDBPath(homedir.HomeDir())).StringVar(&c.DBPath)
	app.Flag("config", "YAML configuration file, loaded after "+conventions.SystemConfigFile+". Can be repeated.").Short('c').StringsVar(&c.ConfigFiles)
	app.Flag("set", "Configuration assignment (e.g. DPkg::Run-Directory=/tmp, DPkg::Options::=--force-confold). Can be repeated.").Short('o').StringsVar(&c.Overrides)

	return c
}

// LoadConfig loads the configuration tree from the system file, the config
// files, the env and the assignment flags.
func (r *RootCommand) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadConfig{
		OptionalFiles: []string{conventions.SystemConfigFile},
		Files:         r.ConfigFiles,
		EnvPrefix:     conventions.EnvPrefix,
		Overrides:     r.Overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}

	return cfg, nil
}

// OpenRepository opens the SQLite run journal and package catalog.
func (r *RootCommand) OpenRepository(ctx context.Context) (*sqlite.Repository, error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: r.DBPath,
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	return repo, nil
}

func newPrinter(format string, w io.Writer) printer.Printer {
	switch format {
	case "json":
		return printer.NewJSONPrinter(w)
	default: // table
		return printer.NewTablePrinter(w)
	}
}

// rootRelative returns a path relative to the root filesystem for fs.FS based loaders.
func rootRelative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve path %s: %w", path, err)
	}

	return abs[1:], nil
}
