package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/log"
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
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	ConfigPath string
	Ephemeral  bool

	// Backend flags, they override the config file.
	RuntimeVersion string
	BackendJAR     string
	EnvSpecs       []string

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

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory for the runtime, database and logs.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("config", "Path to the YAML configuration file.").StringVar(&c.ConfigPath)
	app.Flag("ephemeral", "Keep instances and history in memory only.").BoolVar(&c.Ephemeral)

	app.Flag("runtime-version", "Required Java runtime version.").StringVar(&c.RuntimeVersion)
	app.Flag("backend-jar", "Path to the backend JAR.").StringVar(&c.BackendJAR)
	app.Flag("env", "Backend environment variable (KEY=VALUE or KEY to inherit), repeatable.").StringsVar(&c.EnvSpecs)

	return c
}
