package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/varkeep/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Flag overrides of the environment configuration. Empty means unset.
	DB     string
	Driver string
	Defs   string

	// Config is resolved from the environment on first use.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the varkeep CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "varkeep",
		Short: "varkeep - variable state engine",
		Long: `A variable state engine: typed global and per-player variables whose
values may be expressions over other variables, cached in memory and
persisted in batches.

Settings come from VARKEEP_* environment variables; --db, --driver and
--defs override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := opts.settings()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			return setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database path or DSN (default $VARKEEP_DB or varkeep.db)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver: sqlite3, sqlite or pgx (default $VARKEEP_DRIVER or sqlite3)")
	cmd.PersistentFlags().StringVar(&opts.Defs, "defs", "", "definitions file or directory (default $VARKEEP_DEFS or variables)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// settings returns the environment configuration with flag overrides
// applied.
func (o *RootOptions) settings() (config.Config, error) {
	if o.Config != nil {
		return *o.Config, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if o.DB != "" {
		cfg.DBPath = o.DB
	}
	if o.Driver != "" {
		cfg.Driver = o.Driver
	}
	if o.Defs != "" {
		cfg.Definitions = o.Defs
	}
	o.Config = &cfg
	return cfg, nil
}

// setupLogging installs the default text logger. --verbose forces debug.
func setupLogging(w io.Writer, cfg config.Config, verbose bool) error {
	level, err := cfg.Level()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
