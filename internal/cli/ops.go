package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/varkeep/internal/engine"
)

// ValueResult is the JSON payload of the value commands.
type ValueResult struct {
	Op       string `json:"op"`
	Key      string `json:"key"`
	Identity string `json:"identity,omitempty"`
	Value    string `json:"value"`
}

// valueOp runs one engine operation. args are the positional arguments
// after the key.
type valueOp func(ctx context.Context, e *engine.Engine, identity, key string, args []string) (string, error)

type valueCommand struct {
	name  string
	use   string
	short string
	long  string
	nargs int
	run   valueOp
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return newValueCommand(rootOpts, valueCommand{
		name:  "get",
		use:   "get <key>",
		short: "Print the current value of a variable",
		nargs: 1,
		run: func(ctx context.Context, e *engine.Engine, identity, key string, _ []string) (string, error) {
			return e.Get(ctx, identity, key)
		},
	})
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return newValueCommand(rootOpts, valueCommand{
		name:  "set",
		use:   "set <key> <value>",
		short: "Replace the value of a variable",
		long: `Replace the value of a variable and print the value now displayed.

The value may be an expression such as "${level}*2"; it is resolved for
the given identity before being parsed for the variable's type. Numbers
are clamped into the limits and long strings truncated.`,
		nargs: 2,
		run: func(ctx context.Context, e *engine.Engine, identity, key string, args []string) (string, error) {
			return e.Set(ctx, identity, key, args[0])
		},
	})
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return newValueCommand(rootOpts, valueCommand{
		name:  "add",
		use:   "add <key> <delta>",
		short: "Add to a number, append to a string or union into a list",
		nargs: 2,
		run: func(ctx context.Context, e *engine.Engine, identity, key string, args []string) (string, error) {
			return e.Add(ctx, identity, key, args[0])
		},
	})
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return newValueCommand(rootOpts, valueCommand{
		name:  "remove",
		use:   "remove <key> <delta>",
		short: "Subtract from a number, or remove from a string or list",
		nargs: 2,
		run: func(ctx context.Context, e *engine.Engine, identity, key string, args []string) (string, error) {
			return e.Remove(ctx, identity, key, args[0])
		},
	})
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return newValueCommand(rootOpts, valueCommand{
		name:  "reset",
		use:   "reset <key>",
		short: "Discard the stored value of a variable",
		nargs: 1,
		run: func(ctx context.Context, e *engine.Engine, identity, key string, _ []string) (string, error) {
			return e.Reset(ctx, identity, key)
		},
	})
}

func newValueCommand(rootOpts *RootOptions, vc valueCommand) *cobra.Command {
	var identity string

	long := vc.long
	if long == "" {
		long = vc.short + "."
	}
	long += `

Per-player variables need --identity. The command loads the identity's
persisted values first and flushes every change before exiting.`

	cmd := &cobra.Command{
		Use:           vc.use,
		Short:         vc.short,
		Long:          long,
		Args:          cobra.ExactArgs(vc.nargs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValueCommand(rootOpts, vc, identity, args, cmd)
		},
	}
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "player identity for per-player variables")
	return cmd
}

func runValueCommand(opts *RootOptions, vc valueCommand, identity string, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := commandContext(cmd)

	sess, err := openSession(ctx, opts)
	if err != nil {
		return reportError(formatter, err)
	}

	if identity != "" {
		if err := sess.engine.OnIdentityArrival(ctx, identity); err != nil {
			sess.Close(ctx)
			return reportError(formatter, err)
		}
	}

	key := args[0]
	value, opErr := vc.run(ctx, sess.engine, identity, key, args[1:])
	closeErr := sess.Close(ctx)

	if opErr != nil {
		return reportError(formatter, opErr)
	}
	if closeErr != nil {
		return reportError(formatter, closeErr)
	}

	formatter.VerboseLog("%s %s: %q", vc.name, key, value)
	return formatter.Result(ValueResult{
		Op:       vc.name,
		Key:      key,
		Identity: identity,
		Value:    value,
	}, value)
}

// reportError prints err in the configured format and returns it as an
// ExitError. Engine errors keep their code and exit with ExitFailure.
func reportError(formatter *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code := ErrCodeGeneric
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			code = loadErr.Code
		} else if c := engine.CodeOf(err); c != "" {
			code = string(c)
		}
		_ = formatter.Error(code, exitErr.Error(), nil)
		return exitErr
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		details := map[string]string{"op": engineErr.Op}
		if engineErr.Key != "" {
			details["key"] = engineErr.Key
		}
		if engineErr.Identity != "" {
			details["identity"] = engineErr.Identity
		}
		_ = formatter.Error(string(engineErr.Code), engineErr.Message, details)
		return WrapExitError(ExitFailure, fmt.Sprintf("operation failed [%s]", engineErr.Code), err)
	}

	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitFailure, "command failed", err)
}
