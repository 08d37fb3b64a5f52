package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/varkeep/internal/engine"
)

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "explain <key>",
		Short: "Show how a variable's value is derived",
		Long: `Resolve a variable without the cache and print every step: the
definition, the resolved base of a formula, the stored increment, the
keys it read and the outcome of the resolution.

Strict variables are explained from their frozen base and, when one was
taken in this process, their last snapshot.

Examples:
  varkeep explain gold
  varkeep explain score --identity alice --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, identity, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "player identity for per-player variables")

	return cmd
}

func runExplain(opts *RootOptions, identity, key string, cmd *cobra.Command) error {
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

	x, opErr := sess.engine.Explain(ctx, identity, key)
	closeErr := sess.Close(ctx)
	if opErr != nil {
		return reportError(formatter, opErr)
	}
	if closeErr != nil {
		return reportError(formatter, closeErr)
	}

	if opts.Format == "json" {
		return formatter.Success(x)
	}
	writeExplanation(cmd.OutOrStdout(), x)
	return nil
}

// writeExplanation renders an explanation as aligned text.
func writeExplanation(w io.Writer, x *engine.Explanation) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%-11s %s\n", label+":", value)
	}

	row("key", x.Key)
	if x.Identity != "" {
		row("identity", x.Identity)
	}
	row("scope", string(x.Definition.Scope))
	row("type", string(x.Definition.Type))
	if x.Definition.Initial != "" {
		row("initial", x.Definition.Initial)
	}

	kind := "literal"
	switch {
	case x.Strict:
		kind = "formula (strict)"
	case x.Formula:
		kind = "formula"
	}
	row("kind", kind)

	if x.Formula {
		row("base", x.Base)
	}
	if x.Increment != "" {
		row("increment", x.Increment)
	}
	row("value", x.Value)
	row("outcome", x.Outcome)
	if len(x.Deps) > 0 {
		row("reads", strings.Join(x.Deps, ", "))
	}
	if len(x.Definition.Conditions) > 0 {
		met := "met"
		if !x.ConditionsMet {
			met = "not met"
		}
		row("conditions", fmt.Sprintf("%s (%s)", strings.Join(x.Definition.Conditions, "; "), met))
	}
	if x.Dirty {
		row("pending", "yes")
	}
	if err := x.Problem(); err != nil {
		row("problem", err.Error())
	}
}
