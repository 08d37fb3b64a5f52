package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/varkeep/internal/compiler"
	"github.com/roach88/varkeep/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                       `json:"valid"`
	Definitions int                        `json:"definitions"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
	Warnings    []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate variable definitions",
		Long: `Validate variable definitions without touching the database.

Loads every .cue, .yaml and .yml file below path (or the configured
definitions path), checks each definition and reports reference cycles
between initial expressions as warnings.

Exit codes:
  0 - All definitions valid (warnings allowed)
  1 - One or more definitions invalid
  2 - Definitions could not be loaded`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if path == "" {
		cfg, err := opts.settings()
		if err != nil {
			return outputValidateError(formatter, ErrCodeGeneric, err.Error())
		}
		path = cfg.Definitions
	}
	formatter.VerboseLog("Loading definitions from %s", path)

	defs, err := LoadDefinitions(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error())
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	result := validateDefinitions(defs, formatter)
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateDefinitions runs the definition checks and cycle analysis.
func validateDefinitions(defs []ir.Definition, formatter *OutputFormatter) ValidationResult {
	for _, d := range defs {
		formatter.VerboseLog("Validating %s (%s %s)", d.Key, d.Scope, d.Type)
	}

	errs := compiler.ValidateAll(defs)
	if len(defs) == 0 {
		errs = append(errs, compiler.ValidationError{
			Field:   "definitions",
			Message: "no variables defined",
			Code:    ErrCodeNoFiles,
		})
	}

	return ValidationResult{
		Valid:       len(errs) == 0,
		Definitions: len(defs),
		Errors:      errs,
		Warnings:    compiler.AnalyzeCycles(defs),
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	writeWarnings(formatter, result.Warnings)
	fmt.Fprintf(formatter.Writer, "✓ %d definition(s) valid\n", result.Definitions)
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load failures are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every definition error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		subject := err.Key
		if err.Field != "" {
			subject = strings.TrimPrefix(subject+"."+err.Field, ".")
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, subject, err.Message)
	}
	writeWarnings(formatter, result.Warnings)

	return failure
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", ErrCodeCycle, w.Level, w.Message)
	}
}
