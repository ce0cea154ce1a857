package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/config"
)

// ConfigCheckResult is the output of the validate-config command.
type ConfigCheckResult struct {
	File   string                   `json:"file"`
	Valid  bool                     `json:"valid"`
	Errors []config.ValidationError `json:"errors,omitempty"`
	Config *config.Config           `json:"config,omitempty"`
}

func (r ConfigCheckResult) String() string {
	if r.Valid {
		return fmt.Sprintf("%s: valid", r.File)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d error(s)", r.File, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", e.Error())
	}
	return b.String()
}

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config <file>",
		Short: "Check a config file without running anything",
		Long: `Check a config file against the config schema and value rules.
Environment overrides are not applied.

Exit codes:
  0 - Config is valid
  1 - Config has errors
  2 - Command error (file unreadable, unsupported extension)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidateConfig(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.CheckFile(path)
	if err == nil {
		return formatter.Success(ConfigCheckResult{File: path, Valid: true, Config: cfg})
	}

	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		return formatter.Fail(WrapExitError(ExitCommandError, ErrCodeConfig, "failed to read config", err))
	}

	result := ConfigCheckResult{File: path, Errors: verrs}
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeConfig, "config invalid", result)
	} else {
		fmt.Fprintln(formatter.Writer, result)
	}
	exitErr := NewExitError(ExitFailure, ErrCodeConfig, fmt.Sprintf("%s: config invalid", path))
	exitErr.reported = true
	return exitErr
}
