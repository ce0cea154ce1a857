package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/engine"
)

// SyncPointOptions holds flags for the syncpoint command.
type SyncPointOptions struct {
	*RootOptions
	Database   string
	Now        bool
	At         string
	FromTarget string
}

// SyncPointResult is the output of the syncpoint command.
type SyncPointResult struct {
	SyncPoint string `json:"sync_point,omitempty"`
	Source    string `json:"source"`
	Changed   bool   `json:"changed"`
}

func (r SyncPointResult) String() string {
	if !r.Changed {
		return fmt.Sprintf("Sync point unchanged: %s has no annotation history", r.Source)
	}
	return fmt.Sprintf("Sync point set to %s (%s)", r.SyncPoint, r.Source)
}

// NewSyncPointCommand creates the syncpoint command.
func NewSyncPointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncPointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "syncpoint",
		Short: "Set the instant the next sync starts after",
		Long: `Set the store's sync point. The next sync records only annotation history
that started after max(latest stored event, sync point).

Use --from-target after copying a collection: history the copy already
carries is then not recorded again.

Examples:
  annohist syncpoint --db history.db --now
  annohist syncpoint --db history.db --at 2024-05-01T00:00:00Z
  annohist syncpoint --db history.db --from-target copy.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncPoint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history store (default from config)")
	cmd.Flags().BoolVar(&opts.Now, "now", false, "use the current time")
	cmd.Flags().StringVar(&opts.At, "at", "", "use this RFC 3339 instant")
	cmd.Flags().StringVar(&opts.FromTarget, "from-target", "", "use the latest annotation history event of this collection dump")
	cmd.MarkFlagsMutuallyExclusive("now", "at", "from-target")
	cmd.MarkFlagsOneRequired("now", "at", "from-target")

	return cmd
}

func runSyncPoint(opts *SyncPointOptions, cmd *cobra.Command) error {
	env, err := prepare(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if err := env.applyDB(opts.Database); err != nil {
		return err
	}

	var (
		point  time.Time
		source string
	)
	switch {
	case opts.Now:
		point, source = engine.SystemClock{}.Now(), "now"
	case opts.At != "":
		point, err = parseInstant("at", opts.At)
		if err != nil {
			return env.out.Fail(WrapExitError(ExitCommandError, ErrCodeUsage, "invalid --at", err))
		}
		source = "explicit"
	}

	st, _, err := env.openStore()
	if err != nil {
		return err
	}
	defer env.closeStore(st)

	if opts.FromTarget != "" {
		tgt, err := env.loadCollection(opts.FromTarget, "target")
		if err != nil {
			return err
		}
		point, ok, err := engine.SyncPointFromHistory(env.ctx, st, tgt)
		if err != nil {
			return env.out.Fail(WrapExitError(ExitFailure, ErrCodeStore, "failed to set sync point", err))
		}
		return env.out.Success(SyncPointResult{
			SyncPoint: formatInstant(point),
			Source:    opts.FromTarget,
			Changed:   ok,
		})
	}

	point = point.UTC().Truncate(time.Millisecond)
	if err := st.SetSyncPoint(env.ctx, point); err != nil {
		return env.out.Fail(WrapExitError(ExitFailure, ErrCodeStore, "failed to set sync point", err))
	}
	return env.out.Success(SyncPointResult{
		SyncPoint: formatInstant(point),
		Source:    source,
		Changed:   true,
	})
}
