package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/engine"
	"github.com/roach88/annohist/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Target   string
	Kinds    []string
	After    string
	Merged   bool
	Write    bool
	DryRun   bool
}

// ReplayResult is the output of the replay command.
type ReplayResult struct {
	Mode      string         `json:"mode"`
	Merged    bool           `json:"merged"`
	After     string         `json:"after,omitempty"`
	Processed int            `json:"processed"`
	Replayed  map[string]int `json:"replayed"`
	Skipped   int            `json:"skipped"`
	Warnings  int            `json:"warnings"`
	NotFound  int            `json:"not_found"`
	Stopped   bool           `json:"stopped,omitempty"`
	Written   string         `json:"written,omitempty"`
	Elapsed   string         `json:"elapsed"`
	Calls     []string       `json:"calls"`
	Errors    []string       `json:"errors,omitempty"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Replay (%s): processed %d, replayed %d", r.Mode, r.Processed, total(r.Replayed))
	if r.After != "" {
		fmt.Fprintf(&b, " after %s", r.After)
	}
	b.WriteString("\n")
	writeCounts(&b, r.Replayed)
	fmt.Fprintf(&b, "  skipped: %d, warnings: %d, not found: %d, elapsed: %s", r.Skipped, r.Warnings, r.NotFound, r.Elapsed)
	if r.Stopped {
		b.WriteString("\n  stopped before completion")
	}
	if r.Written != "" {
		fmt.Fprintf(&b, "\n  target written to %s", r.Written)
	}
	for _, call := range r.Calls {
		fmt.Fprintf(&b, "\n  %s", call)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  ! %s", e)
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Apply stored annotation events to a target collection",
		Long: `Apply stored events to a target collection and print the mutation calls.

By default each kind is replayed in full, in the order tag, custom-metadata,
item-set, exclusion, custodian. With --merged all selected kinds are
interleaved by timestamp.

Exit codes:
  0 - Replay completed (individual events may have been skipped)
  1 - Replay aborted (store error)
  2 - Command error (bad flags, unreadable target, etc.)

Examples:
  annohist replay --db history.db --target copy.yaml
  annohist replay --db history.db --target copy.yaml --merged --write
  annohist replay --db history.db --target copy.yaml --kinds tag --after 2024-05-01T00:00:00Z`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history store (default from config)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target collection dump (required)")
	_ = cmd.MarkFlagRequired("target")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kinds", nil, "replay only these kinds")
	cmd.Flags().StringVar(&opts.After, "after", "", "replay events strictly after this RFC 3339 instant")
	cmd.Flags().BoolVar(&opts.Merged, "merged", false, "interleave kinds by timestamp")
	cmd.Flags().BoolVar(&opts.Write, "write", false, "save the mutated target back to its dump file")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "resolve events without mutating the target")
	cmd.MarkFlagsMutuallyExclusive("write", "dry-run")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	env, err := prepare(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	if err := env.applyDB(opts.Database); err != nil {
		return err
	}
	if err := env.applyKinds(opts.Kinds); err != nil {
		return err
	}

	var rng store.Range
	if opts.After != "" {
		after, err := parseInstant("after", opts.After)
		if err != nil {
			return env.out.Fail(WrapExitError(ExitCommandError, ErrCodeUsage, "invalid --after", err))
		}
		rng = store.After(after)
	}

	tgt, err := env.loadCollection(opts.Target, "target")
	if err != nil {
		return err
	}

	st, reg, err := env.openStore()
	if err != nil {
		return err
	}
	defer env.closeStore(st)

	replayer := engine.NewReplayer(st, reg, tgt, env.cfg,
		engine.WithLogger(env.log),
		engine.WithDryRun(opts.DryRun),
	)
	defer env.stopOnSignal(replayer.Stop)()

	result := ReplayResult{
		Merged:   opts.Merged,
		After:    formatInstant(rng.From),
		Replayed: map[string]int{},
	}
	started := time.Now()

	var reports []*engine.Report
	if opts.Merged {
		rep, err := replayer.ReplayAll(env.ctx, rng)
		if err != nil {
			return env.out.Fail(WrapExitError(ExitFailure, ErrCodePass, "replay aborted", err))
		}
		reports = append(reports, rep)
	} else {
		for _, kind := range env.cfg.Kinds.List() {
			rep, err := replayer.Replay(env.ctx, kind, rng)
			if err != nil {
				return env.out.Fail(WrapExitError(ExitFailure, ErrCodePass, fmt.Sprintf("replay %s aborted", kind.Short()), err))
			}
			reports = append(reports, rep)
			if rep.Stopped {
				break
			}
		}
	}

	for _, rep := range reports {
		result.Mode = string(rep.Mode)
		result.Processed += rep.Processed
		result.Skipped += rep.Skipped
		result.Warnings += rep.Warnings
		result.NotFound += rep.NotFound
		result.Stopped = result.Stopped || rep.Stopped
		for k, n := range kindCounts(rep.Replayed) {
			result.Replayed[k] += n
		}
		result.Errors = append(result.Errors, errorStrings(rep.Errors)...)
	}
	if result.Mode == "" {
		result.Mode = string(engine.ModeReplay)
		if opts.DryRun {
			result.Mode = string(engine.ModeDryRun)
		}
	}
	result.Elapsed = time.Since(started).Round(time.Millisecond).String()
	result.Calls = tgt.Trace()

	if opts.Write {
		if err := tgt.Save(opts.Target); err != nil {
			return env.out.Fail(WrapExitError(ExitCommandError, ErrCodeCollection, "failed to write target", err))
		}
		result.Written = opts.Target
	}

	return env.out.Success(result)
}
