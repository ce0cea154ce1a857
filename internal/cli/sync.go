package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Database   string
	Source     string
	NoSnapshot bool
	BatchSize  int
	Kinds      []string
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	Mode      string         `json:"mode"`
	Processed int            `json:"processed"`
	Recorded  map[string]int `json:"recorded"`
	Skipped   int            `json:"skipped"`
	Ignored   int            `json:"ignored"`
	Stopped   bool           `json:"stopped,omitempty"`
	Watermark string         `json:"watermark,omitempty"`
	Elapsed   string         `json:"elapsed"`
	Errors    []string       `json:"errors,omitempty"`
}

func (r SyncResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync (%s): processed %d, recorded %d", r.Mode, r.Processed, total(r.Recorded))
	if r.Watermark != "" {
		fmt.Fprintf(&b, " after %s", r.Watermark)
	}
	b.WriteString("\n")
	writeCounts(&b, r.Recorded)
	fmt.Fprintf(&b, "  skipped: %d, ignored: %d, elapsed: %s", r.Skipped, r.Ignored, r.Elapsed)
	if r.Stopped {
		b.WriteString("\n  stopped before completion")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  ! %s", e)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Record source annotation history into the store",
		Long: `Record annotation history from a source collection into the store.

The first sync of an empty store records a snapshot of current tag
membership, then the rest of the annotation history. Later syncs append
every annotation event that started after the store's watermark.

Interrupting a sync (Ctrl-C) finishes the current event and commits what
was recorded. An interrupted first sync is resumed by the next one.

Exit codes:
  0 - Pass completed (individual events may have been skipped)
  1 - Pass aborted (store error)
  2 - Command error (bad flags, unreadable source, etc.)

Examples:
  annohist sync --db history.db --source matter.yaml
  annohist sync --db history.db --source matter.yaml --kinds tag,custodian`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to history store (default from config)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source collection dump (required)")
	_ = cmd.MarkFlagRequired("source")
	cmd.Flags().BoolVar(&opts.NoSnapshot, "no-snapshot", false, "pull full history on first sync instead of a tag snapshot")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows per transaction (default from config)")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kinds", nil, "record only these kinds (tag,custom-metadata,item-set,exclusion,custodian)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
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
	if opts.NoSnapshot {
		env.cfg.SnapshotFirstSync = false
	}
	if cmd.Flags().Changed("batch-size") {
		env.cfg.BatchSize = opts.BatchSize
	}
	if err := env.revalidate(); err != nil {
		return err
	}

	src, err := env.loadCollection(opts.Source, "source")
	if err != nil {
		return err
	}

	st, reg, err := env.openStore()
	if err != nil {
		return err
	}
	defer env.closeStore(st)

	syncer := engine.NewSyncer(st, reg, src, env.cfg, engine.WithLogger(env.log))

	defer env.stopOnSignal(syncer.Stop)()

	rep, err := syncer.Sync(env.ctx)
	if err != nil {
		return env.out.Fail(WrapExitError(ExitFailure, ErrCodePass, "sync aborted", err))
	}

	return env.out.Success(SyncResult{
		Mode:      string(rep.Mode),
		Processed: rep.Processed,
		Recorded:  kindCounts(rep.Recorded),
		Skipped:   rep.Skipped,
		Ignored:   rep.Ignored,
		Stopped:   rep.Stopped,
		Watermark: formatInstant(rep.Watermark),
		Elapsed:   rep.Elapsed.String(),
		Errors:    errorStrings(rep.Errors),
	})
}

func errorStrings(errs *multierror.Error) []string {
	if errs == nil {
		return nil
	}
	out := make([]string, len(errs.Errors))
	for i, err := range errs.Errors {
		out[i] = err.Error()
	}
	return out
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// writeCounts writes one indented "kind: n" line per kind, sorted by name.
func writeCounts(b *strings.Builder, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "  %s: %d\n", name, counts[name])
	}
}
