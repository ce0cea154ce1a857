package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/event"
)

// SummaryResult is the output of the summary command.
type SummaryResult struct {
	Store          string           `json:"store"`
	SchemaVersion  int              `json:"schema_version"`
	RegistrySize   int64            `json:"registry_size"`
	Events         map[string]int64 `json:"events"`
	TotalEvents    int64            `json:"total_events"`
	Watermark      string           `json:"watermark,omitempty"`
	SyncPoint      string           `json:"sync_point,omitempty"`
	SourceName     string           `json:"source_name,omitempty"`
	SourceLocation string           `json:"source_location,omitempty"`
}

func (r SummaryResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Store: %s (schema v%d)\n", r.Store, r.SchemaVersion)
	if r.SourceName != "" || r.SourceLocation != "" {
		fmt.Fprintf(&b, "Source: %s (%s)\n", r.SourceName, r.SourceLocation)
	}
	fmt.Fprintf(&b, "Items referenced: %d\n", r.RegistrySize)
	fmt.Fprintf(&b, "Events: %d\n", r.TotalEvents)
	for _, kind := range event.AllKinds {
		fmt.Fprintf(&b, "  %s: %d\n", kind.Short(), r.Events[kind.Short()])
	}
	fmt.Fprintf(&b, "Watermark: %s\n", orNone(r.Watermark))
	fmt.Fprintf(&b, "Sync point: %s", orNone(r.SyncPoint))
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show what a history store holds",
		Long: `Show the number of distinct items referenced, the event count per kind,
the watermark the next sync starts from, and the recorded source.

Examples:
  annohist summary --db history.db
  annohist summary --db history.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(rootOpts, database, cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to history store (default from config)")

	return cmd
}

func runSummary(opts *RootOptions, database string, cmd *cobra.Command) error {
	env, err := prepare(opts, cmd)
	if err != nil {
		return err
	}
	if err := env.applyDB(database); err != nil {
		return err
	}

	st, _, err := env.openStore()
	if err != nil {
		return err
	}
	defer env.closeStore(st)

	sum, err := st.Summarize(env.ctx)
	if err != nil {
		return env.out.Fail(WrapExitError(ExitFailure, ErrCodeStore, "failed to summarize store", err))
	}

	result := SummaryResult{
		Store:          env.cfg.DB,
		SchemaVersion:  sum.SchemaVersion,
		RegistrySize:   sum.RegistrySize,
		Events:         make(map[string]int64, len(sum.Counts)),
		TotalEvents:    sum.TotalEvents,
		SourceName:     sum.SourceName,
		SourceLocation: sum.SourceLocation,
	}
	for kind, n := range sum.Counts {
		result.Events[kind.Short()] = n
	}
	if sum.HasWatermark {
		result.Watermark = formatInstant(sum.Watermark)
	}
	if sum.HasSyncPoint {
		result.SyncPoint = formatInstant(sum.SyncPoint)
	}

	return env.out.Success(result)
}
