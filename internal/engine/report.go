package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/annohist/internal/event"
)

// Mode names the kind of pass a Report describes.
type Mode string

const (
	ModeSnapshot    Mode = "snapshot"
	ModeIncremental Mode = "incremental"
	ModeReplay      Mode = "replay"
	ModeDryRun      Mode = "dry-run"
)

// Report summarizes one pass.
type Report struct {
	Mode Mode

	// Recorded counts events appended to the store, per kind.
	Recorded map[event.Kind]int

	// Replayed counts events applied to the target, per kind.
	Replayed map[event.Kind]int

	// Processed counts every source or stored event the pass looked at.
	Processed int

	// Skipped counts events dropped after a resolution error.
	Skipped int

	// Ignored counts source events matching no enabled kind.
	Ignored int

	// Warnings counts integrity warnings.
	Warnings int

	// NotFound counts identities the target had no item for.
	NotFound int

	// Stopped is set when the pass ended early on Stop or cancellation.
	Stopped bool

	// Watermark is the lower bound the pass started from.
	Watermark time.Time

	Elapsed time.Duration

	// Errors aggregates every PassError raised during the pass.
	Errors *multierror.Error
}

func newReport(mode Mode) *Report {
	return &Report{
		Mode:     mode,
		Recorded: make(map[event.Kind]int),
		Replayed: make(map[event.Kind]int),
	}
}

// TotalRecorded returns the number of events appended across kinds.
func (r *Report) TotalRecorded() int {
	return sum(r.Recorded)
}

// TotalReplayed returns the number of events applied across kinds.
func (r *Report) TotalReplayed() int {
	return sum(r.Replayed)
}

// Err returns the aggregated pass errors, or nil when there were none.
func (r *Report) Err() error {
	return r.Errors.ErrorOrNil()
}

func (r *Report) skip(err *PassError) {
	r.Skipped++
	r.Errors = multierror.Append(r.Errors, err)
}

func (r *Report) warn(err *PassError) {
	r.Warnings++
	r.Errors = multierror.Append(r.Errors, err)
}

// String renders a one-line summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: processed=%d", r.Mode, r.Processed)
	if len(r.Recorded) > 0 || r.Mode == ModeSnapshot || r.Mode == ModeIncremental {
		fmt.Fprintf(&b, " recorded=%d%s", r.TotalRecorded(), perKind(r.Recorded))
	}
	if len(r.Replayed) > 0 || r.Mode == ModeReplay || r.Mode == ModeDryRun {
		fmt.Fprintf(&b, " replayed=%d%s", r.TotalReplayed(), perKind(r.Replayed))
	}
	fmt.Fprintf(&b, " skipped=%d ignored=%d warnings=%d", r.Skipped, r.Ignored, r.Warnings)
	if r.NotFound > 0 {
		fmt.Fprintf(&b, " not_found=%d", r.NotFound)
	}
	if r.Stopped {
		b.WriteString(" stopped")
	}
	fmt.Fprintf(&b, " elapsed=%s", r.Elapsed.Round(time.Millisecond))
	return b.String()
}

func perKind(counts map[event.Kind]int) string {
	if len(counts) == 0 {
		return ""
	}
	kinds := make([]event.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s:%d", k.Short(), counts[k]))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func sum(counts map[event.Kind]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
