package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/engine"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
	"github.com/roach88/annohist/internal/testutil"
)

// Harness holds everything one scenario run touches.
type Harness struct {
	store    *store.Store
	registry *identity.Registry
	source   *memory.Collection
	target   *memory.Collection
	cfg      *config.Config
	clock    *testutil.FixedClock
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Build the source and target collections from their dumps
// 2. Run the configured number of sync passes at the scenario clock
// 3. Replay every enabled kind into the target
// 4. Evaluate assertions against the store and the trace
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenario.settings()
	if err != nil {
		return nil, err
	}

	source, err := memory.FromDump(scenario.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to build source: %w", err)
	}
	target, err := memory.FromDump(scenario.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to build target: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	reg, err := identity.Open(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	h := &Harness{
		store:    st,
		registry: reg,
		source:   source,
		target:   target,
		cfg:      cfg,
		clock:    testutil.NewFixedClock(scenario.clock()),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	watermarks := make([]time.Time, 0, scenario.passes())
	for i := 0; i < scenario.passes(); i++ {
		summary, wm, err := h.sync(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to execute pass %d: %w", i+1, err)
		}
		result.Passes = append(result.Passes, summary)
		watermarks = append(watermarks, wm)
	}

	if err := h.replay(ctx, scenario.Merged, result); err != nil {
		return nil, fmt.Errorf("failed to replay: %w", err)
	}

	sum, err := st.Summarize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize store: %w", err)
	}
	for kind, n := range sum.Counts {
		result.Events[kind.Short()] = n
	}
	result.TotalEvents = sum.TotalEvents

	actx := &AssertionContext{
		Calls:      target.Calls(),
		Watermarks: watermarks,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// sync runs one pass and returns its summary and the watermark it left.
func (h *Harness) sync(ctx context.Context) (PassSummary, time.Time, error) {
	syncer := engine.NewSyncer(h.store, h.registry, h.source, h.cfg,
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
	)
	rep, err := syncer.Sync(ctx)
	if err != nil {
		return PassSummary{}, time.Time{}, err
	}

	wm, _, err := h.store.Watermark(ctx)
	if err != nil {
		return PassSummary{}, time.Time{}, err
	}

	summary := PassSummary{
		Mode:      string(rep.Mode),
		Processed: rep.Processed,
		Recorded:  make(map[string]int, len(rep.Recorded)),
		Skipped:   rep.Skipped,
		Ignored:   rep.Ignored,
	}
	for kind, n := range rep.Recorded {
		summary.Recorded[kind.Short()] = n
	}
	if !wm.IsZero() {
		summary.Watermark = wm.UTC().Format(time.RFC3339Nano)
	}
	return summary, wm, nil
}

// replay applies the store to the target, merged or one kind at a time.
func (h *Harness) replay(ctx context.Context, merged bool, result *Result) error {
	replayer := engine.NewReplayer(h.store, h.registry, h.target, h.cfg,
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
	)

	var reports []*engine.Report
	if merged {
		rep, err := replayer.ReplayAll(ctx, store.Range{})
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	} else {
		for _, kind := range h.cfg.Kinds.List() {
			rep, err := replayer.Replay(ctx, kind, store.Range{})
			if err != nil {
				return fmt.Errorf("%s: %w", kind.Short(), err)
			}
			reports = append(reports, rep)
		}
	}

	for _, rep := range reports {
		result.Replay.Processed += rep.Processed
		result.Replay.Skipped += rep.Skipped
		result.Replay.Warnings += rep.Warnings
		result.Replay.NotFound += rep.NotFound
		for kind, n := range rep.Replayed {
			result.Replay.Replayed[kind.Short()] += n
		}
	}
	result.Trace = h.target.Trace()
	return nil
}
