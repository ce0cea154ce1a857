package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/roach88/annohist/internal/bitmap"
	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
)

// Replayer applies recorded events to a target collection.
//
// Replay is append-only with respect to the store: it never writes to it.
// Replaying the same range twice issues the same mutation calls.
type Replayer struct {
	store    *store.Store
	registry *identity.Registry
	target   collection.Target
	cfg      *config.Config
	log      *slog.Logger
	clock    Clock
	dryRun   bool

	stopped atomic.Bool
}

// NewReplayer creates a Replayer. A nil cfg selects config.DefaultConfig().
func NewReplayer(
	st *store.Store,
	reg *identity.Registry,
	tgt collection.Target,
	cfg *config.Config,
	opts ...Option,
) *Replayer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Replayer{
		store:    st,
		registry: reg,
		target:   tgt,
		cfg:      cfg,
		log:      o.logger,
		clock:    o.clock,
		dryRun:   o.dryRun,
	}
}

// Stop asks a running replay to end after the current event.
func (r *Replayer) Stop() {
	r.stopped.Store(true)
}

func (r *Replayer) halted(ctx context.Context) bool {
	return r.stopped.Load() || ctx.Err() != nil
}

// ForEachEvent calls fn for every stored event of kind in after, ordered
// by timestamp then insertion.
func (r *Replayer) ForEachEvent(ctx context.Context, kind event.Kind, after store.Range, fn func(event.Event) error) error {
	return r.store.Scan(ctx, kind, after, fn)
}

// Replay applies every stored event of kind in after to the target.
func (r *Replayer) Replay(ctx context.Context, kind event.Kind, after store.Range) (*Report, error) {
	return r.run(ctx, fmt.Sprintf("replay %s", kind.Short()), func(fn func(event.Event) error) error {
		return r.ForEachEvent(ctx, kind, after, fn)
	})
}

// ReplayAll applies the stored events of every enabled kind in after,
// merged into one stream by timestamp. Events sharing a timestamp are
// applied in kind precedence order.
func (r *Replayer) ReplayAll(ctx context.Context, after store.Range) (*Report, error) {
	kinds := r.cfg.Kinds.List()
	return r.run(ctx, "replay merged", func(fn func(event.Event) error) error {
		return MergeEvents(ctx, r.store, kinds, after, fn)
	})
}

func (r *Replayer) run(ctx context.Context, name string, iterate func(fn func(event.Event) error) error) (*Report, error) {
	mode := ModeReplay
	if r.dryRun {
		mode = ModeDryRun
	}
	rep := newReport(mode)
	prog := newProgress(r.log, r.clock, r.cfg.Progress(), name+" progress")
	r.log.Info(name+" started", "dry_run", r.dryRun)

	err := iterate(func(ev event.Event) error {
		if r.halted(ctx) {
			return errHalt
		}
		r.apply(ctx, ev, rep)
		prog.tick(rep)
		return nil
	})
	if errors.Is(err, errHalt) || (err != nil && r.halted(ctx) && errors.Is(err, ctx.Err())) {
		rep.Stopped = true
		err = ctx.Err()
	}
	rep.Elapsed = prog.elapsed()

	attrs := []any{
		"processed", rep.Processed,
		"replayed", rep.TotalReplayed(),
		"skipped", rep.Skipped,
		"warnings", rep.Warnings,
		"not_found", rep.NotFound,
		"stopped", rep.Stopped,
		"elapsed", rep.Elapsed,
	}
	if err != nil {
		r.log.Error(name+" aborted", append(attrs, "error", err)...)
		return rep, err
	}
	r.log.Info(name+" finished", attrs...)
	return rep, nil
}

// apply resolves ev against the target and calls its mutation primitive.
// Every failure is scoped to the event and recorded in rep.
func (r *Replayer) apply(ctx context.Context, ev event.Event, rep *Report) {
	rep.Processed++
	meta := ev.Meta()
	kind := ev.Kind()

	indices, err := bitmap.Decode(meta.Bitmap)
	if err != nil {
		pe := integrityError(kind, meta.Timestamp, "undecodable bitmap", nil)
		pe.Err = err
		r.warn(rep, pe)
		rep.Skipped++
		return
	}
	if len(indices) != meta.ItemCount {
		r.warn(rep, integrityError(kind, meta.Timestamp, "item count mismatch", map[string]string{
			"stored":  strconv.Itoa(meta.ItemCount),
			"decoded": strconv.Itoa(len(indices)),
		}))
	}

	ids, missing := r.registry.IdentitiesOf(indices)
	if len(missing) > 0 {
		r.warn(rep, integrityError(kind, meta.Timestamp, "registry indices without identity", map[string]string{
			"missing": strconv.Itoa(len(missing)),
			"first":   strconv.FormatUint(missing[0], 10),
		}))
	}

	items, err := r.lookup(ctx, ids)
	if err != nil {
		r.skip(rep, resolutionError(kind, meta.Timestamp, "look up items in target", err))
		return
	}
	if n := len(ids) - len(items); n > 0 {
		rep.NotFound += n
	}
	if len(items) == 0 {
		r.log.Debug("no target items for event", "event", ev.String(), "at", meta.Timestamp)
		return
	}

	if !r.dryRun {
		if err := r.mutate(ctx, ev, items); err != nil {
			r.skip(rep, resolutionError(kind, meta.Timestamp, "apply "+ev.String(), err))
			return
		}
	}
	rep.Replayed[kind]++
	r.log.Debug("replayed event", "event", ev.String(), "at", meta.Timestamp, "items", len(items))
}

// lookup resolves ids in the target, at most LookupChunkSize per query.
func (r *Replayer) lookup(ctx context.Context, ids []identity.Identity) ([]collection.Item, error) {
	chunk := r.cfg.LookupChunkSize
	if chunk <= 0 {
		chunk = config.DefaultLookupChunkSize
	}

	items := make([]collection.Item, 0, len(ids))
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		found, err := r.target.SearchByIdentity(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("identities %d-%d: %w", start, end, err)
		}
		items = append(items, found...)
	}
	return items, nil
}

func (r *Replayer) mutate(ctx context.Context, ev event.Event, items []collection.Item) error {
	switch e := ev.(type) {
	case *event.TagEvent:
		if e.Added {
			return r.target.AddTag(ctx, e.TagName, items)
		}
		return r.target.RemoveTag(ctx, e.TagName, items)

	case *event.CustomMetadataEvent:
		if e.Added {
			return r.target.SetCustomMetadata(ctx, e.FieldName, e.Value, items)
		}
		return r.target.RemoveCustomMetadata(ctx, e.FieldName, items)

	case *event.ItemSetEvent:
		if !e.Added {
			return r.target.RemoveFromItemSet(ctx, e.ItemSetName, items)
		}
		settings, err := e.Settings()
		if err != nil {
			return fmt.Errorf("item set settings: %w", err)
		}
		info := collection.ItemSetInfo{Settings: settings, Description: e.Description}
		if err := r.target.CreateItemSetIfAbsent(ctx, e.ItemSetName, info); err != nil {
			return err
		}
		return r.target.AddToItemSet(ctx, e.ItemSetName, e.BatchName, items)

	case *event.ExclusionEvent:
		if e.Excluded {
			return r.target.Exclude(ctx, e.ExclusionName, items)
		}
		return r.target.Include(ctx, items)

	case *event.CustodianEvent:
		if e.Assigned {
			return r.target.AssignCustodian(ctx, e.Custodian, items)
		}
		return r.target.UnassignCustodian(ctx, items)

	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

func (r *Replayer) warn(rep *Report, pe *PassError) {
	rep.warn(pe)
	r.log.Warn("integrity warning", "kind", pe.Kind.Short(), "at", pe.Timestamp, "error", pe)
}

func (r *Replayer) skip(rep *Report, pe *PassError) {
	rep.skip(pe)
	r.log.Warn("skipped event", "kind", pe.Kind.Short(), "at", pe.Timestamp, "error", pe)
}
