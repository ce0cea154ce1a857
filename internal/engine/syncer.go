package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/annohist/internal/bitmap"
	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
)

// errHalt unwinds a source iteration when the pass is stopped.
var errHalt = errors.New("pass halted")

// Syncer records source annotation history into a store.
//
// A Syncer is not safe for concurrent passes. Stop may be called from any
// goroutine; a stopped Syncer stays stopped.
type Syncer struct {
	store    *store.Store
	registry *identity.Registry
	source   collection.Source
	cfg      *config.Config
	log      *slog.Logger
	clock    Clock

	stopped  atomic.Bool
	itemSets itemSetCache
}

// NewSyncer creates a Syncer. A nil cfg selects config.DefaultConfig().
func NewSyncer(
	st *store.Store,
	reg *identity.Registry,
	src collection.Source,
	cfg *config.Config,
	opts ...Option,
) *Syncer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Syncer{
		store:    st,
		registry: reg,
		source:   src,
		cfg:      cfg,
		log:      o.logger,
		clock:    o.clock,
	}
}

// Stop asks a running pass to end after the current event.
func (s *Syncer) Stop() {
	s.stopped.Store(true)
}

func (s *Syncer) halted(ctx context.Context) bool {
	return s.stopped.Load() || ctx.Err() != nil
}

// Sync runs one pass and returns its report.
//
// The first pass against a store with no events and no sync point takes a
// tag snapshot when SnapshotFirstSync and the tag kind are enabled, then
// pulls the rest of the source history with the tag kind left out. The
// sync point moves to the snapshot time only once both phases finish; a
// snapshot pass that is stopped or aborted is resumed by the next Sync.
// Every other pass pulls history incrementally from the watermark.
//
// A non-nil error means the pass aborted. Rows committed before the abort
// stay in the store. A pass ended by Stop returns a nil error with
// Report.Stopped set; one ended by ctx returns ctx.Err().
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	total, err := s.store.TotalEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	_, hasSyncPoint, err := s.store.SyncPoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	pending, resuming, err := s.store.SnapshotPoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	first := (total == 0 && !hasSyncPoint) || resuming

	if first {
		if err := s.recordSourceInfo(ctx); err != nil {
			return nil, err
		}
	}

	var rep *Report
	switch {
	case resuming:
		rep, err = s.snapshot(ctx, pending, true)
	case first && s.cfg.SnapshotFirstSync && s.cfg.Kinds.Tag:
		rep, err = s.snapshot(ctx, s.clock.Now().UTC().Truncate(time.Millisecond), false)
	default:
		rep, err = s.incremental(ctx, first)
	}
	if err != nil {
		return rep, err
	}
	if rep.Stopped && ctx.Err() != nil {
		return rep, ctx.Err()
	}
	return rep, nil
}

func (s *Syncer) recordSourceInfo(ctx context.Context) error {
	info := s.source.Info()
	if err := s.store.SetInfoText(ctx, store.InfoSourceName, info.Name); err != nil {
		return fmt.Errorf("record source info: %w", err)
	}
	if err := s.store.SetInfoText(ctx, store.InfoSourceLocation, info.Location); err != nil {
		return fmt.Errorf("record source info: %w", err)
	}
	return nil
}

// snapshot records one TagEvent per distinct tag stamped now, then pulls
// the non-tag history recorded after the pre-snapshot watermark. The
// snapshot marker is written before anything else and cleared together
// with moving the sync point to now.
//
// When resuming, tags already recorded at now are not recorded again and
// the history pull starts after the latest non-tag event in the store.
func (s *Syncer) snapshot(ctx context.Context, now time.Time, resuming bool) (*Report, error) {
	rep := newReport(ModeSnapshot)
	prog := newProgress(s.log, s.clock, s.cfg.Progress(), "snapshot progress")

	if !resuming {
		if err := s.store.SetSnapshotPoint(ctx, now); err != nil {
			return rep, fmt.Errorf("snapshot: %w", err)
		}
	}

	kinds := s.cfg.Kinds
	kinds.Tag = false
	from, hasFrom, err := s.store.LatestEventTimeOf(ctx, kinds.List()...)
	if err != nil {
		return rep, fmt.Errorf("snapshot: %w", err)
	}
	filter := s.historyFilter(rep, from, hasFrom)

	err = s.inBatch(ctx, true, func(wctx context.Context) error {
		if err := s.snapshotTags(ctx, wctx, rep, prog, now, resuming); err != nil || rep.Stopped {
			return err
		}
		s.log.Info("snapshot history started", "watermark", from, "has_watermark", hasFrom, "kinds", kindNames(kinds.List()))
		if err := s.pullHistory(ctx, wctx, rep, prog, filter, kinds); err != nil || rep.Stopped {
			return err
		}
		return s.store.CompleteSnapshot(wctx, now)
	})

	rep.Elapsed = prog.elapsed()
	s.finish(rep, err)
	return rep, err
}

func (s *Syncer) snapshotTags(ctx, wctx context.Context, rep *Report, prog *progress, now time.Time, resuming bool) error {
	names, err := s.source.DistinctTagNames(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: list tags: %w", err)
	}

	done := make(map[string]bool)
	if resuming {
		recorded, err := s.store.Events(wctx, event.KindTag, store.Since(now))
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		for _, ev := range recorded {
			if tag := ev.(*event.TagEvent); tag.Timestamp.Equal(now) {
				done[tag.TagName] = true
			}
		}
		s.log.Info("snapshot resumed", "tags", len(names), "already_recorded", len(done), "at", now)
	} else {
		s.log.Info("snapshot started", "tags", len(names), "at", now)
	}

	for _, name := range names {
		if s.halted(ctx) {
			rep.Stopped = true
			return nil
		}
		if done[name] {
			continue
		}
		rep.Processed++

		items, err := s.source.Search(ctx, collection.TagQuery(name))
		if err != nil {
			s.skip(rep, resolutionError(event.KindTag, now, fmt.Sprintf("search tag %q", name), err))
			continue
		}
		if len(items) == 0 {
			continue
		}

		ev := &event.TagEvent{TagName: name, Added: true}
		if err := s.fillEnvelope(wctx, &ev.Envelope, event.KindTag, now, items); err != nil {
			if s.skipIfPassError(rep, err) {
				continue
			}
			return err
		}
		if err := s.store.Append(wctx, ev); err != nil {
			return err
		}
		rep.Recorded[event.KindTag]++
		s.log.Debug("recorded event", "event", ev.String())
		prog.tick(rep)
	}
	return nil
}

// incremental pulls annotation history started after the watermark.
func (s *Syncer) incremental(ctx context.Context, bulk bool) (*Report, error) {
	rep := newReport(ModeIncremental)
	prog := newProgress(s.log, s.clock, s.cfg.Progress(), "sync progress")

	wm, hasWM, err := s.store.Watermark(ctx)
	if err != nil {
		return rep, fmt.Errorf("sync: %w", err)
	}
	filter := s.historyFilter(rep, wm, hasWM)
	s.log.Info("sync started", "watermark", wm, "has_watermark", hasWM, "kinds", kindNames(s.cfg.Kinds.List()))

	err = s.inBatch(ctx, bulk, func(wctx context.Context) error {
		return s.pullHistory(ctx, wctx, rep, prog, filter, s.cfg.Kinds)
	})

	rep.Elapsed = prog.elapsed()
	s.finish(rep, err)
	return rep, err
}

// historyFilter selects annotation history after wm and resets the item
// set cache to it.
func (s *Syncer) historyFilter(rep *Report, wm time.Time, hasWM bool) collection.HistoryFilter {
	filter := collection.HistoryFilter{Type: collection.HistoryTypeAnnotation}
	if hasWM {
		filter.StartAfter = wm
		rep.Watermark = wm
	}
	s.itemSets.reset(wm)
	return filter
}

// pullHistory records every source history event matching filter whose
// kind is enabled in kinds.
func (s *Syncer) pullHistory(ctx, wctx context.Context, rep *Report, prog *progress, filter collection.HistoryFilter, kinds config.Kinds) error {
	err := s.source.EachHistoryEvent(ctx, filter, func(h collection.HistoryEvent) error {
		if s.halted(ctx) {
			return errHalt
		}
		rep.Processed++

		kind, ok := Classify(h)
		if !ok || !kinds.Enabled(kind) {
			rep.Ignored++
			return nil
		}

		ev, err := s.build(ctx, wctx, kind, h)
		if err != nil {
			if s.skipIfPassError(rep, err) {
				return nil
			}
			return err
		}
		if err := s.store.Append(wctx, ev); err != nil {
			return err
		}
		rep.Recorded[kind]++
		s.log.Debug("recorded event", "event", ev.String(), "at", ev.Meta().Timestamp)
		prog.tick(rep)
		return nil
	})
	if errors.Is(err, errHalt) || (err != nil && s.halted(ctx) && errors.Is(err, ctx.Err())) {
		rep.Stopped = true
		return nil
	}
	return err
}

// inBatch runs fn inside a store batch. Writes use a context detached from
// ctx so cancellation only takes effect between events. On failure the
// batch is rolled back and the registry reloaded. bulk additionally drops
// the timestamp indexes for the duration.
func (s *Syncer) inBatch(ctx context.Context, bulk bool, fn func(wctx context.Context) error) error {
	wctx := context.WithoutCancel(ctx)

	run := func() error {
		batch, err := s.store.BeginBatch(wctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if err := fn(wctx); err != nil {
			if rbErr := batch.Rollback(); rbErr != nil {
				s.log.Error("rollback failed", "error", rbErr)
			}
			s.reloadRegistry(wctx)
			return err
		}
		if err := batch.Commit(); err != nil {
			s.reloadRegistry(wctx)
			return err
		}
		return nil
	}

	if !bulk {
		return run()
	}
	return s.store.WithoutTimestampIndexes(wctx, run)
}

func (s *Syncer) reloadRegistry(ctx context.Context) {
	if err := s.registry.Reload(ctx); err != nil {
		s.log.Error("registry reload failed", "error", err)
	}
}

// build turns a classified history event into a store event.
func (s *Syncer) build(ctx, wctx context.Context, kind event.Kind, h collection.HistoryEvent) (event.Event, error) {
	ts := h.Start.UTC().Truncate(time.Millisecond)

	var (
		ev  event.Event
		env *event.Envelope
	)
	switch kind {
	case event.KindTag:
		e := &event.TagEvent{
			TagName: h.Text(collection.DetailTag),
			Added:   h.Bool(collection.DetailAdded),
		}
		ev, env = e, &e.Envelope

	case event.KindCustomMetadata:
		e := &event.CustomMetadataEvent{
			FieldName: h.Text(collection.DetailFieldName),
			Added:     h.Has(collection.DetailType),
		}
		if e.Added {
			v, err := event.ParseValue(h.Text(collection.DetailType), h.Details[collection.DetailValue])
			if err != nil {
				return nil, resolutionError(kind, ts, fmt.Sprintf("parse value of %q", e.FieldName), err)
			}
			e.Value = v
		}
		ev, env = e, &e.Envelope

	case event.KindItemSet:
		e := &event.ItemSetEvent{
			ItemSetName: h.Text(collection.DetailItemSet),
			BatchName:   h.Text(collection.DetailBatch),
			Added:       h.Has(collection.DetailItemsAssignedCount),
		}
		if e.Added {
			info, err := s.itemSetInfo(ctx, e.ItemSetName)
			if err != nil {
				return nil, resolutionError(kind, ts, fmt.Sprintf("load item set %q", e.ItemSetName), err)
			}
			settings, err := event.CanonicalSettings(info.Settings)
			if err != nil {
				return nil, resolutionError(kind, ts, fmt.Sprintf("encode settings of %q", e.ItemSetName), err)
			}
			e.SettingsJSON = settings
			e.Description = info.Description
		}
		ev, env = e, &e.Envelope

	case event.KindExclusion:
		e := &event.ExclusionEvent{
			ExclusionName: h.Text(collection.DetailExclusion),
			Excluded:      h.Bool(collection.DetailExcluded),
		}
		ev, env = e, &e.Envelope

	case event.KindCustodian:
		e := &event.CustodianEvent{
			Custodian: h.Text(collection.DetailCustodian),
			Assigned:  h.Bool(collection.DetailAssigned),
		}
		ev, env = e, &e.Envelope

	default:
		return nil, fmt.Errorf("build event: unknown kind %v", kind)
	}

	if err := s.fillEnvelope(wctx, env, kind, ts, h.Affected); err != nil {
		return nil, err
	}
	return ev, nil
}

// fillEnvelope stamps env and encodes the registry indices of items.
// Unusable items produce a resolution error; registry failures are
// returned as store errors.
func (s *Syncer) fillEnvelope(ctx context.Context, env *event.Envelope, kind event.Kind, ts time.Time, items []collection.Item) error {
	ids := collection.Identities(items)
	for i, id := range ids {
		if id.IsNil() {
			return resolutionError(kind, ts, fmt.Sprintf("affected item %d has no identity", i), nil)
		}
	}

	indices, err := s.registry.IndexOfMany(ctx, ids)
	if err != nil {
		return err
	}
	payload, err := bitmap.Encode(indices)
	if err != nil {
		return resolutionError(kind, ts, "encode bitmap", err)
	}

	env.Timestamp = ts
	env.Bitmap = payload
	env.ItemCount = len(ids)
	return nil
}

// itemSetInfo returns the item set's settings and description, cached for
// the current watermark. An item set the source no longer knows is
// recorded with empty settings.
func (s *Syncer) itemSetInfo(ctx context.Context, name string) (collection.ItemSetInfo, error) {
	if info, ok := s.itemSets.get(name); ok {
		return info, nil
	}
	info, err := s.source.ItemSetInfo(ctx, name)
	if errors.Is(err, collection.ErrNotFound) {
		s.log.Warn("item set not found in source, recording empty settings", "item_set", name)
		info, err = collection.ItemSetInfo{}, nil
	}
	if err != nil {
		return collection.ItemSetInfo{}, err
	}
	s.itemSets.put(name, info)
	return info, nil
}

func (s *Syncer) skipIfPassError(rep *Report, err error) bool {
	var pe *PassError
	if !errors.As(err, &pe) {
		return false
	}
	s.skip(rep, pe)
	return true
}

func (s *Syncer) skip(rep *Report, pe *PassError) {
	rep.skip(pe)
	s.log.Warn("skipped event", "kind", pe.Kind.Short(), "at", pe.Timestamp, "error", pe)
}

func (s *Syncer) finish(rep *Report, err error) {
	attrs := []any{
		"mode", rep.Mode,
		"processed", rep.Processed,
		"recorded", rep.TotalRecorded(),
		"skipped", rep.Skipped,
		"ignored", rep.Ignored,
		"stopped", rep.Stopped,
		"elapsed", rep.Elapsed,
	}
	if n := rep.TotalRecorded(); n > 0 {
		attrs = append(attrs, "avg_record", rep.Elapsed/time.Duration(n))
	}
	if err != nil {
		s.log.Error("sync aborted", append(attrs, "error", err)...)
		return
	}
	s.log.Info("sync finished", attrs...)
}

// itemSetCache holds item set info for one watermark. Changing the key
// discards every entry.
type itemSetCache struct {
	key     time.Time
	entries map[string]collection.ItemSetInfo
}

func (c *itemSetCache) reset(key time.Time) {
	if c.entries != nil && c.key.Equal(key) {
		return
	}
	c.key = key
	c.entries = make(map[string]collection.ItemSetInfo)
}

func (c *itemSetCache) get(name string) (collection.ItemSetInfo, bool) {
	info, ok := c.entries[name]
	return info, ok
}

func (c *itemSetCache) put(name string, info collection.ItemSetInfo) {
	if c.entries == nil {
		c.entries = make(map[string]collection.ItemSetInfo)
	}
	c.entries[name] = info
}

func kindNames(kinds []event.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Short()
	}
	return names
}
