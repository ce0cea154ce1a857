package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/bitmap"
	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
)

func call(op string, args []string, items ...*memory.Item) string {
	ids := make([]identity.Identity, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return memory.Call{Op: op, Args: args, Items: ids}.String()
}

func TestReplay_RecordThenReplayTags(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a", "b", "c")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0], m.items[1])
	m.source.RecordAnnotation(at(2), tagDetails("Hot", false), m.items[1])
	f.sync(t, m.source, noSnapshot())

	rep, err := f.replayer(m.target, nil).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Replayed[event.KindTag])
	assert.Equal(t, []string{
		call("AddTag", []string{"Hot"}, m.items[0], m.items[1]),
		call("RemoveTag", []string{"Hot"}, m.items[1]),
	}, m.target.Trace())

	assert.True(t, m.targets[0].Tags["Hot"])
	assert.False(t, m.targets[1].Tags["Hot"])
	assert.False(t, m.targets[2].Tags["Hot"])
}

func TestReplay_TwiceIssuesIdenticalCalls(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a", "b", "c")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0], m.items[2])
	m.source.RecordAnnotation(at(2), map[string]any{collection.DetailCustodian: "Ada", collection.DetailAssigned: true}, m.items[1])
	m.source.RecordAnnotation(at(3), map[string]any{collection.DetailExcluded: true, collection.DetailExclusion: "junk"}, m.items[0])
	f.sync(t, m.source, noSnapshot())

	r := f.replayer(m.target, nil)
	_, err := r.ReplayAll(context.Background(), store.Range{})
	require.NoError(t, err)
	first := m.target.Trace()

	m.target.ResetCalls()
	_, err = r.ReplayAll(context.Background(), store.Range{})
	require.NoError(t, err)

	assert.Len(t, first, 3)
	assert.Equal(t, first, m.target.Trace())

	total, err := f.store.TotalEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestReplay_RangeIsStrictlyAfter(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("One", true), m.items[0])
	m.source.RecordAnnotation(at(2), tagDetails("Two", true), m.items[0])
	f.sync(t, m.source, noSnapshot())

	rep, err := f.replayer(m.target, nil).Replay(context.Background(), event.KindTag, store.After(at(1)))
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, []string{call("AddTag", []string{"Two"}, m.targets[0])}, m.target.Trace())
}

func TestReplay_IntegrityWarningNotFailure(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a", "b", "c")
	ctx := context.Background()

	indices, err := f.registry.IndexOfMany(ctx, []identity.Identity{m.items[0].ID, m.items[1].ID, m.items[2].ID})
	require.NoError(t, err)
	payload, err := bitmap.Encode(indices)
	require.NoError(t, err)
	require.NoError(t, f.store.Append(ctx, &event.TagEvent{
		Envelope: event.Envelope{Timestamp: at(1), Bitmap: payload, ItemCount: 5},
		TagName:  "Hot",
		Added:    true,
	}))

	rep, err := f.replayer(m.target, nil).Replay(ctx, event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Replayed[event.KindTag])
	assert.Equal(t, 1, rep.Warnings)
	assert.Zero(t, rep.Skipped)
	assert.True(t, IsIntegrityError(rep.Err()))
	assert.Equal(t, []string{call("AddTag", []string{"Hot"}, m.items...)}, m.target.Trace())
}

func TestReplay_MissingIndexSkipsOnlyThatIdentity(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	ctx := context.Background()

	idx, err := f.registry.IndexOf(ctx, m.items[0].ID)
	require.NoError(t, err)
	payload, err := bitmap.Encode([]uint64{idx, 99})
	require.NoError(t, err)
	require.NoError(t, f.store.Append(ctx, &event.CustodianEvent{
		Envelope:  event.Envelope{Timestamp: at(1), Bitmap: payload, ItemCount: 2},
		Custodian: "Ada",
		Assigned:  true,
	}))

	rep, err := f.replayer(m.target, nil).Replay(ctx, event.KindCustodian, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Warnings)
	assert.Equal(t, 1, rep.Replayed[event.KindCustodian])
	assert.Equal(t, "Ada", m.targets[0].Custodian)

	var pe *PassError
	require.True(t, errors.As(rep.Err(), &pe))
	assert.Equal(t, "1", pe.Details["missing"])
	assert.Equal(t, "99", pe.Details["first"])
}

func TestReplay_CorruptBitmapSkipsEvent(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	ctx := context.Background()

	require.NoError(t, f.store.Append(ctx, &event.TagEvent{
		Envelope: event.Envelope{Timestamp: at(1), Bitmap: []byte{0xff, 0x01, 0x02}, ItemCount: 1},
		TagName:  "Hot",
		Added:    true,
	}))

	rep, err := f.replayer(m.target, nil).Replay(ctx, event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Warnings)
	assert.Empty(t, m.target.Trace())
}

func TestReplay_LooksUpInChunks(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a", "b", "c", "d", "e")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items...)
	f.sync(t, m.source, noSnapshot())

	cfg := config.DefaultConfig()
	cfg.LookupChunkSize = 2
	rep, err := f.replayer(m.target, cfg).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Replayed[event.KindTag])
	assert.Len(t, m.target.Queries(), 3)
	assert.Equal(t, []string{call("AddTag", []string{"Hot"}, m.items...)}, m.target.Trace())
}

func TestReplay_ItemsMissingFromTarget(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	extra := m.source.AddItem(identity.FromName("only-in-source"), "only-in-source")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0], extra)
	m.source.RecordAnnotation(at(2), tagDetails("Cold", true), extra)
	f.sync(t, m.source, noSnapshot())

	rep, err := f.replayer(m.target, nil).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.NotFound)
	assert.Equal(t, 1, rep.Replayed[event.KindTag])
	assert.Equal(t, []string{call("AddTag", []string{"Hot"}, m.targets[0])}, m.target.Trace())
}

func TestReplay_EveryKindCallsItsPrimitive(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.DefineItemSet("Dedup", collection.ItemSetInfo{
		Settings:    map[string]any{"deduplication": "MD5"},
		Description: "dedup set",
	})
	details := []map[string]any{
		{collection.DetailFieldName: "Score", collection.DetailType: "integer", collection.DetailValue: 7},
		{collection.DetailFieldName: "Score"},
		{collection.DetailItemSet: "Dedup", collection.DetailItemsAssignedCount: 1, collection.DetailBatch: "b1"},
		{collection.DetailItemSet: "Dedup", collection.DetailItemsUnassignedCount: 1},
		{collection.DetailExcluded: true, collection.DetailExclusion: "junk"},
		{collection.DetailExcluded: false},
		{collection.DetailAssigned: true, collection.DetailCustodian: "Ada"},
		{collection.DetailAssigned: false},
	}
	for i, d := range details {
		m.source.RecordAnnotation(at(i+1), d, m.items[0])
	}
	f.sync(t, m.source, noSnapshot())

	rep, err := f.replayer(m.target, nil).ReplayAll(context.Background(), store.Range{})
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	a := m.targets[0]
	assert.Equal(t, []string{
		call("SetCustomMetadata", []string{"Score", "integer", "7"}, a),
		call("RemoveCustomMetadata", []string{"Score"}, a),
		memory.Call{Op: "CreateItemSetIfAbsent", Args: []string{"Dedup"}}.String(),
		call("AddToItemSet", []string{"Dedup", "b1"}, a),
		call("RemoveFromItemSet", []string{"Dedup"}, a),
		call("Exclude", []string{"junk"}, a),
		call("Include", nil, a),
		call("AssignCustodian", []string{"Ada"}, a),
		call("UnassignCustodian", nil, a),
	}, m.target.Trace())

	info, err := m.target.ItemSetInfo(context.Background(), "Dedup")
	require.NoError(t, err)
	assert.Equal(t, "dedup set", info.Description)
	assert.Equal(t, "MD5", info.Settings["deduplication"])
}

func TestReplay_MutationFailureSkipsEvent(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0])
	m.source.RecordAnnotation(at(2), tagDetails("Hot", false), m.items[0])
	f.sync(t, m.source, noSnapshot())

	m.target.Fail("AddTag", errors.New("read only"))
	rep, err := f.replayer(m.target, nil).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Replayed[event.KindTag])
	assert.True(t, IsResolutionError(rep.Err()))
	assert.Equal(t, []string{call("RemoveTag", []string{"Hot"}, m.targets[0])}, m.target.Trace())
}

func TestReplay_LookupFailureSkipsEvent(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0])
	f.sync(t, m.source, noSnapshot())

	m.target.Fail("SearchByIdentity", errors.New("timeout"))
	rep, err := f.replayer(m.target, nil).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Empty(t, m.target.Trace())
}

func TestReplay_DryRun(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0])
	f.sync(t, m.source, noSnapshot())

	rep, err := f.replayer(m.target, nil, WithDryRun(true)).Replay(context.Background(), event.KindTag, store.Range{})
	require.NoError(t, err)

	assert.Equal(t, ModeDryRun, rep.Mode)
	assert.Equal(t, 1, rep.Replayed[event.KindTag])
	assert.Empty(t, m.target.Trace())
	assert.False(t, m.targets[0].Tags["Hot"])
}

func TestReplay_Stop(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0])
	f.sync(t, m.source, noSnapshot())

	r := f.replayer(m.target, nil)
	r.Stop()
	rep, err := r.Replay(context.Background(), event.KindTag, store.Range{})

	require.NoError(t, err)
	assert.True(t, rep.Stopped)
	assert.Empty(t, m.target.Trace())
}

func TestReplayAll_HonoursKindToggles(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(1), tagDetails("Hot", true), m.items[0])
	m.source.RecordAnnotation(at(2), map[string]any{collection.DetailAssigned: true, collection.DetailCustodian: "Ada"}, m.items[0])
	f.sync(t, m.source, noSnapshot())

	cfg := config.DefaultConfig()
	cfg.Kinds = config.OnlyKinds(event.KindCustodian)
	rep, err := f.replayer(m.target, cfg).ReplayAll(context.Background(), store.Range{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.TotalReplayed())
	assert.Equal(t, []string{call("AssignCustodian", []string{"Ada"}, m.targets[0])}, m.target.Trace())
}

func TestForEachEvent_OrderedPerKind(t *testing.T) {
	f := newFixture(t)
	m := newMatter("a")
	m.source.RecordAnnotation(at(2), tagDetails("Two", true), m.items[0])
	m.source.RecordAnnotation(at(1), tagDetails("One", true), m.items[0])
	f.sync(t, m.source, noSnapshot())

	var names []string
	err := f.replayer(m.target, nil).ForEachEvent(context.Background(), event.KindTag, store.Range{}, func(ev event.Event) error {
		names = append(names, ev.(*event.TagEvent).TagName)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two"}, names)
}
