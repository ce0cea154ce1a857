package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/store"
)

func appendAt(t *testing.T, s *store.Store, ev event.Event) {
	t.Helper()
	require.NoError(t, s.Append(context.Background(), ev))
}

func TestMergeEvents_OrdersByTimestampThenKind(t *testing.T) {
	f := newFixture(t)
	env := func(sec int) event.Envelope { return event.Envelope{Timestamp: at(sec)} }

	appendAt(t, f.store, &event.ExclusionEvent{Envelope: env(2), ExclusionName: "junk", Excluded: true})
	appendAt(t, f.store, &event.TagEvent{Envelope: env(2), TagName: "Hot", Added: true})
	appendAt(t, f.store, &event.CustodianEvent{Envelope: env(1), Custodian: "Ada", Assigned: true})
	appendAt(t, f.store, &event.TagEvent{Envelope: env(3), TagName: "Cold", Added: true})

	var got []string
	err := MergeEvents(context.Background(), f.store, event.AllKinds, store.Range{}, func(ev event.Event) error {
		got = append(got, ev.String())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`Assigned Custodian "Ada" to 0 items`,
		`Added Tag "Hot" on 0 items`,
		`Excluded 0 items with exclusion "junk"`,
		`Added Tag "Cold" on 0 items`,
	}, got)
}

func TestMergeEvents_AcrossPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.store.BeginBatch(ctx, 0)
	require.NoError(t, err)
	const n = mergePageSize + 50
	for i := 0; i < n; i++ {
		appendAt(t, f.store, &event.TagEvent{Envelope: event.Envelope{Timestamp: at(2 * i)}, TagName: fmt.Sprint(i), Added: true})
		appendAt(t, f.store, &event.CustodianEvent{Envelope: event.Envelope{Timestamp: at(2*i + 1)}, Custodian: fmt.Sprint(i), Assigned: true})
	}
	require.NoError(t, batch.Commit())

	var (
		count int
		last  event.Event
	)
	err = MergeEvents(ctx, f.store, event.AllKinds, store.Range{}, func(ev event.Event) error {
		if last != nil {
			require.True(t, last.Meta().Timestamp.Before(ev.Meta().Timestamp), "event %d out of order", count)
			require.NotEqual(t, last.Kind(), ev.Kind(), "kinds alternate")
		}
		last = ev
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2*n, count)
}

func TestMergeEvents_RespectsRangeAndKinds(t *testing.T) {
	f := newFixture(t)
	appendAt(t, f.store, &event.TagEvent{Envelope: event.Envelope{Timestamp: at(1)}, TagName: "old", Added: true})
	appendAt(t, f.store, &event.TagEvent{Envelope: event.Envelope{Timestamp: at(5)}, TagName: "new", Added: true})
	appendAt(t, f.store, &event.CustodianEvent{Envelope: event.Envelope{Timestamp: at(6)}, Custodian: "Ada", Assigned: true})

	var got []event.Kind
	err := MergeEvents(context.Background(), f.store, []event.Kind{event.KindTag}, store.Since(at(5)), func(ev event.Event) error {
		got = append(got, ev.Kind())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []event.Kind{event.KindTag}, got)
}

func TestMergeEvents_StopsOnCallbackError(t *testing.T) {
	f := newFixture(t)
	appendAt(t, f.store, &event.TagEvent{Envelope: event.Envelope{Timestamp: at(1)}, TagName: "a", Added: true})
	appendAt(t, f.store, &event.TagEvent{Envelope: event.Envelope{Timestamp: at(2)}, TagName: "b", Added: true})

	boom := errors.New("boom")
	calls := 0
	err := MergeEvents(context.Background(), f.store, event.AllKinds, store.Range{}, func(event.Event) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestMergeEvents_Empty(t *testing.T) {
	f := newFixture(t)

	err := MergeEvents(context.Background(), f.store, event.AllKinds, store.Range{}, func(event.Event) error {
		t.Fatal("no events expected")
		return nil
	})
	assert.NoError(t, err)
}
