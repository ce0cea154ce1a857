package engine

import (
	"container/heap"
	"context"

	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/store"
)

// mergePageSize bounds the events buffered per kind during a merge.
const mergePageSize = 256

// MergeEvents calls fn for the stored events of kinds in r as one stream
// ordered by timestamp. Ties go to the kind listed first, then insertion
// order. No statement is open while fn runs.
func MergeEvents(ctx context.Context, s *store.Store, kinds []event.Kind, r store.Range, fn func(event.Event) error) error {
	h := make(streamHeap, 0, len(kinds))
	for rank, kind := range kinds {
		st := &stream{kind: kind, rank: rank, cur: r.Start()}
		if err := st.fill(ctx, s); err != nil {
			return err
		}
		if len(st.buf) > 0 {
			h = append(h, st)
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := heap.Pop(&h).(*stream)
		ev := st.buf[0]
		st.buf = st.buf[1:]

		if err := fn(ev); err != nil {
			return err
		}

		if err := st.fill(ctx, s); err != nil {
			return err
		}
		if len(st.buf) > 0 {
			heap.Push(&h, st)
		}
	}
	return nil
}

// stream is one kind's paged event sequence.
type stream struct {
	kind event.Kind
	rank int
	cur  store.Cursor
	buf  []event.Event
	done bool
}

// fill fetches the next page when the buffer is empty.
func (st *stream) fill(ctx context.Context, s *store.Store) error {
	if len(st.buf) > 0 || st.done {
		return nil
	}
	page, next, err := s.Page(ctx, st.kind, st.cur, mergePageSize)
	if err != nil {
		return err
	}
	st.buf = page
	st.cur = next
	st.done = len(page) < mergePageSize
	return nil
}

type streamHeap []*stream

func (h streamHeap) Len() int { return len(h) }

func (h streamHeap) Less(i, j int) bool {
	ti := h[i].buf[0].Meta().Timestamp
	tj := h[j].buf[0].Meta().Timestamp
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return h[i].rank < h[j].rank
}

func (h streamHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *streamHeap) Push(x any) { *h = append(*h, x.(*stream)) }

func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	st := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return st
}
