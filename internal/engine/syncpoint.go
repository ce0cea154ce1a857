package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/store"
)

// LatestHistoryStart returns the start of the latest annotation history
// event in c. ok is false when c has none.
func LatestHistoryStart(ctx context.Context, c collection.HistoryReader) (latest time.Time, ok bool, err error) {
	filter := collection.HistoryFilter{Type: collection.HistoryTypeAnnotation}
	err = c.EachHistoryEvent(ctx, filter, func(h collection.HistoryEvent) error {
		if !ok || h.Start.After(latest) {
			latest, ok = h.Start, true
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scan history: %w", err)
	}
	return latest, ok, nil
}

// SyncPointFromHistory moves the store's sync point to the latest
// annotation history event in c, so the next sync only records what
// happens after it. ok is false, and nothing is written, when c has no
// annotation history.
func SyncPointFromHistory(ctx context.Context, s *store.Store, c collection.HistoryReader) (point time.Time, ok bool, err error) {
	point, ok, err = LatestHistoryStart(ctx, c)
	if err != nil || !ok {
		return point, ok, err
	}
	point = point.UTC().Truncate(time.Millisecond)
	if err := s.SetSyncPoint(ctx, point); err != nil {
		return time.Time{}, false, err
	}
	return point, true, nil
}
