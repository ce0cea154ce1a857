package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/annohist/internal/event"
)

// Well-known AdditionalInfo names.
const (
	InfoSyncPoint      = "SyncPoint"
	InfoSnapshotPoint  = "SnapshotPoint"
	InfoSourceName     = "SourceName"
	InfoSourceLocation = "SourceLocation"
)

// SetInfoText stores a named text value, replacing any previous value.
func (s *Store) SetInfoText(ctx context.Context, name, value string) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO AdditionalInfo (Name, ValueText) VALUES (?, ?)
		ON CONFLICT(Name) DO UPDATE SET ValueText = excluded.ValueText
	`, name, value)
	if err != nil {
		return fmt.Errorf("set info %s: %w", name, err)
	}
	return s.wrote(1)
}

// SetInfoInt stores a named integer value, replacing any previous value.
func (s *Store) SetInfoInt(ctx context.Context, name string, value int64) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO AdditionalInfo (Name, ValueInt) VALUES (?, ?)
		ON CONFLICT(Name) DO UPDATE SET ValueInt = excluded.ValueInt
	`, name, value)
	if err != nil {
		return fmt.Errorf("set info %s: %w", name, err)
	}
	return s.wrote(1)
}

// InfoText returns a named text value, or ErrNotFound.
func (s *Store) InfoText(ctx context.Context, name string) (string, error) {
	var v sql.NullString
	err := s.q().QueryRowContext(ctx, "SELECT ValueText FROM AdditionalInfo WHERE Name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return "", fmt.Errorf("info %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get info %s: %w", name, err)
	}
	return v.String, nil
}

// InfoInt returns a named integer value, or ErrNotFound.
func (s *Store) InfoInt(ctx context.Context, name string) (int64, error) {
	var v sql.NullInt64
	err := s.q().QueryRowContext(ctx, "SELECT ValueInt FROM AdditionalInfo WHERE Name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return 0, fmt.Errorf("info %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get info %s: %w", name, err)
	}
	return v.Int64, nil
}

// DeleteInfo removes a named value. Deleting an absent name is a no-op.
func (s *Store) DeleteInfo(ctx context.Context, name string) error {
	res, err := s.q().ExecContext(ctx, "DELETE FROM AdditionalInfo WHERE Name = ?", name)
	if err != nil {
		return fmt.Errorf("delete info %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete info %s: %w", name, err)
	}
	return s.wrote(int(n))
}

// SetSyncPoint records t as the sync point marker.
func (s *Store) SetSyncPoint(ctx context.Context, t time.Time) error {
	return s.SetInfoInt(ctx, InfoSyncPoint, t.UnixMilli())
}

// SyncPoint returns the sync point marker. ok is false when none is set.
func (s *Store) SyncPoint(ctx context.Context) (t time.Time, ok bool, err error) {
	ms, err := s.InfoInt(ctx, InfoSyncPoint)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return event.FromMillis(ms), true, nil
}

// SetSnapshotPoint marks a first-pass snapshot stamped t as in progress.
func (s *Store) SetSnapshotPoint(ctx context.Context, t time.Time) error {
	return s.SetInfoInt(ctx, InfoSnapshotPoint, t.UnixMilli())
}

// SnapshotPoint returns the timestamp of an unfinished first-pass snapshot.
// ok is false when no snapshot is in progress.
func (s *Store) SnapshotPoint(ctx context.Context) (t time.Time, ok bool, err error) {
	ms, err := s.InfoInt(ctx, InfoSnapshotPoint)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return event.FromMillis(ms), true, nil
}

// CompleteSnapshot moves the sync point to t and clears the in-progress
// snapshot marker.
func (s *Store) CompleteSnapshot(ctx context.Context, t time.Time) error {
	if err := s.SetSyncPoint(ctx, t); err != nil {
		return err
	}
	return s.DeleteInfo(ctx, InfoSnapshotPoint)
}

// Watermark returns the instant up to which the source has been recorded:
// the later of the latest event timestamp and the sync point marker.
// ok is false for a store with neither.
func (s *Store) Watermark(ctx context.Context) (wm time.Time, ok bool, err error) {
	wm, ok, err = s.LatestEventTime(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	sp, found, err := s.SyncPoint(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if found && (!ok || sp.After(wm)) {
		wm, ok = sp, true
	}
	return wm, ok, nil
}

// Summary describes the contents of a store.
type Summary struct {
	RegistrySize   int64
	Counts         map[event.Kind]int64
	TotalEvents    int64
	Watermark      time.Time
	HasWatermark   bool
	SyncPoint      time.Time
	HasSyncPoint   bool
	SourceName     string
	SourceLocation string
	SchemaVersion  int
}

// Summarize collects a Summary.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	sum := Summary{Counts: make(map[event.Kind]int64, len(event.AllKinds))}

	var err error
	if sum.RegistrySize, err = s.RegistrySize(ctx); err != nil {
		return Summary{}, err
	}
	for _, kind := range event.AllKinds {
		n, err := s.Count(ctx, kind)
		if err != nil {
			return Summary{}, err
		}
		sum.Counts[kind] = n
		sum.TotalEvents += n
	}
	if sum.Watermark, sum.HasWatermark, err = s.Watermark(ctx); err != nil {
		return Summary{}, err
	}
	if sum.SyncPoint, sum.HasSyncPoint, err = s.SyncPoint(ctx); err != nil {
		return Summary{}, err
	}
	if sum.SourceName, err = s.optionalText(ctx, InfoSourceName); err != nil {
		return Summary{}, err
	}
	if sum.SourceLocation, err = s.optionalText(ctx, InfoSourceLocation); err != nil {
		return Summary{}, err
	}
	if sum.SchemaVersion, err = s.SchemaVersion(ctx); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (s *Store) optionalText(ctx context.Context, name string) (string, error) {
	v, err := s.InfoText(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
