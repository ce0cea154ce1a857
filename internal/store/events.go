package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/roach88/annohist/internal/event"
)

// scanPageSize bounds the rows read per statement during a scan.
const scanPageSize = 500

// Append inserts one event into its kind's table.
func (s *Store) Append(ctx context.Context, ev event.Event) error {
	var err error
	switch e := ev.(type) {
	case *event.TagEvent:
		err = s.insertTag(ctx, e)
	case *event.CustomMetadataEvent:
		err = s.insertCustomMetadata(ctx, e)
	case *event.ItemSetEvent:
		err = s.insertItemSet(ctx, e)
	case *event.ExclusionEvent:
		err = s.insertExclusion(ctx, e)
	case *event.CustodianEvent:
		err = s.insertCustodian(ctx, e)
	default:
		return fmt.Errorf("append event: unsupported type %T", ev)
	}
	if err != nil {
		return fmt.Errorf("append %s: %w", ev.Kind(), err)
	}
	return s.wrote(1)
}

func bitmapOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (s *Store) insertTag(ctx context.Context, e *event.TagEvent) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO TagEvent (TimeStamp, Tag, Added, SerializedBitmap, ItemCount)
		VALUES (?, ?, ?, ?, ?)
	`, e.Millis(), e.TagName, e.Added, bitmapOrEmpty(e.Bitmap), e.ItemCount)
	return err
}

func (s *Store) insertCustomMetadata(ctx context.Context, e *event.CustomMetadataEvent) error {
	var (
		valueType sql.NullString
		zone      sql.NullString
		intVal    sql.NullInt64
		floatVal  sql.NullFloat64
		textVal   sql.NullString
		binVal    []byte
	)
	if e.Added {
		v := e.Value
		valueType = sql.NullString{String: string(v.Type), Valid: true}
		switch v.Type.Slot() {
		case event.SlotTime:
			intVal = sql.NullInt64{Int64: v.Time.UnixMilli(), Valid: true}
			zone = sql.NullString{String: v.Zone, Valid: true}
		case event.SlotInteger:
			intVal = sql.NullInt64{Int64: v.Int, Valid: true}
		case event.SlotFloat:
			floatVal = sql.NullFloat64{Float64: v.Float, Valid: true}
		case event.SlotBinary:
			binVal = bitmapOrEmpty(v.Binary)
		default:
			textVal = sql.NullString{String: v.Text, Valid: true}
		}
	}

	_, err := s.q().ExecContext(ctx, `
		INSERT INTO CustomMetadataEvent
		(TimeStamp, Added, FieldName, ValueType, ValueTimeZone, ValueInteger, ValueFloat, ValueText, ValueBinary, SerializedBitmap, ItemCount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Millis(), e.Added, e.FieldName, valueType, zone, intVal, floatVal, textVal, binVal, bitmapOrEmpty(e.Bitmap), e.ItemCount)
	return err
}

func (s *Store) insertItemSet(ctx context.Context, e *event.ItemSetEvent) error {
	settings := e.SettingsJSON
	if settings == "" {
		settings = "{}"
	}
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO ItemSetEvent
		(TimeStamp, Added, Settings, ItemSetName, BatchName, Description, SerializedBitmap, ItemCount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Millis(), e.Added, settings, e.ItemSetName, e.BatchName, e.Description, bitmapOrEmpty(e.Bitmap), e.ItemCount)
	return err
}

func (s *Store) insertExclusion(ctx context.Context, e *event.ExclusionEvent) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO ExclusionEvent (TimeStamp, Excluded, ExclusionName, SerializedBitmap, ItemCount)
		VALUES (?, ?, ?, ?, ?)
	`, e.Millis(), e.Excluded, e.ExclusionName, bitmapOrEmpty(e.Bitmap), e.ItemCount)
	return err
}

func (s *Store) insertCustodian(ctx context.Context, e *event.CustodianEvent) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO CustodianEvent (TimeStamp, Assigned, Custodian, SerializedBitmap, ItemCount)
		VALUES (?, ?, ?, ?, ?)
	`, e.Millis(), e.Assigned, e.Custodian, bitmapOrEmpty(e.Bitmap), e.ItemCount)
	return err
}

// Range selects the lower bound of a scan. The zero Range scans everything.
type Range struct {
	// From is the lower timestamp bound. The zero time means unbounded.
	From time.Time
	// Inclusive includes events stamped exactly From.
	Inclusive bool
}

// After returns a range of events strictly after t.
func After(t time.Time) Range { return Range{From: t} }

// Since returns a range of events at or after t.
func Since(t time.Time) Range { return Range{From: t, Inclusive: true} }

func (r Range) lowerMillis() int64 {
	if r.From.IsZero() {
		return math.MinInt64
	}
	ms := r.From.UnixMilli()
	if !r.Inclusive {
		ms++
	}
	return ms
}

// Cursor is a keyset position in a kind table: the (TimeStamp, rowid) of
// the last row returned. Pages continue strictly after it.
type Cursor struct {
	ts    int64
	rowid int64
}

// Start returns the cursor positioned just before the first event in r.
func (r Range) Start() Cursor {
	low := r.lowerMillis()
	if low == math.MinInt64 {
		return Cursor{ts: math.MinInt64, rowid: math.MinInt64}
	}
	return Cursor{ts: low - 1, rowid: math.MaxInt64}
}

type rowScanner func(rows *sql.Rows) (event.Event, int64, int64, error)

var kindColumns = map[event.Kind]string{
	event.KindTag:            "Tag, Added",
	event.KindCustomMetadata: "Added, FieldName, ValueType, ValueTimeZone, ValueInteger, ValueFloat, ValueText, ValueBinary",
	event.KindItemSet:        "Added, Settings, ItemSetName, BatchName, Description",
	event.KindExclusion:      "Excluded, ExclusionName",
	event.KindCustodian:      "Assigned, Custodian",
}

func pageQuery(kind event.Kind) (string, error) {
	cols, ok := kindColumns[kind]
	if !ok {
		return "", fmt.Errorf("unknown kind %v", kind)
	}
	return fmt.Sprintf(`
		SELECT rowid, TimeStamp, SerializedBitmap, ItemCount, %s
		FROM %s
		WHERE TimeStamp > ? OR (TimeStamp = ? AND rowid > ?)
		ORDER BY TimeStamp ASC, rowid ASC
		LIMIT ?
	`, cols, kind.String()), nil
}

// Page returns up to limit events of kind after cur, ordered by
// (TimeStamp, rowid), and the cursor to continue from. A page shorter than
// limit is the last one. limit <= 0 selects the default page size.
func (s *Store) Page(ctx context.Context, kind event.Kind, cur Cursor, limit int) ([]event.Event, Cursor, error) {
	query, err := pageQuery(kind)
	if err != nil {
		return nil, cur, fmt.Errorf("page: %w", err)
	}
	if limit <= 0 {
		limit = scanPageSize
	}
	page, next, err := s.scanPage(ctx, query, cur, limit, scannerFor(kind))
	if err != nil {
		return nil, cur, fmt.Errorf("page %s: %w", kind, err)
	}
	return page, next, nil
}

// Scan calls fn for every event of kind in r, ordered by (TimeStamp, rowid).
// Returning an error from fn stops the scan and returns that error.
func (s *Store) Scan(ctx context.Context, kind event.Kind, r Range, fn func(event.Event) error) error {
	query, err := pageQuery(kind)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	scan := scannerFor(kind)
	cur := r.Start()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, next, err := s.scanPage(ctx, query, cur, scanPageSize, scan)
		if err != nil {
			return fmt.Errorf("scan %s: %w", kind, err)
		}
		for _, ev := range page {
			if err := fn(ev); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		cur = next
	}
}

func (s *Store) scanPage(ctx context.Context, query string, cur Cursor, limit int, scan rowScanner) ([]event.Event, Cursor, error) {
	rows, err := s.q().QueryContext(ctx, query, cur.ts, cur.ts, cur.rowid, limit)
	if err != nil {
		return nil, cur, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	page := make([]event.Event, 0, limit)
	for rows.Next() {
		ev, rowid, ts, err := scan(rows)
		if err != nil {
			return nil, cur, err
		}
		page = append(page, ev)
		cur = Cursor{ts: ts, rowid: rowid}
	}
	if err := rows.Err(); err != nil {
		return nil, cur, fmt.Errorf("iterate: %w", err)
	}
	return page, cur, nil
}

// Events returns all events of kind in r. Returns an empty slice (not nil)
// if there are none.
func (s *Store) Events(ctx context.Context, kind event.Kind, r Range) ([]event.Event, error) {
	events := []event.Event{}
	err := s.Scan(ctx, kind, r, func(ev event.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func envelope(ts int64, bitmap []byte, count int) event.Envelope {
	if bitmap == nil {
		bitmap = []byte{}
	}
	return event.Envelope{Timestamp: event.FromMillis(ts), Bitmap: bitmap, ItemCount: count}
}

func scannerFor(kind event.Kind) rowScanner {
	switch kind {
	case event.KindTag:
		return scanTag
	case event.KindCustomMetadata:
		return scanCustomMetadata
	case event.KindItemSet:
		return scanItemSet
	case event.KindExclusion:
		return scanExclusion
	default:
		return scanCustodian
	}
}

func scanTag(rows *sql.Rows) (event.Event, int64, int64, error) {
	var (
		rowid, ts int64
		bitmap    []byte
		count     int
		e         event.TagEvent
	)
	if err := rows.Scan(&rowid, &ts, &bitmap, &count, &e.TagName, &e.Added); err != nil {
		return nil, 0, 0, fmt.Errorf("scan tag event: %w", err)
	}
	e.Envelope = envelope(ts, bitmap, count)
	return &e, rowid, ts, nil
}

func scanCustomMetadata(rows *sql.Rows) (event.Event, int64, int64, error) {
	var (
		rowid, ts int64
		bitmap    []byte
		count     int
		e         event.CustomMetadataEvent
		valueType sql.NullString
		zone      sql.NullString
		intVal    sql.NullInt64
		floatVal  sql.NullFloat64
		textVal   sql.NullString
		binVal    []byte
	)
	if err := rows.Scan(&rowid, &ts, &bitmap, &count, &e.Added, &e.FieldName,
		&valueType, &zone, &intVal, &floatVal, &textVal, &binVal); err != nil {
		return nil, 0, 0, fmt.Errorf("scan custom metadata event: %w", err)
	}
	e.Envelope = envelope(ts, bitmap, count)

	if e.Added && valueType.Valid {
		t := event.ValueType(valueType.String)
		switch t.Slot() {
		case event.SlotTime:
			e.Value = event.DateTimeFromMillis(intVal.Int64, zone.String)
		case event.SlotInteger:
			e.Value = event.Value{Type: t, Int: intVal.Int64}
		case event.SlotFloat:
			e.Value = event.FloatValue(floatVal.Float64)
		case event.SlotBinary:
			e.Value = event.BinaryValue(binVal)
		default:
			e.Value = event.TypedText(t, textVal.String)
		}
	}
	return &e, rowid, ts, nil
}

func scanItemSet(rows *sql.Rows) (event.Event, int64, int64, error) {
	var (
		rowid, ts   int64
		bitmap      []byte
		count       int
		e           event.ItemSetEvent
		batch, desc sql.NullString
	)
	if err := rows.Scan(&rowid, &ts, &bitmap, &count, &e.Added, &e.SettingsJSON, &e.ItemSetName, &batch, &desc); err != nil {
		return nil, 0, 0, fmt.Errorf("scan item set event: %w", err)
	}
	e.Envelope = envelope(ts, bitmap, count)
	e.BatchName = batch.String
	e.Description = desc.String
	return &e, rowid, ts, nil
}

func scanExclusion(rows *sql.Rows) (event.Event, int64, int64, error) {
	var (
		rowid, ts int64
		bitmap    []byte
		count     int
		e         event.ExclusionEvent
		name      sql.NullString
	)
	if err := rows.Scan(&rowid, &ts, &bitmap, &count, &e.Excluded, &name); err != nil {
		return nil, 0, 0, fmt.Errorf("scan exclusion event: %w", err)
	}
	e.Envelope = envelope(ts, bitmap, count)
	e.ExclusionName = name.String
	return &e, rowid, ts, nil
}

func scanCustodian(rows *sql.Rows) (event.Event, int64, int64, error) {
	var (
		rowid, ts int64
		bitmap    []byte
		count     int
		e         event.CustodianEvent
		custodian sql.NullString
	)
	if err := rows.Scan(&rowid, &ts, &bitmap, &count, &e.Assigned, &custodian); err != nil {
		return nil, 0, 0, fmt.Errorf("scan custodian event: %w", err)
	}
	e.Envelope = envelope(ts, bitmap, count)
	e.Custodian = custodian.String
	return &e, rowid, ts, nil
}

// Count returns the number of events of kind.
func (s *Store) Count(ctx context.Context, kind event.Kind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("count: unknown kind %v", kind)
	}
	var n int64
	if err := s.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+kind.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// TotalEvents returns the number of events across all kinds.
func (s *Store) TotalEvents(ctx context.Context) (int64, error) {
	var total int64
	for _, kind := range event.AllKinds {
		n, err := s.Count(ctx, kind)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// MaxTimestamp returns the latest timestamp recorded for kind.
// ok is false when the table is empty.
func (s *Store) MaxTimestamp(ctx context.Context, kind event.Kind) (ts time.Time, ok bool, err error) {
	if !kind.Valid() {
		return time.Time{}, false, fmt.Errorf("max timestamp: unknown kind %v", kind)
	}
	var latest sql.NullInt64
	if err := s.q().QueryRowContext(ctx, "SELECT MAX(TimeStamp) FROM "+kind.String()).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("max timestamp %s: %w", kind, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return event.FromMillis(latest.Int64), true, nil
}

// LatestEventTime returns the maximum timestamp across every kind table.
// ok is false when no events exist.
func (s *Store) LatestEventTime(ctx context.Context) (latest time.Time, ok bool, err error) {
	return s.LatestEventTimeOf(ctx, event.AllKinds...)
}

// LatestEventTimeOf returns the maximum timestamp across the tables of
// kinds. ok is false when none of them holds an event.
func (s *Store) LatestEventTimeOf(ctx context.Context, kinds ...event.Kind) (latest time.Time, ok bool, err error) {
	for _, kind := range kinds {
		ts, found, err := s.MaxTimestamp(ctx, kind)
		if err != nil {
			return time.Time{}, false, err
		}
		if found && (!ok || ts.After(latest)) {
			latest, ok = ts, true
		}
	}
	return latest, ok, nil
}
