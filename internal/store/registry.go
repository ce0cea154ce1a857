package store

import (
	"context"
	"fmt"

	"github.com/roach88/annohist/internal/identity"
)

// EachRegistryEntry calls fn for every GUIDRef row in index order.
// Implements identity.Backend.
func (s *Store) EachRegistryEntry(ctx context.Context, fn func(identity.Entry) error) error {
	rows, err := s.q().QueryContext(ctx, `
		SELECT BitmapIndex, GUID
		FROM GUIDRef
		ORDER BY BitmapIndex ASC
	`)
	if err != nil {
		return fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			index int64
			guid  []byte
		)
		if err := rows.Scan(&index, &guid); err != nil {
			return fmt.Errorf("scan registry row: %w", err)
		}
		id, err := identity.FromBytes(guid)
		if err != nil {
			return fmt.Errorf("registry index %d: %w", index, err)
		}
		if err := fn(identity.Entry{Index: uint64(index), Identity: id}); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate registry: %w", err)
	}
	return nil
}

// InsertRegistryEntries appends entries to GUIDRef. Implements
// identity.Backend.
//
// Inside a batch the rows join the batch transaction. Otherwise they are
// written in a transaction of their own, so either all entries persist or
// none do.
func (s *Store) InsertRegistryEntries(ctx context.Context, entries []identity.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	if b := s.activeBatch(); b != nil {
		if err := insertRegistryRows(ctx, s.q(), entries); err != nil {
			return err
		}
		return b.added(len(entries))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert registry entries: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := insertRegistryRows(ctx, tx, entries); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert registry entries: commit: %w", err)
	}
	return nil
}

func insertRegistryRows(ctx context.Context, q querier, entries []identity.Entry) error {
	for _, e := range entries {
		_, err := q.ExecContext(ctx,
			"INSERT INTO GUIDRef (BitmapIndex, GUID) VALUES (?, ?)",
			int64(e.Index), e.Identity.Bytes(),
		)
		if err != nil {
			return fmt.Errorf("insert registry entry %d: %w", e.Index, err)
		}
	}
	return nil
}

// RegistrySize returns the number of GUIDRef rows.
func (s *Store) RegistrySize(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM GUIDRef").Scan(&n); err != nil {
		return 0, fmt.Errorf("count registry: %w", err)
	}
	return n, nil
}

var _ identity.Backend = (*Store)(nil)
