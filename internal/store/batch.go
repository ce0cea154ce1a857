package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultBatchSize is the number of rows written per transaction in bulk passes.
const DefaultBatchSize = 25_000

// ErrBatchOpen is returned by BeginBatch when a batch is already open.
var ErrBatchOpen = errors.New("batch already open")

// Batch groups store writes into transactions of at most Size rows.
//
// All Store methods route through the batch transaction while it is open.
// Rows are counted by the store's write methods; once Size rows are pending
// the transaction is committed and a new one started.
type Batch struct {
	s    *Store
	ctx  context.Context
	size int
	tx   *sql.Tx

	pending   int
	committed int
	commits   int
}

// BeginBatch opens a batch. size <= 0 selects DefaultBatchSize.
func (s *Store) BeginBatch(ctx context.Context, size int) (*Batch, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil {
		return nil, ErrBatchOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	b := &Batch{s: s, ctx: ctx, size: size, tx: tx}
	s.batch = b
	return b, nil
}

// Pending returns the number of rows written since the last commit.
func (b *Batch) Pending() int { return b.pending }

// Committed returns the number of rows durably committed by this batch.
func (b *Batch) Committed() int { return b.committed }

// Commits returns how many transactions this batch has committed.
func (b *Batch) Commits() int { return b.commits }

// added records n written rows and rolls the transaction over when full.
// Called by store write methods with s.mu not held.
func (b *Batch) added(n int) error {
	b.pending += n
	if b.pending < b.size {
		return nil
	}
	return b.flush(true)
}

// flush commits the open transaction and optionally starts another.
func (b *Batch) flush(reopen bool) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if b.tx == nil {
		return fmt.Errorf("batch is closed")
	}
	if err := b.tx.Commit(); err != nil {
		b.tx = nil
		b.s.batch = nil
		return fmt.Errorf("commit batch: %w", err)
	}
	b.committed += b.pending
	b.pending = 0
	b.commits++
	b.tx = nil

	if !reopen {
		b.s.batch = nil
		return nil
	}

	tx, err := b.s.db.BeginTx(b.ctx, nil)
	if err != nil {
		b.s.batch = nil
		return fmt.Errorf("begin batch: %w", err)
	}
	b.tx = tx
	return nil
}

// Commit commits pending rows and closes the batch.
func (b *Batch) Commit() error {
	return b.flush(false)
}

// Rollback discards rows written since the last commit and closes the
// batch. Rolling back a closed batch is a no-op.
func (b *Batch) Rollback() error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if b.tx == nil {
		return nil
	}
	err := b.tx.Rollback()
	b.tx = nil
	b.pending = 0
	if b.s.batch == b {
		b.s.batch = nil
	}
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}

// activeBatch returns the open batch or nil.
func (s *Store) activeBatch() *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch
}

// wrote is called after a successful write of n rows.
func (s *Store) wrote(n int) error {
	if b := s.activeBatch(); b != nil {
		return b.added(n)
	}
	return nil
}
