package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/event"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := createTestStoreAt(t)
	return s
}

// createTestStoreAt opens a fresh store and returns its path for reopening.
func createTestStoreAt(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// at returns a UTC instant offset from a fixed base by ms milliseconds.
func at(ms int64) time.Time {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond)
}

func tagEvent(ts time.Time, name string, added bool) *event.TagEvent {
	return &event.TagEvent{
		Envelope: event.Envelope{Timestamp: ts, Bitmap: []byte{0x01, 0x02}, ItemCount: 1},
		TagName:  name,
		Added:    added,
	}
}

func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&value); err != nil {
		return err
	}
	if value != expected {
		return &pragmaMismatch{name: name, got: value, want: expected}
	}
	return nil
}

type pragmaMismatch struct{ name, got, want string }

func (e *pragmaMismatch) Error() string {
	return e.name + " = " + e.got + ", expected " + e.want
}
