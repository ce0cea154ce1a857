package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/event"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"GUIDRef", "TagEvent", "CustomMetadataEvent", "ItemSetEvent", "ExclusionEvent", "CustodianEvent", "AdditionalInfo"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	s, path := createTestStoreAt(t)
	_, err := s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}

func TestOpen_GUIDUniquenessIndex(t *testing.T) {
	s := createTestStore(t)

	var unique int
	err := s.db.QueryRow(`SELECT "unique" FROM pragma_index_list('GUIDRef') WHERE name = 'IDX_GUID_Unique'`).Scan(&unique)
	require.NoError(t, err)
	assert.Equal(t, 1, unique)
}

func TestTimestampIndexes_CreatedOnOpen(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, kind := range event.AllKinds {
		ok, err := s.HasTimestampIndex(ctx, kind)
		require.NoError(t, err)
		assert.True(t, ok, kind.String())
	}
}

func TestWithoutTimestampIndexes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithoutTimestampIndexes(ctx, func() error {
		for _, kind := range event.AllKinds {
			ok, err := s.HasTimestampIndex(ctx, kind)
			require.NoError(t, err)
			assert.False(t, ok, "%s index should be dropped", kind)
		}
		return s.Append(ctx, tagEvent(at(1), "x", true))
	})
	require.NoError(t, err)

	for _, kind := range event.AllKinds {
		ok, err := s.HasTimestampIndex(ctx, kind)
		require.NoError(t, err)
		assert.True(t, ok, "%s index should be rebuilt", kind)
	}

	n, err := s.Count(ctx, event.KindTag)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWithoutTimestampIndexes_RebuildsAfterError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	boom := sql.ErrConnDone
	err := s.WithoutTimestampIndexes(ctx, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	ok, err := s.HasTimestampIndex(ctx, event.KindCustodian)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_RebuildsDroppedIndexes(t *testing.T) {
	s, path := createTestStoreAt(t)
	require.NoError(t, s.dropTimestampIndexes(context.Background()))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.HasTimestampIndex(context.Background(), event.KindTag)
	require.NoError(t, err)
	assert.True(t, ok)
}
