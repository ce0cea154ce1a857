package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
	"github.com/roach88/annohist/internal/testutil"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// at returns base offset by sec seconds.
func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

type fixture struct {
	path     string
	store    *store.Store
	registry *identity.Registry
	clock    *testutil.FixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		path:  filepath.Join(t.TempDir(), "history.db"),
		clock: testutil.NewFixedClock(at(3600)),
	}
	f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	s, err := store.Open(f.path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg, err := identity.Open(context.Background(), s)
	require.NoError(t, err)

	f.store = s
	f.registry = reg
}

// reopen closes the store and opens it again from disk.
func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Close())
	f.open(t)
}

func (f *fixture) syncer(src *memory.Collection, cfg *config.Config, opts ...Option) *Syncer {
	opts = append([]Option{WithLogger(discardLogger()), WithClock(f.clock)}, opts...)
	return NewSyncer(f.store, f.registry, src, cfg, opts...)
}

func (f *fixture) replayer(tgt *memory.Collection, cfg *config.Config, opts ...Option) *Replayer {
	opts = append([]Option{WithLogger(discardLogger()), WithClock(f.clock)}, opts...)
	return NewReplayer(f.store, f.registry, tgt, cfg, opts...)
}

func (f *fixture) sync(t *testing.T, src *memory.Collection, cfg *config.Config) *Report {
	t.Helper()
	rep, err := f.syncer(src, cfg).Sync(context.Background())
	require.NoError(t, err)
	return rep
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func noSnapshot() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SnapshotFirstSync = false
	return cfg
}

// matter holds a source collection and a target with the same items but no
// annotations.
type matter struct {
	source  *memory.Collection
	target  *memory.Collection
	items   []*memory.Item
	targets []*memory.Item
}

func newMatter(names ...string) *matter {
	m := &matter{
		source: memory.New("source", "mem://source"),
		target: memory.New("target", "mem://target"),
	}
	for _, name := range names {
		id := identity.FromName(name)
		m.items = append(m.items, m.source.AddItem(id, name))
		m.targets = append(m.targets, m.target.AddItem(id, name))
	}
	return m
}

// id returns the identity string of item i, as rendered in call traces.
func (m *matter) id(i int) string {
	return m.items[i].ID.String()
}
