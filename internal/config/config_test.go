package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/event"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.SnapshotFirstSync)
	assert.Equal(t, 25_000, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.LookupChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Progress())
	assert.Equal(t, event.AllKinds, cfg.Kinds.List())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_AllFormats(t *testing.T) {
	for _, name := range []string{"full.yaml", "full.toml", "full.json"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("testdata", name))
			require.NoError(t, err)

			assert.Equal(t, "/var/lib/annohist/history.db", cfg.DB)
			assert.False(t, cfg.SnapshotFirstSync)
			assert.Equal(t, 5000, cfg.BatchSize)
			assert.Equal(t, 250, cfg.LookupChunkSize)
			assert.Equal(t, 30*time.Second, cfg.Progress())
			assert.Equal(t, "debug", cfg.LogLevel)

			// Unspecified kinds keep their defaults.
			assert.True(t, cfg.Kinds.Tag)
			assert.True(t, cfg.Kinds.ItemSet)
			assert.False(t, cfg.Kinds.Custodian)
		})
	}
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_SchemaRejectsUnknownKey(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_key.yaml"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "schema", verrs[0].Field)
	assert.Contains(t, err.Error(), "batch_sise")
}

func TestLoad_SchemaRejectsWrongType(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "wrong_type.toml"))
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
}

func TestLoad_SchemaRejectsOutOfRange(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "out_of_range.json"))
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("db=x"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/env.db")
	t.Setenv(EnvBatchSize, "77")
	t.Setenv(EnvLookupChunkSize, "9")
	t.Setenv(EnvSnapshotFirstSync, "false")

	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.DB)
	assert.Equal(t, 77, cfg.BatchSize)
	assert.Equal(t, 9, cfg.LookupChunkSize)
	assert.False(t, cfg.SnapshotFirstSync)
}

func TestApplyEnvOverrides_Malformed(t *testing.T) {
	t.Setenv(EnvBatchSize, "many")
	t.Setenv(EnvSnapshotFirstSync, "perhaps")

	cfg := DefaultConfig()
	err := cfg.ApplyEnvOverrides()

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"huge chunk", func(c *Config) { c.LookupChunkSize = MaxLookupChunkSize + 1 }, "lookup_chunk_size"},
		{"bad interval", func(c *Config) { c.ProgressInterval = "soon" }, "progress_interval"},
		{"negative interval", func(c *Config) { c.ProgressInterval = "-1s" }, "progress_interval"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"no kinds", func(c *Config) { c.Kinds = Kinds{} }, "kinds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestRequireDB(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireDB())

	cfg.DB = "history.db"
	assert.NoError(t, cfg.RequireDB())
}

func TestKinds(t *testing.T) {
	k := OnlyKinds(event.KindCustodian, event.KindTag)

	assert.True(t, k.Enabled(event.KindTag))
	assert.True(t, k.Enabled(event.KindCustodian))
	assert.False(t, k.Enabled(event.KindItemSet))
	assert.False(t, k.Enabled(event.Kind(77)))
	assert.Equal(t, []event.Kind{event.KindTag, event.KindCustodian}, k.List())
}

func TestCheckFile_IgnoresEnvironment(t *testing.T) {
	t.Setenv(EnvBatchSize, "not-a-number")

	cfg, err := CheckFile(filepath.Join("testdata", "full.toml"))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.BatchSize)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.BatchSize = 1

	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
}
