// Package config holds the settings for sync and replay passes.
//
// Settings come from, in increasing precedence: built-in defaults, a config
// file (YAML, TOML or JSON, chosen by extension), ANNOHIST_* environment
// variables, then command line flags applied by the caller.
package config

import (
	"time"

	"github.com/roach88/annohist/internal/event"
)

const (
	DefaultBatchSize        = 25_000
	DefaultLookupChunkSize  = 1000
	DefaultProgressInterval = 10 * time.Second
	MaxLookupChunkSize      = 100_000
)

// Config is the full configuration.
type Config struct {
	// DB is the path of the history store file.
	DB string `yaml:"db" toml:"db" json:"db"`

	// SnapshotFirstSync records current tag membership on the first sync
	// of an empty store instead of pulling history.
	SnapshotFirstSync bool `yaml:"snapshot_first_sync" toml:"snapshot_first_sync" json:"snapshot_first_sync"`

	// BatchSize is the number of rows per transaction in bulk passes.
	BatchSize int `yaml:"batch_size" toml:"batch_size" json:"batch_size"`

	// LookupChunkSize bounds the identities per SearchByIdentity call.
	LookupChunkSize int `yaml:"lookup_chunk_size" toml:"lookup_chunk_size" json:"lookup_chunk_size"`

	// ProgressInterval is how often long passes log progress, e.g. "10s".
	ProgressInterval string `yaml:"progress_interval" toml:"progress_interval" json:"progress_interval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	Kinds Kinds `yaml:"kinds" toml:"kinds" json:"kinds"`
}

// Kinds toggles recording and replay per event kind.
type Kinds struct {
	Tag            bool `yaml:"tag" toml:"tag" json:"tag"`
	CustomMetadata bool `yaml:"custom_metadata" toml:"custom_metadata" json:"custom_metadata"`
	ItemSet        bool `yaml:"item_set" toml:"item_set" json:"item_set"`
	Exclusion      bool `yaml:"exclusion" toml:"exclusion" json:"exclusion"`
	Custodian      bool `yaml:"custodian" toml:"custodian" json:"custodian"`
}

// AllKinds enables every kind.
func AllKinds() Kinds {
	return Kinds{Tag: true, CustomMetadata: true, ItemSet: true, Exclusion: true, Custodian: true}
}

// OnlyKinds enables exactly the listed kinds.
func OnlyKinds(kinds ...event.Kind) Kinds {
	var k Kinds
	for _, kind := range kinds {
		k.set(kind, true)
	}
	return k
}

// Enabled reports whether kind is switched on.
func (k Kinds) Enabled(kind event.Kind) bool {
	switch kind {
	case event.KindTag:
		return k.Tag
	case event.KindCustomMetadata:
		return k.CustomMetadata
	case event.KindItemSet:
		return k.ItemSet
	case event.KindExclusion:
		return k.Exclusion
	case event.KindCustodian:
		return k.Custodian
	default:
		return false
	}
}

// List returns the enabled kinds in precedence order.
func (k Kinds) List() []event.Kind {
	var kinds []event.Kind
	for _, kind := range event.AllKinds {
		if k.Enabled(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (k *Kinds) set(kind event.Kind, on bool) {
	switch kind {
	case event.KindTag:
		k.Tag = on
	case event.KindCustomMetadata:
		k.CustomMetadata = on
	case event.KindItemSet:
		k.ItemSet = on
	case event.KindExclusion:
		k.Exclusion = on
	case event.KindCustodian:
		k.Custodian = on
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		SnapshotFirstSync: true,
		BatchSize:         DefaultBatchSize,
		LookupChunkSize:   DefaultLookupChunkSize,
		ProgressInterval:  DefaultProgressInterval.String(),
		LogLevel:          "info",
		Kinds:             AllKinds(),
	}
}

// Progress returns ProgressInterval as a duration, falling back to the
// default when it is empty or invalid.
func (c *Config) Progress() time.Duration {
	d, err := time.ParseDuration(c.ProgressInterval)
	if err != nil || d <= 0 {
		return DefaultProgressInterval
	}
	return d
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
