package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/event"
)

// DefaultClock is the pass time used when a scenario sets no clock.
var DefaultClock = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scenario defines one end-to-end record and replay run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Clock is the instant every pass runs at. Snapshot events and the
	// sync point are stamped with it.
	Clock time.Time `yaml:"clock,omitempty"`

	// Passes is the number of sync passes run before the replay.
	// Defaults to 1.
	Passes int `yaml:"passes,omitempty"`

	// Merged replays all kinds interleaved by timestamp instead of one
	// kind after another.
	Merged bool `yaml:"merged,omitempty"`

	// Config overrides the default settings.
	Config *ConfigOverrides `yaml:"config,omitempty"`

	// Source is the collection history is recorded from.
	Source memory.Dump `yaml:"source"`

	// Target is the collection events are replayed into.
	Target memory.Dump `yaml:"target"`

	// Assertions validate the store and the replay trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ConfigOverrides are the settings a scenario may change.
type ConfigOverrides struct {
	SnapshotFirstSync *bool    `yaml:"snapshot_first_sync,omitempty"`
	BatchSize         int      `yaml:"batch_size,omitempty"`
	LookupChunkSize   int      `yaml:"lookup_chunk_size,omitempty"`
	Kinds             []string `yaml:"kinds,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the short event kind counted by event_count. Empty counts
	// every kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number (event_count, call_count).
	Count int `yaml:"count,omitempty"`

	// Call is a rendered call prefix such as `AddTag("Hot")` (call_contains).
	Call string `yaml:"call,omitempty"`

	// Op is a mutation primitive name such as AddTag (call_count).
	Op string `yaml:"op,omitempty"`

	// Calls are call prefixes in expected order (call_order).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount      = "event_count"
	AssertCallContains    = "call_contains"
	AssertCallCount       = "call_count"
	AssertCallOrder       = "call_order"
	AssertWatermarkStable = "watermark_stable"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// passes returns the number of sync passes to run.
func (s *Scenario) passes() int {
	if s.Passes == 0 {
		return 1
	}
	return s.Passes
}

// clock returns the pass time.
func (s *Scenario) clock() time.Time {
	if s.Clock.IsZero() {
		return DefaultClock
	}
	return s.Clock.UTC()
}

// settings applies the overrides to the default config.
func (s *Scenario) settings() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o := s.Config; o != nil {
		if o.SnapshotFirstSync != nil {
			cfg.SnapshotFirstSync = *o.SnapshotFirstSync
		}
		if o.BatchSize != 0 {
			cfg.BatchSize = o.BatchSize
		}
		if o.LookupChunkSize != 0 {
			cfg.LookupChunkSize = o.LookupChunkSize
		}
		if len(o.Kinds) > 0 {
			kinds, err := event.ParseKinds(o.Kinds)
			if err != nil {
				return nil, fmt.Errorf("config.kinds: %w", err)
			}
			cfg.Kinds = config.OnlyKinds(kinds...)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Passes < 0 {
		return fmt.Errorf("passes must be non-negative, got %d", s.Passes)
	}

	if len(s.Source.Items) == 0 {
		return fmt.Errorf("source.items is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := s.settings(); err != nil {
		return err
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s.passes()); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, passes int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if a.Kind != "" {
			if _, err := event.ParseKind(a.Kind); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertCallContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for call_contains", index)
		}
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Calls) < 2 {
			return fmt.Errorf("assertions[%d]: at least two calls are required for call_order", index)
		}
	case AssertWatermarkStable:
		if passes < 2 {
			return fmt.Errorf("assertions[%d]: watermark_stable needs at least two passes", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
