package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables read by ApplyEnvOverrides.
const (
	EnvDB                = "ANNOHIST_DB"
	EnvBatchSize         = "ANNOHIST_BATCH_SIZE"
	EnvLookupChunkSize   = "ANNOHIST_LOOKUP_CHUNK_SIZE"
	EnvSnapshotFirstSync = "ANNOHIST_SNAPSHOT_FIRST_SYNC"
)

// Load reads a config file, applies environment overrides and validates
// the result. An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// CheckFile validates a config file against the schema and the value rules
// without applying environment overrides.
func CheckFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// decode checks data against the schema and decodes it over cfg.
func decode(path string, data []byte, cfg *Config) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}

	raw, err := decodeGeneric(format, data)
	if err != nil {
		return err
	}
	if err := checkSchema(raw); err != nil {
		return err
	}

	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	}
	return nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml", nil
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported config format %q (use .yaml, .toml or .json)", filepath.Ext(path))
	}
}

func decodeGeneric(format string, data []byte) (map[string]any, error) {
	raw := make(map[string]any)
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	}
	return raw, nil
}

// checkSchema unifies raw with the closed #Config definition.
func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := ctx.Encode(normalizeNumbers(raw))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return ValidationErrors{{Field: "schema", Message: err.Error()}}
	}
	return nil
}

// normalizeNumbers turns JSON float64 integers into int64 so the schema's
// int constraints accept them.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeNumbers(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeNumbers(elem)
		}
		return out
	default:
		return v
	}
}

// ApplyEnvOverrides applies ANNOHIST_* environment variables. Malformed
// values are reported as ValidationErrors.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	if v := os.Getenv(EnvDB); v != "" {
		c.DB = v
	}
	if v := os.Getenv(EnvBatchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: EnvBatchSize, Message: err.Error()})
		} else {
			c.BatchSize = n
		}
	}
	if v := os.Getenv(EnvLookupChunkSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: EnvLookupChunkSize, Message: err.Error()})
		} else {
			c.LookupChunkSize = n
		}
	}
	if v := os.Getenv(EnvSnapshotFirstSync); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: EnvSnapshotFirstSync, Message: err.Error()})
		} else {
			c.SnapshotFirstSync = b
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
