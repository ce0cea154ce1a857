package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_Valid(t *testing.T) {
	stdout, _, err := runCLI(t, "validate-config", "../config/testdata/full.yaml")
	require.NoError(t, err)
	assert.Equal(t, "../config/testdata/full.yaml: valid\n", stdout)
}

func TestValidateConfig_ValidJSON(t *testing.T) {
	var result ConfigCheckResult
	runJSON(t, &result, "validate-config", "../config/testdata/full.toml")

	assert.True(t, result.Valid)
	require.NotNil(t, result.Config)
	assert.Equal(t, 5000, result.Config.BatchSize)
}

func TestValidateConfig_ValueErrors(t *testing.T) {
	stdout, _, err := runCLI(t, "validate-config", "testdata/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, stdout, "testdata/invalid.yaml: 1 error(s)")
	assert.Contains(t, stdout, "progress_interval")
}

func TestValidateConfig_SchemaErrorJSON(t *testing.T) {
	stdout, _, err := runCLI(t, "--format", "json", "validate-config", "../config/testdata/unknown_key.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(stdout), &env))
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeConfig, env.Error.Code)
}

func TestValidateConfig_MissingFile(t *testing.T) {
	_, stderr, err := runCLI(t, "validate-config", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "failed to read config")
}

func TestValidateConfig_RequiresArg(t *testing.T) {
	_, _, err := runCLI(t, "validate-config")
	require.Error(t, err)
}
