package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/identity"
)

// recorded returns a store holding the full source history.
func recorded(t *testing.T) string {
	t.Helper()
	db := tempDB(t)
	_, stderr, err := runCLI(t, "sync", "--db", db, "--source", "testdata/source.yaml", "--no-snapshot")
	require.NoError(t, err, "stderr: %s", stderr)
	return db
}

func TestReplay_PerKindOrder(t *testing.T) {
	db := recorded(t)

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", "testdata/target.yaml")

	assert.Equal(t, "replay", result.Mode)
	assert.False(t, result.Merged)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, map[string]int{"tag": 2, "custodian": 1}, result.Replayed)
	assert.Equal(t, []string{
		`AddTag("Hot") [` + memo + " " + budget + `]`,
		`AddTag("Privileged") [` + memo + `]`,
		`AssignCustodian("Ada") [` + memo + `]`,
	}, result.Calls)
	assert.Empty(t, result.Written)
}

func TestReplay_Merged(t *testing.T) {
	db := recorded(t)

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", "testdata/target.yaml", "--merged")

	assert.True(t, result.Merged)
	assert.Len(t, result.Calls, 3)
	assert.Equal(t, `AssignCustodian("Ada") [`+memo+`]`, result.Calls[2])
}

func TestReplay_After(t *testing.T) {
	db := recorded(t)

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", "testdata/target.yaml",
		"--after", "2024-03-01T10:00:02Z")

	assert.Equal(t, "2024-03-01T10:00:02Z", result.After)
	assert.Equal(t, []string{
		`AddTag("Privileged") [` + memo + `]`,
		`AssignCustodian("Ada") [` + memo + `]`,
	}, result.Calls)
}

func TestReplay_Kinds(t *testing.T) {
	db := recorded(t)

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", "testdata/target.yaml", "--kinds", "custodian")

	assert.Equal(t, []string{`AssignCustodian("Ada") [` + memo + `]`}, result.Calls)
}

func TestReplay_DryRun(t *testing.T) {
	db := recorded(t)

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", "testdata/target.yaml", "--dry-run")

	assert.Equal(t, "dry-run", result.Mode)
	assert.Equal(t, 3, result.Processed)
	assert.Empty(t, result.Calls)
}

func TestReplay_WriteSavesTarget(t *testing.T) {
	db := recorded(t)
	target := copyFixture(t, t.TempDir(), "target.yaml")

	var result ReplayResult
	runJSON(t, &result, "replay", "--db", db, "--target", target, "--write")
	assert.Equal(t, target, result.Written)

	saved, err := memory.Load(target)
	require.NoError(t, err)
	id, err := identity.Parse(memo)
	require.NoError(t, err)
	item, ok := saved.Item(id)
	require.True(t, ok)
	assert.True(t, item.Tags["Hot"])
	assert.True(t, item.Tags["Privileged"])
	assert.Equal(t, "Ada", item.Custodian)
}

func TestReplay_WriteAndDryRunExclusive(t *testing.T) {
	_, _, err := runCLI(t, "replay", "--db", tempDB(t), "--target", "testdata/target.yaml", "--write", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestReplay_InvalidAfter(t *testing.T) {
	_, stderr, err := runCLI(t, "replay", "--db", tempDB(t), "--target", "testdata/target.yaml", "--after", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "invalid --after")
}

func TestReplay_EmptyStore(t *testing.T) {
	stdout, _, err := runCLI(t, "replay", "--db", tempDB(t), "--target", "testdata/target.yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Replay (replay): processed 0, replayed 0")
}
