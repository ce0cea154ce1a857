package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRun_TagRoundtrip(t *testing.T) {
	result, err := Run(load(t, "tag_roundtrip"))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Passes, 2)
	assert.Equal(t, "incremental", result.Passes[0].Mode)
	assert.Equal(t, 3, result.Passes[0].Processed)
	assert.Equal(t, map[string]int{"tag": 3}, result.Passes[0].Recorded)
	assert.Equal(t, "2024-03-01T10:00:04Z", result.Passes[0].Watermark)
	assert.Zero(t, result.Passes[1].Processed)
	assert.Equal(t, result.Passes[0].Watermark, result.Passes[1].Watermark)

	assert.Equal(t, 3, result.Replay.Processed)
	assert.Equal(t, map[string]int{"tag": 3}, result.Replay.Replayed)
	assert.Zero(t, result.Replay.NotFound)
}

func TestRun_SnapshotThenIncremental(t *testing.T) {
	result, err := Run(load(t, "snapshot_then_incremental"))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Passes, 2)
	assert.Equal(t, "snapshot", result.Passes[0].Mode)
	assert.Equal(t, map[string]int{"tag": 2, "custodian": 2}, result.Passes[0].Recorded)
	assert.Equal(t, "2024-03-01T12:30:00Z", result.Passes[0].Watermark)
	assert.Equal(t, "incremental", result.Passes[1].Mode)
	assert.Zero(t, result.Passes[1].Processed)
	assert.Empty(t, result.Passes[1].Recorded)
	assert.Equal(t, "2024-03-01T12:30:00Z", result.Passes[1].Watermark)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	s := load(t, "kind_toggle")
	s.Assertions = append(s.Assertions,
		Assertion{Type: AssertEventCount, Kind: "exclusion", Count: 1},
		Assertion{Type: AssertCallContains, Call: `Exclude("junk")`},
	)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "event_count")
	assert.Contains(t, result.Errors[1], "call_contains")
}

func TestRun_TargetMissingItems(t *testing.T) {
	s := load(t, "tag_roundtrip")
	s.Target.Items = s.Target.Items[:1]

	result, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Replay.NotFound)
	assert.Equal(t, []string{
		`AddTag("Hot") [00000000000000000000000000000001]`,
		`AddTag("Privileged") [00000000000000000000000000000001]`,
		`RemoveTag("Hot") [00000000000000000000000000000001]`,
	}, result.Trace)
}

func TestRun_BadSourceDump(t *testing.T) {
	s := load(t, "tag_roundtrip")
	s.Source.History[0].Items = []string{"no-such-item"}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build source")
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(load(t, "all_kinds_merged"))
	require.NoError(t, err)
	second, err := Run(load(t, "all_kinds_merged"))
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Events, second.Events)
}
