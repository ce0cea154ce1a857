package bitmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		indices []uint64
	}{
		{"single", []uint64{1}},
		{"dense run", seq(1, 5000)},
		{"sparse", []uint64{3, 70000, 1 << 20, 9_999_999}},
		{"unsorted with duplicates", []uint64{9, 2, 9, 5, 2, 1}},
		{"beyond 32 bits", []uint64{1 << 33, 1<<33 + 1, 1 << 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.indices)
			require.NoError(t, err)

			got, err := Decode(payload)
			require.NoError(t, err)
			assert.ElementsMatch(t, unique(tt.indices), got)

			n, err := Cardinality(payload)
			require.NoError(t, err)
			assert.Equal(t, len(unique(tt.indices)), n)
		})
	}
}

func TestEncodeDecode_RandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		size := rng.Intn(2000)
		set := make([]uint64, size)
		for j := range set {
			set[j] = uint64(rng.Int63n(10_000_000)) + 1
		}

		payload, err := Encode(set)
		require.NoError(t, err)
		got, err := Decode(payload)
		require.NoError(t, err)
		assert.ElementsMatch(t, unique(set), got)
	}
}

func TestEncode_EmptySet(t *testing.T) {
	payload, err := Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	got, err := Decode(payload)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := Cardinality(payload)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEncode_SizeTracksCardinalityNotMaxIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	set := make([]uint64, 50)
	for i := range set {
		set[i] = uint64(rng.Int63n(10_000_000)) + 1
	}

	payload, err := Encode(set)
	require.NoError(t, err)

	// A plain bitset over ten million indices would need 1.25MB.
	assert.Less(t, len(payload), 64*1024)
}

func TestDecode_IsDeterministic(t *testing.T) {
	payload, err := Encode([]uint64{5, 1, 3})
	require.NoError(t, err)

	first, err := Decode(payload)
	require.NoError(t, err)
	second, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDecode_RejectsOddLength(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptBitmap)

	_, err = Cardinality([]byte{1})
	assert.ErrorIs(t, err, ErrCorruptBitmap)
}

func seq(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func unique(in []uint64) []uint64 {
	seen := make(map[uint64]bool, len(in))
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
