package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AcceptsBareAndDashedForms(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bare lowercase", "0f8fad5bd9cb469fa16570867728950e"},
		{"bare uppercase", "0F8FAD5BD9CB469FA16570867728950E"},
		{"dashed", "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"dashed mixed case", "0F8FAD5B-d9cb-469F-a165-70867728950E"},
	}

	want := "0f8fad5bd9cb469fa16570867728950e"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, want, id.String())
		})
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "xyz", "0f8fad5bd9cb469fa16570867728950", strings.Repeat("g", 32)} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestIdentity_BytesRoundTrip(t *testing.T) {
	id := New()
	b := id.Bytes()
	require.Len(t, b, Size)

	back, err := FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	// Bytes returns a copy
	b[0] ^= 0xff
	assert.NotEqual(t, b[0], id[0])
}

func TestFromBytes_WrongLength(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIdentity_TextMarshaling(t *testing.T) {
	id := MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	text, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0f8fad5bd9cb469fa16570867728950e", string(text))

	var back Identity
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestIdentity_IsNil(t *testing.T) {
	assert.True(t, Nil.IsNil())
	assert.False(t, New().IsNil())
}

func TestFromNameStable(t *testing.T) {
	a := FromName("doc-1")
	assert.Equal(t, a, FromName("doc-1"))
	assert.NotEqual(t, a, FromName("doc-2"))
	assert.False(t, a.IsNil())
}
