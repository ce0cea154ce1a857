package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the width of an identity in bytes.
const Size = 16

// Identity is the stable, collection-wide identifier of an item.
// The canonical text form is 32 lowercase hex digits without separators.
type Identity uuid.UUID

// Nil is the zero identity. It never identifies a real item.
var Nil Identity

// Parse parses an identity from text. Parsing is case-insensitive and
// accepts both the bare 32 digit form and the dashed 8-4-4-4-12 form.
func Parse(s string) (Identity, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse identity %q: %w", s, err)
	}
	return Identity(u), nil
}

// MustParse is like Parse but panics on malformed input.
// Intended for tests and static fixtures.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes builds an identity from its 16 raw bytes.
func FromBytes(b []byte) (Identity, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, fmt.Errorf("identity from %d bytes: %w", len(b), err)
	}
	return Identity(u), nil
}

// New returns a random identity.
func New() Identity {
	return Identity(uuid.New())
}

// FromName derives a stable identity from a name (UUID version 5 in the
// OID namespace). Fixtures use it to name items without spelling out hex.
func FromName(name string) Identity {
	return Identity(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

// String returns the canonical form: 32 lowercase hex digits.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the raw 16 bytes, the form stored in GUIDRef.
func (id Identity) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsNil reports whether id is the zero identity.
func (id Identity) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
