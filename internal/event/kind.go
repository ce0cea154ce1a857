package event

import (
	"fmt"
	"strings"
)

// Kind identifies the category of a recorded mutation.
type Kind int

const (
	KindTag Kind = iota
	KindCustomMetadata
	KindItemSet
	KindExclusion
	KindCustodian
)

// AllKinds lists every kind in classification precedence order.
var AllKinds = []Kind{KindTag, KindCustomMetadata, KindItemSet, KindExclusion, KindCustodian}

// String returns the kind name, which is also its table name.
func (k Kind) String() string {
	switch k {
	case KindTag:
		return "TagEvent"
	case KindCustomMetadata:
		return "CustomMetadataEvent"
	case KindItemSet:
		return "ItemSetEvent"
	case KindExclusion:
		return "ExclusionEvent"
	case KindCustodian:
		return "CustodianEvent"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Short returns the lowercase name used on the command line and in config.
func (k Kind) Short() string {
	switch k {
	case KindTag:
		return "tag"
	case KindCustomMetadata:
		return "custom-metadata"
	case KindItemSet:
		return "item-set"
	case KindExclusion:
		return "exclusion"
	case KindCustodian:
		return "custodian"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	return k >= KindTag && k <= KindCustodian
}

// ParseKind accepts either the short name or the table name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if strings.EqualFold(s, k.Short()) || strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// ParseKinds parses a list of kind names. An empty list means all kinds.
func ParseKinds(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return append([]Kind(nil), AllKinds...), nil
	}
	seen := make(map[Kind]bool)
	var kinds []Kind
	for _, name := range names {
		k, err := ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}
