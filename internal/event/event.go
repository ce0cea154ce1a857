package event

import (
	"fmt"
	"time"
)

// Event is one recorded annotation mutation. The set of implementations is
// closed: TagEvent, CustomMetadataEvent, ItemSetEvent, ExclusionEvent and
// CustodianEvent.
type Event interface {
	Kind() Kind
	Meta() Envelope
	String() string

	isEvent()
}

// Envelope is the part shared by every event kind.
type Envelope struct {
	// Timestamp is the time the mutation happened in the source, at
	// millisecond resolution.
	Timestamp time.Time
	// Bitmap is the serialized set of affected registry indices.
	Bitmap []byte
	// ItemCount is the cardinality recorded alongside Bitmap.
	ItemCount int
}

// Meta returns the envelope itself.
func (e Envelope) Meta() Envelope { return e }

// Millis returns the timestamp as Unix milliseconds, the stored form.
func (e Envelope) Millis() int64 { return e.Timestamp.UnixMilli() }

// FromMillis converts a stored timestamp back to UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type TagEvent struct {
	Envelope
	TagName string
	Added   bool
}

func (*TagEvent) Kind() Kind { return KindTag }
func (*TagEvent) isEvent()   {}

func (e *TagEvent) String() string {
	verb := "Removed"
	if e.Added {
		verb = "Added"
	}
	return fmt.Sprintf("%s Tag %q on %d items", verb, e.TagName, e.ItemCount)
}

type CustomMetadataEvent struct {
	Envelope
	FieldName string
	// Added is false when the field was removed; Value is then zero.
	Added bool
	Value Value
}

func (*CustomMetadataEvent) Kind() Kind { return KindCustomMetadata }
func (*CustomMetadataEvent) isEvent()   {}

func (e *CustomMetadataEvent) String() string {
	if !e.Added {
		return fmt.Sprintf("Removed Custom Metadata %q from %d items", e.FieldName, e.ItemCount)
	}
	return fmt.Sprintf("Set Custom Metadata %q (%s) to %q on %d items", e.FieldName, e.Value.Type, e.Value.String(), e.ItemCount)
}

type ItemSetEvent struct {
	Envelope
	ItemSetName string
	BatchName   string
	Description string
	// SettingsJSON is the canonical JSON text of the item set's settings.
	SettingsJSON string
	Added        bool
}

func (*ItemSetEvent) Kind() Kind { return KindItemSet }
func (*ItemSetEvent) isEvent()   {}

// Settings decodes SettingsJSON.
func (e *ItemSetEvent) Settings() (map[string]any, error) {
	return ParseSettings(e.SettingsJSON)
}

func (e *ItemSetEvent) String() string {
	if e.Added {
		return fmt.Sprintf("Added %d items to Item Set %q, Batch %q", e.ItemCount, e.ItemSetName, e.BatchName)
	}
	return fmt.Sprintf("Removed %d items from Item Set %q", e.ItemCount, e.ItemSetName)
}

type ExclusionEvent struct {
	Envelope
	ExclusionName string
	Excluded      bool
}

func (*ExclusionEvent) Kind() Kind { return KindExclusion }
func (*ExclusionEvent) isEvent()   {}

func (e *ExclusionEvent) String() string {
	if e.Excluded {
		return fmt.Sprintf("Excluded %d items with exclusion %q", e.ItemCount, e.ExclusionName)
	}
	return fmt.Sprintf("Included %d items", e.ItemCount)
}

type CustodianEvent struct {
	Envelope
	Custodian string
	Assigned  bool
}

func (*CustodianEvent) Kind() Kind { return KindCustodian }
func (*CustodianEvent) isEvent()   {}

func (e *CustodianEvent) String() string {
	if e.Assigned {
		return fmt.Sprintf("Assigned Custodian %q to %d items", e.Custodian, e.ItemCount)
	}
	return fmt.Sprintf("Unassigned Custodian from %d items", e.ItemCount)
}

// Compile-time interface checks.
var (
	_ Event = (*TagEvent)(nil)
	_ Event = (*CustomMetadataEvent)(nil)
	_ Event = (*ItemSetEvent)(nil)
	_ Event = (*ExclusionEvent)(nil)
	_ Event = (*CustodianEvent)(nil)
)
