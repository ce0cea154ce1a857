package event

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueType discriminates the populated slot of a Value.
type ValueType string

const (
	ValueDateTime ValueType = "date-time"
	ValueInteger  ValueType = "integer"
	ValueLong     ValueType = "long"
	ValueFloat    ValueType = "float"
	ValueText     ValueType = "text"
	ValueBoolean  ValueType = "boolean"
	ValueBinary   ValueType = "binary"
)

// Slot names the storage column family a value type uses.
type Slot int

const (
	SlotText Slot = iota
	SlotTime
	SlotInteger
	SlotFloat
	SlotBinary
)

// Slot returns the slot populated for t. Unknown types are stored as text.
func (t ValueType) Slot() Slot {
	switch t {
	case ValueDateTime:
		return SlotTime
	case ValueInteger, ValueLong:
		return SlotInteger
	case ValueFloat:
		return SlotFloat
	case ValueBinary:
		return SlotBinary
	default:
		return SlotText
	}
}

// Value is a custom metadata value. Exactly the slot matching Type is
// populated; the others hold their zero value.
type Value struct {
	Type ValueType

	// Time holds a date-time instant at millisecond resolution.
	Time time.Time
	// Zone is the IANA zone id recorded with Time. It is kept even when
	// the zone database cannot resolve it.
	Zone string

	Int    int64
	Float  float64
	Text   string
	Binary []byte
}

// DateTimeValue returns a date-time value truncated to milliseconds. The
// zone is the location name of t, or its numeric offset such as "+05:45"
// when the location is unnamed.
func DateTimeValue(t time.Time) Value {
	return Value{Type: ValueDateTime, Time: t.Truncate(time.Millisecond), Zone: zoneOf(t)}
}

// IntegerValue returns an integer value.
func IntegerValue(n int64) Value { return Value{Type: ValueInteger, Int: n} }

// LongValue returns a 64-bit integer value.
func LongValue(n int64) Value { return Value{Type: ValueLong, Int: n} }

// FloatValue returns a floating point value.
func FloatValue(f float64) Value { return Value{Type: ValueFloat, Float: f} }

// TextValue returns a text value.
func TextValue(s string) Value { return Value{Type: ValueText, Text: s} }

// BooleanValue returns a boolean value, stored as "true" or "false".
func BooleanValue(b bool) Value { return Value{Type: ValueBoolean, Text: strconv.FormatBool(b)} }

// BinaryValue returns a binary value holding a copy of b.
func BinaryValue(b []byte) Value {
	return Value{Type: ValueBinary, Binary: append([]byte(nil), b...)}
}

func zoneOf(t time.Time) string {
	if name := t.Location().String(); name != "" {
		return name
	}
	return t.Format("-07:00")
}

// TypedText builds a text-slot value for a type this package does not know.
func TypedText(t ValueType, s string) Value { return Value{Type: t, Text: s} }

// DateTimeFromMillis rebuilds a date-time value from its stored columns.
func DateTimeFromMillis(ms int64, zone string) Value {
	t := time.UnixMilli(ms).UTC()
	if loc := locationOf(zone); loc != nil {
		t = t.In(loc)
	}
	return Value{Type: ValueDateTime, Time: t, Zone: zone}
}

// locationOf resolves a zone recorded by DateTimeValue. Numeric offsets
// become fixed zones named after the offset. It returns nil for an empty
// or unknown zone.
func locationOf(zone string) *time.Location {
	if zone == "" {
		return nil
	}
	if zone[0] == '+' || zone[0] == '-' {
		ref, err := time.Parse("-07:00", zone)
		if err != nil {
			return nil
		}
		_, offset := ref.Zone()
		return time.FixedZone(zone, offset)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil
	}
	return loc
}

// Any returns the populated slot as a plain Go value.
func (v Value) Any() any {
	switch v.Type {
	case ValueDateTime:
		return v.Time
	case ValueInteger, ValueLong:
		return v.Int
	case ValueFloat:
		return v.Float
	case ValueBoolean:
		return v.Text == "true"
	case ValueBinary:
		return v.Binary
	default:
		return v.Text
	}
}

// Equal compares type and populated slot.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type.Slot() {
	case SlotTime:
		return v.Time.Equal(o.Time) && v.Zone == o.Zone
	case SlotInteger:
		return v.Int == o.Int
	case SlotFloat:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case SlotBinary:
		return string(v.Binary) == string(o.Binary)
	default:
		return v.Text == o.Text
	}
}

func (v Value) String() string {
	switch v.Type.Slot() {
	case SlotTime:
		return v.Time.Format(time.RFC3339Nano) + " " + v.Zone
	case SlotInteger:
		return strconv.FormatInt(v.Int, 10)
	case SlotFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case SlotBinary:
		return base64.StdEncoding.EncodeToString(v.Binary)
	default:
		return v.Text
	}
}

// ParseValue converts a raw history value of the given type into a Value.
// Raw values arrive as whatever the collection decoded: strings, numbers,
// booleans, times or byte slices.
func ParseValue(valueType string, raw any) (Value, error) {
	t := ValueType(strings.ToLower(strings.TrimSpace(valueType)))
	switch t {
	case ValueDateTime:
		switch val := raw.(type) {
		case time.Time:
			return DateTimeValue(val), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return Value{}, fmt.Errorf("date-time value %q: %w", val, err)
			}
			return DateTimeValue(ts), nil
		default:
			n, err := toInt64(raw)
			if err != nil {
				return Value{}, fmt.Errorf("date-time value: %w", err)
			}
			return DateTimeFromMillis(n, "UTC"), nil
		}
	case ValueInteger, ValueLong:
		n, err := toInt64(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%s value: %w", t, err)
		}
		return Value{Type: t, Int: n}, nil
	case ValueFloat:
		f, err := toFloat64(raw)
		if err != nil {
			return Value{}, fmt.Errorf("float value: %w", err)
		}
		return FloatValue(f), nil
	case ValueBoolean:
		switch val := raw.(type) {
		case bool:
			return BooleanValue(val), nil
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return Value{}, fmt.Errorf("boolean value %q: %w", val, err)
			}
			return BooleanValue(b), nil
		default:
			return Value{}, fmt.Errorf("boolean value: unsupported %T", raw)
		}
	case ValueBinary:
		switch val := raw.(type) {
		case []byte:
			return BinaryValue(val), nil
		case string:
			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return Value{}, fmt.Errorf("binary value: %w", err)
			}
			return BinaryValue(b), nil
		default:
			return Value{}, fmt.Errorf("binary value: unsupported %T", raw)
		}
	case "":
		return Value{}, fmt.Errorf("missing value type")
	default:
		return TypedText(t, fmt.Sprint(raw)), nil
	}
}

func toInt64(raw any) (int64, error) {
	switch val := raw.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", val)
		}
		return int64(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("%v is not integral", val)
		}
		return int64(val), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported %T", raw)
	}
}

func toFloat64(raw any) (float64, error) {
	switch val := raw.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		return 0, fmt.Errorf("unsupported %T", raw)
	}
}
