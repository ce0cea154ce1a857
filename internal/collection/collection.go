// Package collection defines the boundary between the history engines and
// the host item collection they read from and write to.
//
// A Source is the live collection whose annotation history is recorded. A
// Target is the collection recorded history is replayed into. Both are
// owned by the caller; the engines never open, lock or close them.
package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
)

// HistoryTypeAnnotation is the history event type the Syncer pulls.
const HistoryTypeAnnotation = "annotation"

// Detail keys carried by annotation history events.
const (
	DetailTag                  = "tag"
	DetailAdded                = "added"
	DetailFieldName            = "fieldName"
	DetailType                 = "type"
	DetailValue                = "value"
	DetailItemSet              = "item-set"
	DetailItemsAssignedCount   = "items-assigned-count"
	DetailItemsUnassignedCount = "items-unassigned-count"
	DetailBatch                = "batch"
	DetailExcluded             = "excluded"
	DetailExclusion            = "exclusion"
	DetailAssigned             = "assigned"
	DetailCustodian            = "custodian"
)

// ErrNotFound is returned for unknown item sets and items.
var ErrNotFound = errors.New("not found")

// Item is a handle to one item in a collection.
type Item interface {
	Identity() identity.Identity
}

// HistoryEvent is one raw entry of a collection's history log.
type HistoryEvent struct {
	Type     string
	Start    time.Time
	Details  map[string]any
	Affected []Item
}

// Has reports whether key is present in the event details with a non-nil
// value. A key explicitly set to nil counts as absent.
func (h HistoryEvent) Has(key string) bool {
	return h.Details[key] != nil
}

// Text returns the detail value for key as text, or "" when absent.
func (h HistoryEvent) Text(key string) string {
	v, ok := h.Details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the detail value for key as a boolean. Absent keys and
// unparseable values are false.
func (h HistoryEvent) Bool(key string) bool {
	switch v := h.Details[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// HistoryFilter selects history events.
type HistoryFilter struct {
	// Type selects one event type. Empty selects all.
	Type string
	// StartAfter selects events that started strictly after this instant.
	// The zero time selects all.
	StartAfter time.Time
}

// Match reports whether h passes the filter.
func (f HistoryFilter) Match(h HistoryEvent) bool {
	if f.Type != "" && f.Type != h.Type {
		return false
	}
	if !f.StartAfter.IsZero() && !h.Start.After(f.StartAfter) {
		return false
	}
	return true
}

// ItemSetInfo is the configuration an item set was created with.
type ItemSetInfo struct {
	Settings    map[string]any
	Description string
}

// Info describes a collection.
type Info struct {
	Name     string
	Location string
}

// HistoryReader iterates a collection's history log.
type HistoryReader interface {
	// EachHistoryEvent calls fn for every history event matching filter in
	// ascending start order.
	EachHistoryEvent(ctx context.Context, filter HistoryFilter, fn func(HistoryEvent) error) error
}

// Source is a collection whose annotation history can be recorded.
type Source interface {
	HistoryReader
	Info() Info
	Search(ctx context.Context, query string) ([]Item, error)
	SearchByIdentity(ctx context.Context, ids []identity.Identity) ([]Item, error)
	DistinctTagNames(ctx context.Context) ([]string, error)
	ItemSetInfo(ctx context.Context, name string) (ItemSetInfo, error)
}

// Target is a collection recorded history can be replayed into.
type Target interface {
	SearchByIdentity(ctx context.Context, ids []identity.Identity) ([]Item, error)

	AddTag(ctx context.Context, tag string, items []Item) error
	RemoveTag(ctx context.Context, tag string, items []Item) error

	SetCustomMetadata(ctx context.Context, field string, value event.Value, items []Item) error
	RemoveCustomMetadata(ctx context.Context, field string, items []Item) error

	CreateItemSetIfAbsent(ctx context.Context, name string, info ItemSetInfo) error
	AddToItemSet(ctx context.Context, name, batch string, items []Item) error
	RemoveFromItemSet(ctx context.Context, name string, items []Item) error

	Exclude(ctx context.Context, reason string, items []Item) error
	Include(ctx context.Context, items []Item) error

	AssignCustodian(ctx context.Context, custodian string, items []Item) error
	UnassignCustodian(ctx context.Context, items []Item) error
}

// TagQuery returns the query selecting items carrying tag.
func TagQuery(tag string) string {
	return "tag:" + quote(tag)
}

// CustodianQuery returns the query selecting items assigned to custodian.
func CustodianQuery(custodian string) string {
	return "custodian:" + quote(custodian)
}

// IdentityQuery returns the query selecting the given identities.
func IdentityQuery(ids []identity.Identity) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "guid:(" + strings.Join(parts, " OR ") + ")"
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Identities returns the identities of items in order.
func Identities(items []Item) []identity.Identity {
	ids := make([]identity.Identity, len(items))
	for i, it := range items {
		ids[i] = it.Identity()
	}
	return ids
}
