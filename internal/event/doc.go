// Package event defines the recorded annotation events.
//
// Event is a closed sum type with five variants, one per Kind:
//
//	TagEvent             tag added to or removed from items
//	CustomMetadataEvent  custom metadata field set or removed
//	ItemSetEvent         items added to or removed from an item set
//	ExclusionEvent       items excluded or included
//	CustodianEvent       custodian assigned or unassigned
//
// Every variant carries an Envelope: the event timestamp (millisecond
// resolution), the serialized bitmap of affected registry indices and the
// number of items the bitmap held when it was recorded.
//
// Events are immutable once recorded. Consumers dispatch with an exhaustive
// type switch:
//
//	switch ev := e.(type) {
//	case *event.TagEvent:
//	case *event.CustomMetadataEvent:
//	case *event.ItemSetEvent:
//	case *event.ExclusionEvent:
//	case *event.CustodianEvent:
//	}
package event
