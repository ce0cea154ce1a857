package engine

import (
	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/event"
)

// Classify maps a source history event to the kind it records.
//
// Precedence is fixed: tag, fieldName, item-set with an assigned or
// unassigned count, excluded, assigned. ok is false when no rule matches.
func Classify(h collection.HistoryEvent) (kind event.Kind, ok bool) {
	switch {
	case h.Has(collection.DetailTag):
		return event.KindTag, true
	case h.Has(collection.DetailFieldName):
		return event.KindCustomMetadata, true
	case h.Has(collection.DetailItemSet) &&
		(h.Has(collection.DetailItemsAssignedCount) || h.Has(collection.DetailItemsUnassignedCount)):
		return event.KindItemSet, true
	case h.Has(collection.DetailExcluded):
		return event.KindExclusion, true
	case h.Has(collection.DetailAssigned):
		return event.KindCustodian, true
	default:
		return 0, false
	}
}
