package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
)

// Call is one recorded mutation.
type Call struct {
	Op    string
	Args  []string
	Items []identity.Identity
}

// String renders the call with its items sorted, e.g.
//
//	AddTag("hot") [0000...01 0000...02]
func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprintf("%q", a)
	}
	ids := make([]string, len(c.Items))
	for i, id := range c.Items {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s(%s) [%s]", c.Op, strings.Join(args, ", "), strings.Join(ids, " "))
}

// Calls returns the mutation log in call order.
func (c *Collection) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Trace returns the mutation log rendered one call per line.
func (c *Collection) Trace() []string {
	calls := c.Calls()
	lines := make([]string, len(calls))
	for i, call := range calls {
		lines[i] = call.String()
	}
	return lines
}

// ResetCalls clears the mutation and query logs.
func (c *Collection) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.queries = nil
}

// mutate resolves items, records the call and applies fn to each item.
func (c *Collection) mutate(op string, args []string, items []collection.Item, fn func(*Item)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(op); err != nil {
		return err
	}

	resolved := make([]*Item, 0, len(items))
	ids := make([]identity.Identity, 0, len(items))
	for _, item := range items {
		it, ok := c.byID[item.Identity()]
		if !ok {
			return fmt.Errorf("%s: item %s: %w", op, item.Identity(), collection.ErrNotFound)
		}
		resolved = append(resolved, it)
		ids = append(ids, it.ID)
	}

	c.calls = append(c.calls, Call{Op: op, Args: args, Items: ids})
	for _, it := range resolved {
		fn(it)
	}
	return nil
}

func (c *Collection) AddTag(ctx context.Context, tag string, items []collection.Item) error {
	return c.mutate("AddTag", []string{tag}, items, func(it *Item) {
		it.Tags[tag] = true
	})
}

func (c *Collection) RemoveTag(ctx context.Context, tag string, items []collection.Item) error {
	return c.mutate("RemoveTag", []string{tag}, items, func(it *Item) {
		delete(it.Tags, tag)
	})
}

func (c *Collection) SetCustomMetadata(ctx context.Context, field string, value event.Value, items []collection.Item) error {
	args := []string{field, string(value.Type), value.String()}
	return c.mutate("SetCustomMetadata", args, items, func(it *Item) {
		it.Metadata[field] = value
	})
}

func (c *Collection) RemoveCustomMetadata(ctx context.Context, field string, items []collection.Item) error {
	return c.mutate("RemoveCustomMetadata", []string{field}, items, func(it *Item) {
		delete(it.Metadata, field)
	})
}

// CreateItemSetIfAbsent defines the item set unless it already exists.
// The call is logged either way.
func (c *Collection) CreateItemSetIfAbsent(ctx context.Context, name string, info collection.ItemSetInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faultLocked("CreateItemSetIfAbsent"); err != nil {
		return err
	}
	c.calls = append(c.calls, Call{Op: "CreateItemSetIfAbsent", Args: []string{name}})
	if _, ok := c.itemSets[name]; !ok {
		c.itemSets[name] = info
	}
	return nil
}

// AddToItemSet adds items under batch, defining the item set with empty
// settings if it does not exist yet.
func (c *Collection) AddToItemSet(ctx context.Context, name, batch string, items []collection.Item) error {
	err := c.mutate("AddToItemSet", []string{name, batch}, items, func(it *Item) {
		it.ItemSets[name] = batch
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.itemSets[name]; !ok {
		c.itemSets[name] = collection.ItemSetInfo{}
	}
	return nil
}

func (c *Collection) RemoveFromItemSet(ctx context.Context, name string, items []collection.Item) error {
	return c.mutate("RemoveFromItemSet", []string{name}, items, func(it *Item) {
		delete(it.ItemSets, name)
	})
}

func (c *Collection) Exclude(ctx context.Context, reason string, items []collection.Item) error {
	return c.mutate("Exclude", []string{reason}, items, func(it *Item) {
		it.Excluded = true
		it.Exclusion = reason
	})
}

func (c *Collection) Include(ctx context.Context, items []collection.Item) error {
	return c.mutate("Include", nil, items, func(it *Item) {
		it.Excluded = false
		it.Exclusion = ""
	})
}

func (c *Collection) AssignCustodian(ctx context.Context, custodian string, items []collection.Item) error {
	return c.mutate("AssignCustodian", []string{custodian}, items, func(it *Item) {
		it.Custodian = custodian
	})
}

func (c *Collection) UnassignCustodian(ctx context.Context, items []collection.Item) error {
	return c.mutate("UnassignCustodian", nil, items, func(it *Item) {
		it.Custodian = ""
	})
}
