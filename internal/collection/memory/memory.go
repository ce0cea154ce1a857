// Package memory is an in-memory item collection implementing both
// collection.Source and collection.Target.
//
// Collections load from and save to a YAML dump. Every mutation call is
// appended to an ordered call log so tests and the CLI can show exactly
// what a replay did.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
)

// Item is one item of a memory collection.
type Item struct {
	ID        identity.Identity
	Name      string
	Tags      map[string]bool
	Custodian string
	Excluded  bool
	Exclusion string
	Metadata  map[string]event.Value
	// ItemSets maps item set name to batch name.
	ItemSets map[string]string
}

func newItem(id identity.Identity, name string) *Item {
	return &Item{
		ID:       id,
		Name:     name,
		Tags:     make(map[string]bool),
		Metadata: make(map[string]event.Value),
		ItemSets: make(map[string]string),
	}
}

// Identity implements collection.Item.
func (it *Item) Identity() identity.Identity { return it.ID }

// Collection is a mutable in-memory collection.
type Collection struct {
	mu sync.Mutex

	info     collection.Info
	items    []*Item
	byID     map[identity.Identity]*Item
	itemSets map[string]collection.ItemSetInfo
	history  []collection.HistoryEvent

	calls   []Call
	queries []string
	faults  map[string]error
}

// New returns an empty collection.
func New(name, location string) *Collection {
	return &Collection{
		info:     collection.Info{Name: name, Location: location},
		byID:     make(map[identity.Identity]*Item),
		itemSets: make(map[string]collection.ItemSetInfo),
		faults:   make(map[string]error),
	}
}

// Info implements collection.Source.
func (c *Collection) Info() collection.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// AddItem adds an item, or returns the existing item with the same identity.
func (c *Collection) AddItem(id identity.Identity, name string) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addItemLocked(id, name)
}

func (c *Collection) addItemLocked(id identity.Identity, name string) *Item {
	if it, ok := c.byID[id]; ok {
		return it
	}
	it := newItem(id, name)
	c.items = append(c.items, it)
	c.byID[id] = it
	return it
}

// Item returns the item with identity id.
func (c *Collection) Item(id identity.Identity) (*Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	return it, ok
}

// Items returns all items in insertion order.
func (c *Collection) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Item(nil), c.items...)
}

// DefineItemSet records the configuration of an item set.
func (c *Collection) DefineItemSet(name string, info collection.ItemSetInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemSets[name] = info
}

// ItemSetNames returns the defined item sets, sorted.
func (c *Collection) ItemSetNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.itemSets))
	for name := range c.itemSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordHistory appends a history event. Events are kept ordered by start
// time; equal start times keep insertion order.
func (c *Collection) RecordHistory(h collection.HistoryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, h)
	sort.SliceStable(c.history, func(i, j int) bool {
		return c.history[i].Start.Before(c.history[j].Start)
	})
}

// RecordAnnotation is shorthand for recording an annotation history event
// affecting the given items.
func (c *Collection) RecordAnnotation(start time.Time, details map[string]any, items ...*Item) {
	affected := make([]collection.Item, len(items))
	for i, it := range items {
		affected[i] = it
	}
	c.RecordHistory(collection.HistoryEvent{
		Type:     collection.HistoryTypeAnnotation,
		Start:    start,
		Details:  details,
		Affected: affected,
	})
}

// Fail makes every later call of op return err. A nil err clears the fault.
// op is a method name such as "AddTag" or "SearchByIdentity".
func (c *Collection) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.faults, op)
		return
	}
	c.faults[op] = err
}

func (c *Collection) faultLocked(op string) error {
	if err, ok := c.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// EachHistoryEvent implements collection.Source.
func (c *Collection) EachHistoryEvent(ctx context.Context, filter collection.HistoryFilter, fn func(collection.HistoryEvent) error) error {
	c.mu.Lock()
	if err := c.faultLocked("EachHistoryEvent"); err != nil {
		c.mu.Unlock()
		return err
	}
	events := append([]collection.HistoryEvent(nil), c.history...)
	c.mu.Unlock()

	for _, h := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Match(h) {
			continue
		}
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

// LatestHistoryTime returns the start time of the newest history event.
func (c *Collection) LatestHistoryTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return time.Time{}, false
	}
	return c.history[len(c.history)-1].Start, true
}

// DistinctTagNames implements collection.Source.
func (c *Collection) DistinctTagNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faultLocked("DistinctTagNames"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, it := range c.items {
		for tag := range it.Tags {
			seen[tag] = true
		}
	}
	names := make([]string, 0, len(seen))
	for tag := range seen {
		names = append(names, tag)
	}
	sort.Strings(names)
	return names, nil
}

// ItemSetInfo implements collection.Source.
func (c *Collection) ItemSetInfo(ctx context.Context, name string) (collection.ItemSetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faultLocked("ItemSetInfo"); err != nil {
		return collection.ItemSetInfo{}, err
	}
	info, ok := c.itemSets[name]
	if !ok {
		return collection.ItemSetInfo{}, fmt.Errorf("item set %q: %w", name, collection.ErrNotFound)
	}
	return info, nil
}

var (
	_ collection.Source = (*Collection)(nil)
	_ collection.Target = (*Collection)(nil)
)
