package memory

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
)

// Dump is the YAML form of a collection.
type Dump struct {
	Name     string                `yaml:"name"`
	Location string                `yaml:"location,omitempty"`
	Items    []ItemDoc             `yaml:"items"`
	ItemSets map[string]ItemSetDoc `yaml:"item_sets,omitempty"`
	History  []HistoryDoc          `yaml:"history,omitempty"`
}

// ItemDoc is one item. When GUID is empty the identity is derived from Name.
type ItemDoc struct {
	GUID           string              `yaml:"guid,omitempty"`
	Name           string              `yaml:"name,omitempty"`
	Tags           []string            `yaml:"tags,omitempty"`
	Custodian      string              `yaml:"custodian,omitempty"`
	Excluded       bool                `yaml:"excluded,omitempty"`
	Exclusion      string              `yaml:"exclusion,omitempty"`
	ItemSets       map[string]string   `yaml:"item_sets,omitempty"`
	CustomMetadata map[string]ValueDoc `yaml:"custom_metadata,omitempty"`
}

// ValueDoc is a typed custom metadata value.
type ValueDoc struct {
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

// ItemSetDoc is an item set definition.
type ItemSetDoc struct {
	Description string         `yaml:"description,omitempty"`
	Settings    map[string]any `yaml:"settings,omitempty"`
}

// HistoryDoc is one history event. Items name affected items by GUID or
// by item name.
type HistoryDoc struct {
	Type    string         `yaml:"type,omitempty"`
	Start   time.Time      `yaml:"start"`
	Details map[string]any `yaml:"details"`
	Items   []string       `yaml:"items"`
}

// Load reads a YAML dump file.
func Load(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection file: %w", err)
	}

	var d Dump
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to parse collection %s: %w", path, err)
	}

	c, err := FromDump(d)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", path, err)
	}
	if c.info.Location == "" {
		c.info.Location = path
	}
	return c, nil
}

// FromDump builds a collection from its YAML form.
func FromDump(d Dump) (*Collection, error) {
	c := New(d.Name, d.Location)
	byName := make(map[string]*Item)

	for i, doc := range d.Items {
		id, err := itemIdentity(doc)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("items[%d]: duplicate identity %s", i, id)
		}
		it := c.addItemLocked(id, doc.Name)
		for _, tag := range doc.Tags {
			it.Tags[tag] = true
		}
		it.Custodian = doc.Custodian
		it.Excluded = doc.Excluded || doc.Exclusion != ""
		it.Exclusion = doc.Exclusion
		for set, batch := range doc.ItemSets {
			it.ItemSets[set] = batch
		}
		for field, vd := range doc.CustomMetadata {
			v, err := event.ParseValue(vd.Type, vd.Value)
			if err != nil {
				return nil, fmt.Errorf("items[%d].custom_metadata[%s]: %w", i, field, err)
			}
			it.Metadata[field] = v
		}
		if doc.Name != "" {
			byName[doc.Name] = it
		}
	}

	for name, doc := range d.ItemSets {
		c.itemSets[name] = collection.ItemSetInfo{Settings: doc.Settings, Description: doc.Description}
	}

	for i, doc := range d.History {
		affected := make([]collection.Item, 0, len(doc.Items))
		for _, ref := range doc.Items {
			it, err := c.resolveRef(ref, byName)
			if err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
			affected = append(affected, it)
		}
		typ := doc.Type
		if typ == "" {
			typ = collection.HistoryTypeAnnotation
		}
		c.history = append(c.history, collection.HistoryEvent{
			Type:     typ,
			Start:    doc.Start,
			Details:  doc.Details,
			Affected: affected,
		})
	}
	sort.SliceStable(c.history, func(i, j int) bool {
		return c.history[i].Start.Before(c.history[j].Start)
	})

	return c, nil
}

func itemIdentity(doc ItemDoc) (identity.Identity, error) {
	if doc.GUID != "" {
		return identity.Parse(doc.GUID)
	}
	if doc.Name == "" {
		return identity.Nil, fmt.Errorf("item needs a guid or a name")
	}
	return identity.FromName(doc.Name), nil
}

func (c *Collection) resolveRef(ref string, byName map[string]*Item) (*Item, error) {
	if it, ok := byName[ref]; ok {
		return it, nil
	}
	id, err := identity.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("unknown item %q", ref)
	}
	it, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, collection.ErrNotFound)
	}
	return it, nil
}

// Dump returns the YAML form of the collection. Items keep insertion order;
// tags are sorted.
func (c *Collection) Dump() Dump {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Dump{Name: c.info.Name, Location: c.info.Location, Items: make([]ItemDoc, 0, len(c.items))}
	for _, it := range c.items {
		doc := ItemDoc{
			GUID:      it.ID.String(),
			Name:      it.Name,
			Custodian: it.Custodian,
			Excluded:  it.Excluded,
			Exclusion: it.Exclusion,
		}
		for tag := range it.Tags {
			doc.Tags = append(doc.Tags, tag)
		}
		sort.Strings(doc.Tags)
		if len(it.ItemSets) > 0 {
			doc.ItemSets = make(map[string]string, len(it.ItemSets))
			for set, batch := range it.ItemSets {
				doc.ItemSets[set] = batch
			}
		}
		if len(it.Metadata) > 0 {
			doc.CustomMetadata = make(map[string]ValueDoc, len(it.Metadata))
			for field, v := range it.Metadata {
				doc.CustomMetadata[field] = valueDoc(v)
			}
		}
		d.Items = append(d.Items, doc)
	}

	if len(c.itemSets) > 0 {
		d.ItemSets = make(map[string]ItemSetDoc, len(c.itemSets))
		for name, info := range c.itemSets {
			d.ItemSets[name] = ItemSetDoc{Description: info.Description, Settings: info.Settings}
		}
	}

	for _, h := range c.history {
		doc := HistoryDoc{Type: h.Type, Start: h.Start, Details: h.Details}
		for _, it := range h.Affected {
			doc.Items = append(doc.Items, it.Identity().String())
		}
		d.History = append(d.History, doc)
	}
	return d
}

func valueDoc(v event.Value) ValueDoc {
	switch v.Type.Slot() {
	case event.SlotTime:
		return ValueDoc{Type: string(v.Type), Value: v.Time.Format(time.RFC3339Nano)}
	case event.SlotBinary:
		return ValueDoc{Type: string(v.Type), Value: v.String()}
	default:
		return ValueDoc{Type: string(v.Type), Value: v.Any()}
	}
}

// Save writes the collection as YAML.
func (c *Collection) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.Dump()); err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write collection %s: %w", path, err)
	}
	return nil
}
