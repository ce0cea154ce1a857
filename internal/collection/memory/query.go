package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/annohist/internal/collection"
	"github.com/roach88/annohist/internal/identity"
)

// query is a parsed search expression.
type query struct {
	field string // "", "tag", "custodian" or "guid"
	value string
	guids map[identity.Identity]bool
}

// parseQuery understands the empty query and the forms
//
//	tag:"name"   tag:name
//	custodian:"name"
//	guid:(a OR b OR c)   guid:a
func parseQuery(q string) (query, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return query{}, nil
	}

	field, rest, ok := strings.Cut(q, ":")
	if !ok {
		return query{}, fmt.Errorf("unsupported query %q", q)
	}
	field = strings.ToLower(strings.TrimSpace(field))
	rest = strings.TrimSpace(rest)

	switch field {
	case "tag", "custodian":
		value, err := unquote(rest)
		if err != nil {
			return query{}, fmt.Errorf("query %q: %w", q, err)
		}
		return query{field: field, value: value}, nil
	case "guid":
		if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
			rest = rest[1 : len(rest)-1]
		}
		guids := make(map[identity.Identity]bool)
		for _, term := range strings.Fields(rest) {
			if strings.EqualFold(term, "OR") {
				continue
			}
			id, err := identity.Parse(term)
			if err != nil {
				return query{}, fmt.Errorf("query %q: %w", q, err)
			}
			guids[id] = true
		}
		return query{field: field, guids: guids}, nil
	default:
		return query{}, fmt.Errorf("unsupported query field %q", field)
	}
}

func unquote(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return "", fmt.Errorf("unterminated quote")
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	escaped := false
	for _, r := range body {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		return "", fmt.Errorf("dangling escape")
	}
	return b.String(), nil
}

func (q query) match(it *Item) bool {
	switch q.field {
	case "":
		return true
	case "tag":
		return it.Tags[q.value]
	case "custodian":
		return it.Custodian == q.value
	case "guid":
		return q.guids[it.ID]
	default:
		return false
	}
}

// Search implements collection.Source. Results keep insertion order.
func (c *Collection) Search(ctx context.Context, q string) ([]collection.Item, error) {
	parsed, err := parseQuery(q)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faultLocked("Search"); err != nil {
		return nil, err
	}
	c.queries = append(c.queries, q)

	items := []collection.Item{}
	for _, it := range c.items {
		if parsed.match(it) {
			items = append(items, it)
		}
	}
	return items, nil
}

// SearchByIdentity implements collection.Source and collection.Target.
// Identities not present in the collection are left out of the result.
func (c *Collection) SearchByIdentity(ctx context.Context, ids []identity.Identity) ([]collection.Item, error) {
	c.mu.Lock()
	fault := c.faultLocked("SearchByIdentity")
	c.mu.Unlock()
	if fault != nil {
		return nil, fault
	}
	if len(ids) == 0 {
		return []collection.Item{}, nil
	}
	return c.Search(ctx, collection.IdentityQuery(ids))
}

// Queries returns every query run through Search, in order.
func (c *Collection) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}
