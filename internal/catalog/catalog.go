// Package catalog holds the units a page may place in a pipeline.
package catalog

import (
	"context"
	"fmt"

	"github.com/sourceplane/prestoflow/internal/model"
)

// Source lists the units registered with a backend session
type Source interface {
	ListUnits(ctx context.Context, sessionID string, group model.Group) ([]model.Unit, error)
}

// Catalog is an ordered, read-only set of units
type Catalog struct {
	units []model.Unit
	byID  map[string]int
}

// Load fetches every unit registered with a session, whatever its group
func Load(ctx context.Context, src Source, sessionID string) (*Catalog, error) {
	units, err := src.ListUnits(ctx, sessionID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load unit catalog: %w", err)
	}
	return New(units)
}

// Page returns the catalog of one page group. An empty group returns c.
func (c *Catalog) Page(group model.Group) *Catalog {
	if group == "" {
		return c
	}
	page, _ := New(c.ByGroup(group))
	return page
}

// New builds a catalog from units, keeping their order. Unit ids must be unique.
func New(units []model.Unit) (*Catalog, error) {
	c := &Catalog{
		units: make([]model.Unit, 0, len(units)),
		byID:  make(map[string]int, len(units)),
	}
	for _, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("unit %q has no id", u.Label)
		}
		if _, dup := c.byID[u.ID]; dup {
			return nil, fmt.Errorf("duplicate unit id %s", u.ID)
		}
		c.byID[u.ID] = len(c.units)
		c.units = append(c.units, u)
	}
	return c, nil
}

// Unit returns the unit with the given id
func (c *Catalog) Unit(id string) (model.Unit, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return model.Unit{}, false
	}
	return c.units[idx], true
}

// Units returns every unit in backend order
func (c *Catalog) Units() []model.Unit {
	return append([]model.Unit(nil), c.units...)
}

// ByGroup returns the units of one group
func (c *Catalog) ByGroup(group model.Group) []model.Unit {
	out := make([]model.Unit, 0)
	for _, u := range c.units {
		if u.Group == group {
			out = append(out, u)
		}
	}
	return out
}

// DefaultParams returns the schema defaults of a unit
func (c *Catalog) DefaultParams(id string) (map[string]string, bool) {
	u, ok := c.Unit(id)
	if !ok {
		return nil, false
	}
	return u.DefaultParams(), true
}

// Meta returns the DAG metadata of a unit
func (c *Catalog) Meta(id string) (model.DagMeta, bool) {
	u, ok := c.Unit(id)
	if !ok {
		return model.DagMeta{}, false
	}
	return u.Meta(), true
}

// Len returns the number of units
func (c *Catalog) Len() int {
	return len(c.units)
}
