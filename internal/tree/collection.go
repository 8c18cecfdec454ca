package tree

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/shared"
)

// Collection holds a model's children of one kind, keyed by child id, in
// insertion order. Mutations emit ADD/DELETE chips; silent variants exist
// for loading persisted state.
type Collection struct {
	name  string
	owner *Model

	order []string
	items map[string]*Model

	loaded     bool
	loader     func(ctx context.Context, c *Collection) error
	serverOnly bool
}

func (c *Collection) Name() string { return c.name }
func (c *Collection) Owner() *Model { return c.owner }

// MarkLazy installs a loader run on first access. Server-only collections
// are skipped by serialisation and therefore never auto-load.
func (c *Collection) MarkLazy(loader func(ctx context.Context, c *Collection) error, serverOnly bool) {
	c.loader = loader
	c.loaded = false
	c.serverOnly = serverOnly
}

func (c *Collection) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	c.loaded = true
	if c.loader == nil {
		return nil
	}
	return c.loader(ctx, c)
}

// Add inserts a child and emits an ADD chip carrying the child's
// serialisation at the child's path. The child's id at insertion time (which
// may be a cid) addresses the chip.
func (c *Collection) Add(ctx context.Context, child *Model) error {
	if err := c.insert(ctx, child); err != nil {
		return err
	}
	ser, err := child.Serialize(ctx)
	if err != nil {
		return err
	}
	child.session.Emit(chips.Add, child.Path(), ser)
	return nil
}

// AddSilent inserts a child without emission, for loads from persistence.
func (c *Collection) AddSilent(ctx context.Context, child *Model) error {
	return c.insert(ctx, child)
}

func (c *Collection) insert(ctx context.Context, child *Model) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	id := child.ID()
	if id == "" {
		return fmt.Errorf("%w: %s insert with empty id and no cid", shared.ErrorInternal, c.name)
	}
	if _, dup := c.items[id]; dup {
		return fmt.Errorf("%w: duplicate id %q in collection %s", shared.ErrorInternal, id, c.name)
	}
	child.parent = c
	c.items[id] = child
	c.order = append(c.order, id)
	return nil
}

// Remove deletes a child and emits a DELETE chip with an empty value.
func (c *Collection) Remove(ctx context.Context, id string) error {
	child, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: id %q not in collection %s", shared.ErrorNotFound, id, c.name)
	}
	path := child.Path()
	c.removeSilent(id)
	child.session.Emit(chips.Delete, path, nil)
	return nil
}

// RemoveSilent deletes a child without emission.
func (c *Collection) RemoveSilent(id string) {
	c.removeSilent(id)
}

func (c *Collection) removeSilent(id string) {
	child, ok := c.items[id]
	if !ok {
		return
	}
	child.parent = nil
	delete(c.items, id)
	for i, ordered := range c.order {
		if ordered == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// reindex moves a child under its real id after the id field's first
// assignment; the chips already emitted keep the cid the client knows.
func (c *Collection) reindex(oldID, newID string) {
	child, ok := c.items[oldID]
	if !ok {
		return
	}
	delete(c.items, oldID)
	c.items[newID] = child
	for i, ordered := range c.order {
		if ordered == oldID {
			c.order[i] = newID
			break
		}
	}
}

// Get returns the child with the given id, loading the collection first if
// it is lazy.
func (c *Collection) Get(ctx context.Context, id string) (*Model, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	child, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %q not in collection %s", shared.ErrorNotFound, id, c.name)
	}
	return child, nil
}

// Has reports membership without treating absence as an error.
func (c *Collection) Has(ctx context.Context, id string) (bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return false, err
	}
	_, ok := c.items[id]
	return ok, nil
}

// All returns the children in insertion order.
func (c *Collection) All(ctx context.Context) ([]*Model, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]*Model, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out, nil
}

// Len returns the number of loaded children.
func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return len(c.items), nil
}

// Serialize renders the collection as an id-keyed map of child
// serialisations.
func (c *Collection) Serialize(ctx context.Context) (map[string]any, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(c.items))
	for id, child := range c.items {
		ser, err := child.Serialize(ctx)
		if err != nil {
			return nil, err
		}
		out[id] = ser
	}
	return out, nil
}
