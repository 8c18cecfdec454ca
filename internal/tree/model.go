package tree

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/chips"
	"github.com/plastr/extrasolar/internal/shared"
)

// Model is one node of the tree: a bag of declared fields, optional lazy
// fields, and named child collections. Domain types wrap Model with typed
// accessors; all mutation funnels through Set.
type Model struct {
	spec    *Spec
	session *Session

	parent *Collection
	cid    string

	values      map[string]any
	lazy        map[string]*LazyField
	collections map[string]*Collection
}

// NewRoot builds the single root model of a user's tree.
func NewRoot(spec *Spec, session *Session) *Model {
	return newModel(spec, session)
}

// NewModel builds a detached model; it joins the tree via Collection.Add.
// cid may carry a client correlation id honored until the first real-id
// assignment.
func NewModel(spec *Spec, session *Session, cid string) *Model {
	m := newModel(spec, session)
	m.cid = cid
	return m
}

func newModel(spec *Spec, session *Session) *Model {
	spec.init()
	m := &Model{
		spec:        spec,
		session:     session,
		values:      make(map[string]any),
		lazy:        make(map[string]*LazyField),
		collections: make(map[string]*Collection, len(spec.Collections)),
	}
	for _, name := range spec.Collections {
		m.collections[name] = &Collection{name: name, owner: m, items: map[string]*Model{}, loaded: true}
	}
	return m
}

func (m *Model) Spec() *Spec       { return m.spec }
func (m *Model) Session() *Session { return m.session }

// ID returns the model's id within its parent collection: the id field's
// value once assigned, else the client correlation id.
func (m *Model) ID() string {
	if m.spec.IDField == "" {
		return RootID
	}
	if v, ok := m.values[m.spec.IDField]; ok && v != nil && v != "" {
		return fmt.Sprintf("%v", v)
	}
	return m.cid
}

// Path returns the ordered ids from the tree root to this model. It is
// stable across reloads and addresses the model in every chip.
func (m *Model) Path() []string {
	if m.parent == nil {
		return []string{m.ID()}
	}
	owner := m.parent.owner
	return append(owner.Path(), m.parent.name, m.ID())
}

// Get returns a field's current value, triggering a lazy load if the field
// is lazy. Unknown fields fail with ErrorUnknownField.
func (m *Model) Get(ctx context.Context, field string) (any, error) {
	if lf, ok := m.lazy[field]; ok {
		return lf.value(ctx, m)
	}
	if !m.spec.settable(field) {
		return nil, fmt.Errorf("%w: %s.%s", shared.ErrorUnknownField, m.spec.Name, field)
	}
	return m.values[field], nil
}

// Set assigns a managed field and enqueues a MOD chip on the model's path.
// Assigning the id field reindexes the parent collection so subsequent chips
// carry the real id. Unmanaged fields are set without emission.
func (m *Model) Set(ctx context.Context, field string, value any) error {
	if err := m.assign(field, value); err != nil {
		return err
	}
	if m.spec.unmanaged(field) {
		return nil
	}
	m.emitMod(ctx, field, value)
	return nil
}

// SetSilent assigns a field without emitting a chip. Used when loading state
// from the database and by lazy-field overwrites.
func (m *Model) SetSilent(field string, value any) error {
	return m.assign(field, value)
}

func (m *Model) assign(field string, value any) error {
	if lf, ok := m.lazy[field]; ok {
		lf.setSilent(value)
		return nil
	}
	if !m.spec.settable(field) {
		return fmt.Errorf("%w: %s.%s", shared.ErrorUnknownField, m.spec.Name, field)
	}
	oldID := ""
	isID := field == m.spec.IDField && m.parent != nil
	if isID {
		oldID = m.ID()
	}
	m.values[field] = value
	if isID && oldID != m.ID() {
		m.parent.reindex(oldID, m.ID())
	}
	return nil
}

func (m *Model) emitMod(ctx context.Context, field string, value any) {
	if m.spec.ShallowChips {
		shallow := map[string]any{field: value}
		if m.spec.IDField != "" {
			shallow[m.spec.IDField] = m.ID()
		}
		m.session.Emit(chips.Mod, m.Path(), shallow)
		return
	}
	ser, err := m.Serialize(ctx)
	if err != nil {
		// serialisation of already-validated state cannot fail outside of a
		// broken lazy loader; emit the changed field alone in that case
		ser = map[string]any{field: value}
	}
	m.session.Emit(chips.Mod, m.Path(), ser)
}

// DefineLazy registers a lazy field computed once on first read.
func (m *Model) DefineLazy(name string, loader LazyLoader) {
	m.lazy[name] = &LazyField{name: name, loader: loader}
}

// Collection returns the named child collection.
func (m *Model) Collection(name string) *Collection {
	return m.collections[name]
}

// Serialize renders the model for chips and the gamestate: id field, managed
// fields, computed views, lazy fields, and nested collections. Server-only
// names are skipped. Lazy values load on demand.
func (m *Model) Serialize(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	if m.spec.IDField != "" {
		out[m.spec.IDField] = m.ID()
	}
	for _, field := range m.spec.Fields {
		if m.spec.serverOnly(field) || field == m.spec.IDField {
			continue
		}
		out[field] = m.values[field]
	}
	for name, lf := range m.lazy {
		if m.spec.serverOnly(name) {
			continue
		}
		v, err := lf.value(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("lazy field %s.%s: %w", m.spec.Name, name, err)
		}
		out[name] = v
	}
	for name, fn := range m.spec.Computed {
		out[name] = fn(m)
	}
	for _, name := range m.spec.Collections {
		coll := m.collections[name]
		if coll.serverOnly {
			continue
		}
		ser, err := coll.Serialize(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = ser
	}
	return out, nil
}
