// Package tree implements the Model/Collection object graph rooted at a
// user. Every node declares its settable fields up front; the single Set
// method drives change detection and enqueues a chip for every managed
// mutation, so the journal sees exactly what the tree saw.
package tree

import "context"

// RootID is the path element of the single tree root. Non-root models are
// addressed by the value of their id field within their parent collection.
const RootID = "root"

// ComputedFunc derives a read-only view from the model (e.g. epoch-seconds
// rendered as an absolute datetime). Computed fields appear in the
// serialisation but are never settable.
type ComputedFunc func(m *Model) any

// LazyLoader computes a lazy field's value on first read.
type LazyLoader func(ctx context.Context, m *Model) (any, error)

// Spec is a model type's declared contract: its id field, the frozen set of
// settable fields, child collections, and the field classes that modulate
// serialisation and chip emission.
type Spec struct {
	// Name identifies the type in diagnostics ("target", "mission", ...).
	Name string

	// IDField is the attribute whose value is this model's id within its
	// parent collection. Empty for the root.
	IDField string

	// Fields enumerates every settable attribute. Assignment to any other
	// name fails with ErrorUnknownField.
	Fields []string

	// Collections names the child collections, in serialisation order.
	Collections []string

	// ServerOnly fields are elided from serialisation and never trigger
	// lazy loads.
	ServerOnly []string

	// Unmanaged fields hold cross-tree references: assignment does not
	// rewrite the value's parent link and emits no chip.
	Unmanaged []string

	// Computed maps derived view names to their functions.
	Computed map[string]ComputedFunc

	// ShallowChips switches MOD chips from the model's full serialisation
	// to just the changed field. Used by large models (the user root).
	ShallowChips bool

	fieldSet      map[string]struct{}
	serverOnlySet map[string]struct{}
	unmanagedSet  map[string]struct{}
}

func (s *Spec) init() {
	if s.fieldSet != nil {
		return
	}
	s.fieldSet = toSet(s.Fields)
	s.serverOnlySet = toSet(s.ServerOnly)
	s.unmanagedSet = toSet(s.Unmanaged)
}

func (s *Spec) settable(field string) bool {
	s.init()
	_, ok := s.fieldSet[field]
	return ok
}

func (s *Spec) serverOnly(field string) bool {
	s.init()
	_, ok := s.serverOnlySet[field]
	return ok
}

func (s *Spec) unmanaged(field string) bool {
	s.init()
	_, ok := s.unmanagedSet[field]
	return ok
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
