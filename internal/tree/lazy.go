package tree

import "context"

// LazyField computes its value once on first read. set_silent overwrites are
// permitted and never emit a chip.
type LazyField struct {
	name   string
	loader LazyLoader
	loaded bool
	val    any
}

func (f *LazyField) value(ctx context.Context, m *Model) (any, error) {
	if f.loaded {
		return f.val, nil
	}
	v, err := f.loader(ctx, m)
	if err != nil {
		return nil, err
	}
	f.val = v
	f.loaded = true
	return v, nil
}

func (f *LazyField) setSilent(v any) {
	f.val = v
	f.loaded = true
}
