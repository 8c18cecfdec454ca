// Package callbacks implements the (module, subtype) hook registry that
// story logic plugs into. Each module declares a base implementation with
// default behavior; a subtype may register an overriding implementation.
//
// The registry validates declared contracts at registration time, which runs
// during module init: a method declared NoOverride must not be redefined by
// a subtype implementation, and a field declared RequiredNotNone must be
// populated. Violations panic with the offending symbol so a bad content
// drop fails the process before it serves anyone.
package callbacks

import (
	"fmt"
	"reflect"
	"sort"
)

// Module is a callback category.
type Module string

const (
	ModuleEmail       Module = "email"
	ModuleMessage     Module = "message"
	ModuleMission     Module = "mission"
	ModuleTarget      Module = "target"
	ModuleSpecies     Module = "species"
	ModuleProgress    Module = "progress"
	ModuleAchievement Module = "achievement"
	ModuleCapability  Module = "capability"
	ModuleShop        Module = "shop"
	ModuleVoucher     Module = "voucher"
	ModuleProduct     Module = "product"
	ModuleGift        Module = "gift"
	ModuleRover       Module = "rover"
	ModuleUser        Module = "user"
	ModuleTimer       Module = "timer"
)

type moduleEntry struct {
	base       any
	noOverride map[string]struct{}
	required   []string
	subtypes   map[string]any
	order      []string
}

// Registry holds every module's base and subtype implementations. Read-only
// after init.
type Registry struct {
	modules map[Module]*moduleEntry
}

func New() *Registry {
	return &Registry{modules: map[Module]*moduleEntry{}}
}

// ModuleOption configures a module's declared contract.
type ModuleOption func(*moduleEntry)

// NoOverride declares base methods that subtype implementations must not
// redefine.
func NoOverride(methods ...string) ModuleOption {
	return func(e *moduleEntry) {
		for _, m := range methods {
			e.noOverride[m] = struct{}{}
		}
	}
}

// RequiredNotNone declares struct fields every subtype implementation must
// populate.
func RequiredNotNone(fields ...string) ModuleOption {
	return func(e *moduleEntry) {
		e.required = append(e.required, fields...)
	}
}

// RegisterModule installs a module's base implementation and contract.
func (r *Registry) RegisterModule(module Module, base any, opts ...ModuleOption) {
	if _, dup := r.modules[module]; dup {
		panic(fmt.Sprintf("callbacks: module %q registered twice", module))
	}
	entry := &moduleEntry{
		base:       base,
		noOverride: map[string]struct{}{},
		subtypes:   map[string]any{},
	}
	for _, opt := range opts {
		opt(entry)
	}
	for name := range entry.noOverride {
		if _, ok := reflect.TypeOf(base).MethodByName(name); !ok {
			panic(fmt.Sprintf("callbacks: %s declares NoOverride %q which the base does not define", module, name))
		}
	}
	r.modules[module] = entry
}

// RegOption declares a subtype implementation's intent at registration.
type RegOption func(*regIntent)

type regIntent struct {
	overrides []string
}

// Overrides declares the base methods this implementation redefines. Every
// redefined method must be declared; declaring a NoOverride method fails at
// registration.
func Overrides(methods ...string) RegOption {
	return func(ri *regIntent) {
		ri.overrides = append(ri.overrides, methods...)
	}
}

// Register installs a subtype implementation, validating the module's
// declared contract against the implementation's declared intent.
func (r *Registry) Register(module Module, subtype string, impl any, opts ...RegOption) {
	entry, ok := r.modules[module]
	if !ok {
		panic(fmt.Sprintf("callbacks: unknown module %q for subtype %q", module, subtype))
	}
	if _, dup := entry.subtypes[subtype]; dup {
		panic(fmt.Sprintf("callbacks: %s/%s registered twice", module, subtype))
	}

	intent := &regIntent{}
	for _, opt := range opts {
		opt(intent)
	}

	implType := reflect.TypeOf(impl)
	for _, name := range intent.overrides {
		if _, ok := implType.MethodByName(name); !ok {
			panic(fmt.Sprintf("callbacks: %s/%s declares override of %s.%s which it does not define", module, subtype, implType, name))
		}
		if _, protected := entry.noOverride[name]; protected {
			panic(fmt.Sprintf("callbacks: %s/%s redefines NoOverride method %s.%s", module, subtype, implType, name))
		}
	}

	v := reflect.Indirect(reflect.ValueOf(impl))
	for _, field := range entry.required {
		f := v.FieldByName(field)
		if !f.IsValid() {
			panic(fmt.Sprintf("callbacks: %s/%s missing RequiredNotNone field %s.%s", module, subtype, implType, field))
		}
		if f.IsZero() {
			panic(fmt.Sprintf("callbacks: %s/%s leaves RequiredNotNone field %s.%s unset", module, subtype, implType, field))
		}
	}

	entry.subtypes[subtype] = impl
	entry.order = append(entry.order, subtype)
}

// Lookup returns the implementation for (module, subtype), falling back to
// the module base.
func (r *Registry) Lookup(module Module, subtype string) (any, error) {
	entry, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("callbacks: unknown module %q", module)
	}
	if impl, ok := entry.subtypes[subtype]; ok {
		return impl, nil
	}
	return entry.base, nil
}

// Run dispatches the named callback on (module, subtype), falling back to
// the base when the subtype has no implementation. Methods the module
// declares NoOverride always resolve on the base, so a redefinition that
// skipped its Overrides declaration never takes effect. Return values are
// the method's, with a trailing error split off when declared.
func (r *Registry) Run(module Module, name, subtype string, args ...any) ([]any, error) {
	entry, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("callbacks: unknown module %q", module)
	}
	impl := entry.base
	if sub, ok := entry.subtypes[subtype]; ok {
		impl = sub
	}
	if _, protected := entry.noOverride[name]; protected {
		impl = entry.base
	}
	return call(module, name, impl, args)
}

// RunAll invokes the named callback on every registered subtype of the
// module, in registration order, collecting per-subtype return values.
// Subtypes whose implementation lacks the method are skipped.
func (r *Registry) RunAll(module Module, name string, args ...any) (map[string][]any, error) {
	entry, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("callbacks: unknown module %q", module)
	}
	_, protected := entry.noOverride[name]
	out := make(map[string][]any)
	for _, subtype := range entry.order {
		impl := entry.subtypes[subtype]
		if protected {
			impl = entry.base
		} else if _, ok := reflect.TypeOf(impl).MethodByName(name); !ok {
			continue
		}
		results, err := call(module, name, impl, args)
		if err != nil {
			return nil, err
		}
		out[subtype] = results
	}
	return out, nil
}

// Subtypes returns the registered subtype keys of a module, sorted.
func (r *Registry) Subtypes(module Module) []string {
	entry, ok := r.modules[module]
	if !ok {
		return nil
	}
	keys := append([]string(nil), entry.order...)
	sort.Strings(keys)
	return keys
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

func call(module Module, name string, impl any, args []any) ([]any, error) {
	method := reflect.ValueOf(impl).MethodByName(name)
	if !method.IsValid() {
		return nil, fmt.Errorf("callbacks: %s has no callback %q", module, name)
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(method.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	results := method.Call(in)

	out := make([]any, 0, len(results))
	for i, rv := range results {
		if i == len(results)-1 && rv.Type().Implements(errType) {
			if !rv.IsNil() {
				return out, rv.Interface().(error)
			}
			return out, nil
		}
		out = append(out, rv.Interface())
	}
	return out, nil
}
