package spec

import (
	"fmt"
	"reflect"

	"serialspec/internal/fetch"
)

// Plugin computes one output value. It may extend the fetch plan of the
// record it is declared on, and reads whatever it loaded back from the
// record when projecting.
type Plugin interface {
	ModifyFetch(b Binding, p *fetch.Plan) (*fetch.Plan, error)
	Value(b Binding, rec map[string]any) (any, error)
}

// NestedSpecer is implemented by plugins that need declarations loaded on
// the record they are declared on. The nested spec is resolved against the
// same record, not a child relation.
type NestedSpecer interface {
	NestedSpec(b Binding) Spec
}

// Binding is what a plugin knows about one use: the key it outputs to and
// the principal of the request. Principal is opaque to this package.
type Binding struct {
	Key       string
	Principal any
}

// Bound is a plugin fixed to one key and one request. It is created during
// compilation and never changed afterwards.
type Bound struct {
	impl    Plugin
	binding Binding
}

// Bind fixes p to key and principal.
func Bind(p Plugin, key string, principal any) *Bound {
	return &Bound{impl: p, binding: Binding{Key: key, Principal: principal}}
}

func (b *Bound) ready() error {
	if b == nil || b.impl == nil || b.binding.Key == "" {
		return fmt.Errorf("%w: plugin used before being bound to a key", ErrPluginContract)
	}
	return nil
}

func (b *Bound) Binding() Binding { return b.binding }
func (b *Bound) Plugin() Plugin   { return b.impl }

func (b *Bound) ModifyFetch(p *fetch.Plan) (*fetch.Plan, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.impl.ModifyFetch(b.binding, p)
}

func (b *Bound) Value(rec map[string]any) (any, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.impl.Value(b.binding, rec)
}

// NestedSpec returns the plugin's nested declarations, or nil.
func (b *Bound) NestedSpec() Spec {
	if b.ready() != nil {
		return nil
	}
	if ns, ok := b.impl.(NestedSpecer); ok {
		return ns.NestedSpec(b.binding)
	}
	return nil
}

// samePlugin reports whether two declarations use the same plugin instance.
func samePlugin(a, b Plugin) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
