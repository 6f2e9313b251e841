package spec

import "fmt"

// Normalized is the canonical form of one sibling list: each key appears
// once. Plain fields and relations accumulate across declarations; a plugin
// or a filtered relation is kept verbatim as the override for its key.
type Normalized struct {
	fields   []string
	keys     []string
	children map[string]*Normalized
	override map[string]Node
	bound    map[string]*Bound
	declared map[string]Node
}

func newNormalized() *Normalized {
	return &Normalized{
		children: make(map[string]*Normalized),
		override: make(map[string]Node),
		bound:    make(map[string]*Bound),
		declared: make(map[string]Node),
	}
}

// Fields returns the plain column names, in first-seen order.
func (n *Normalized) Fields() []string { return append([]string(nil), n.fields...) }

// Keys returns relation and override keys, in first-seen order.
func (n *Normalized) Keys() []string { return append([]string(nil), n.keys...) }

// Child returns the merged declarations for relation key.
func (n *Normalized) Child(key string) (*Normalized, bool) {
	c, ok := n.children[key]
	return c, ok
}

// Override returns the plugin or filtered node that owns key.
func (n *Normalized) Override(key string) (Node, bool) {
	o, ok := n.override[key]
	return o, ok
}

// Plugin returns the bound plugin declared under key.
func (n *Normalized) Plugin(key string) (*Bound, bool) {
	b, ok := n.bound[key]
	return b, ok
}

// HasPlugin reports whether a plugin is declared at this level or below.
func (n *Normalized) HasPlugin() bool {
	if len(n.bound) > 0 {
		return true
	}
	for _, c := range n.children {
		if c.HasPlugin() {
			return true
		}
	}
	return false
}

func (n *Normalized) addField(name string) error {
	if o, ok := n.override[name]; ok {
		if _, filtered := o.(Filtered); filtered {
			return fmt.Errorf("%w: %q is both a field and a filtered relation", ErrConfig, name)
		}
	}
	for _, f := range n.fields {
		if f == name {
			return nil
		}
	}
	n.fields = append(n.fields, name)
	return nil
}

func (n *Normalized) addKey(key string) {
	for _, k := range n.keys {
		if k == key {
			return
		}
	}
	n.keys = append(n.keys, key)
}

func (n *Normalized) child(key string) (*Normalized, error) {
	if o, ok := n.override[key]; ok {
		if _, filtered := o.(Filtered); filtered {
			return nil, fmt.Errorf("%w: %q is both a relation and a filtered relation", ErrConfig, key)
		}
	}
	c, ok := n.children[key]
	if !ok {
		c = newNormalized()
		n.children[key] = c
		n.addKey(key)
	}
	return c, nil
}

// declare records the output key of a node written by the caller. Plain
// declarations of one key merge when they read the same field or relation;
// anything else sharing a key with another declaration is a conflict, except
// the same plugin instance declared twice.
func (n *Normalized) declare(node Node) (dup bool, err error) {
	key := node.Key()
	prev, ok := n.declared[key]
	if !ok {
		n.declared[key] = node
		return false, nil
	}
	if isPlain(prev) && isPlain(node) {
		if source(prev) != source(node) {
			return false, fmt.Errorf("%w: key %q reads both %q and %q", ErrConfig, key, source(prev), source(node))
		}
		return false, nil
	}
	if pp, ok := prev.(PluginNode); ok {
		if np, ok := node.(PluginNode); ok && samePlugin(pp.Plugin, np.Plugin) {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: key %q is declared as %s and as %s", ErrConfig, key, describe(prev), describe(node))
}

func isPlain(node Node) bool {
	switch v := node.(type) {
	case Field, Relation:
		return true
	case Filtered:
		return len(v.Where) == 0
	}
	return false
}

// source is the field or relation a plain node reads.
func source(node Node) string {
	if f, ok := node.(Filtered); ok {
		return f.Source
	}
	return node.Key()
}

func describe(node Node) string {
	switch v := node.(type) {
	case Field:
		return "a field"
	case Relation:
		return "a relation"
	case Filtered:
		if len(v.Where) > 0 {
			return "a filtered relation"
		}
		return "an alias"
	case PluginNode:
		return fmt.Sprintf("plugin %T", v.Plugin)
	}
	return fmt.Sprintf("%T", node)
}

// Fold merges a sibling list into its canonical form. principal is bound
// into every plugin so that nested specs depending on the request resolve.
func Fold(s Spec, principal any) (*Normalized, error) {
	n := newNormalized()
	if err := n.fold(s, principal, false); err != nil {
		return nil, err
	}
	return n, nil
}

// fold adds s to n. Hoisted declarations come from a plugin's nested spec:
// they widen what is fetched but never own an output key.
func (n *Normalized) fold(s Spec, principal any, hoisted bool) error {
	for _, node := range s {
		if node == nil {
			continue
		}
		if !hoisted {
			dup, err := n.declare(node)
			if err != nil {
				return err
			}
			if dup {
				continue
			}
		}

		switch v := node.(type) {
		case Field:
			if err := n.addField(string(v)); err != nil {
				return err
			}

		case Relation:
			c, err := n.child(v.Name)
			if err != nil {
				return err
			}
			if err := c.fold(v.Spec, principal, hoisted); err != nil {
				return err
			}

		case Filtered:
			if err := v.validate(); err != nil {
				return err
			}
			switch {
			case len(v.Where) > 0:
				if err := n.setOverride(v.OutputKey, v); err != nil {
					return err
				}
			case v.nested:
				c, err := n.child(v.Source)
				if err != nil {
					return err
				}
				if err := c.fold(v.Spec, principal, hoisted); err != nil {
					return err
				}
			default:
				if err := n.addField(v.Source); err != nil {
					return err
				}
			}

		case PluginNode:
			if v.Plugin == nil {
				return fmt.Errorf("%w: key %q has no plugin", ErrConfig, v.OutputKey)
			}
			if o, ok := n.override[v.OutputKey]; ok {
				if op, same := o.(PluginNode); same && samePlugin(op.Plugin, v.Plugin) {
					continue
				}
			}
			if err := n.setOverride(v.OutputKey, v); err != nil {
				return err
			}
			b := Bind(v.Plugin, v.OutputKey, principal)
			n.bound[v.OutputKey] = b
			if nested := b.NestedSpec(); len(nested) > 0 {
				if err := n.fold(nested, principal, true); err != nil {
					return err
				}
			}

		default:
			return fmt.Errorf("%w: unsupported declaration %T", ErrConfig, node)
		}
	}
	return nil
}

func (n *Normalized) setOverride(key string, node Node) error {
	if prev, ok := n.override[key]; ok {
		return fmt.Errorf("%w: key %q is declared as %s and as %s", ErrConfig, key, describe(prev), describe(node))
	}
	if _, filtered := node.(Filtered); filtered {
		if _, ok := n.children[key]; ok {
			return fmt.Errorf("%w: %q is both a relation and a filtered relation", ErrConfig, key)
		}
		for _, f := range n.fields {
			if f == key {
				return fmt.Errorf("%w: %q is both a field and a filtered relation", ErrConfig, key)
			}
		}
	}
	n.override[key] = node
	n.addKey(key)
	return nil
}

// Combine turns a normalized level back into a Spec: plain fields first,
// then one entry per relation or override key.
func Combine(n *Normalized) Spec {
	if len(n.fields)+len(n.keys) == 0 {
		return nil
	}
	out := make(Spec, 0, len(n.fields)+len(n.keys))
	for _, f := range n.fields {
		out = append(out, Field(f))
	}
	for _, k := range n.keys {
		if o, ok := n.override[k]; ok {
			out = append(out, o)
			continue
		}
		out = append(out, Relation{Name: k, Spec: Combine(n.children[k])})
	}
	return out
}

// Normalize merges duplicate declarations of s into one per key.
func Normalize(s Spec, principal any) (Spec, error) {
	n, err := Fold(s, principal)
	if err != nil {
		return nil, err
	}
	return Combine(n), nil
}
