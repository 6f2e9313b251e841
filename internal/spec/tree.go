// Package spec holds the declarative serialization tree: which fields and
// related records a response contains, and under which keys.
package spec

import (
	"fmt"

	"serialspec/internal/fetch"
)

// Spec is an ordered list of declarations for one record.
type Spec []Node

// Node is one declaration: a Field, a Relation, a Filtered (or Aliased)
// relation or a PluginNode.
type Node interface {
	// Key is the output key the node projects to.
	Key() string
}

// Field copies one column of the record under its own name.
type Field string

func (f Field) Key() string { return string(f) }

// Fields is shorthand for a Spec of plain fields.
func Fields(names ...string) Spec {
	s := make(Spec, len(names))
	for i, n := range names {
		s[i] = Field(n)
	}
	return s
}

// Relation projects the related record(s) reached through Name using Spec.
type Relation struct {
	Name string
	Spec Spec
}

func (r Relation) Key() string { return r.Name }

// Rel declares a relation with the given nested declarations.
func Rel(name string, nodes ...Node) Relation {
	return Relation{Name: name, Spec: Spec(nodes)}
}

// Filtered maps output key OutputKey to the relation or field Source,
// optionally narrowing a to-many relation by Where. Without a nested spec it
// is a plain rename.
type Filtered struct {
	OutputKey string
	Source    string
	Where     []fetch.WhereClause
	Spec      Spec
	nested    bool
}

func (f Filtered) Key() string { return f.OutputKey }

// HasSpec reports whether the node projects nested declarations rather than
// renaming a plain value.
func (f Filtered) HasSpec() bool { return f.nested }

// Filter narrows the to-many relation key to rows matching where.
func Filter(key string, where []fetch.WhereClause, nodes ...Node) Filtered {
	return FilterAs(key, key, where, nodes...)
}

// FilterAs narrows the to-many relation source and outputs it under key.
func FilterAs(key, source string, where []fetch.WhereClause, nodes ...Node) Filtered {
	return Filtered{OutputKey: key, Source: source, Where: where, Spec: Spec(nodes), nested: len(nodes) > 0}
}

// Aliased outputs the field or relation source under key.
func Aliased(key, source string, nodes ...Node) Filtered {
	return Filtered{OutputKey: key, Source: source, Spec: Spec(nodes), nested: len(nodes) > 0}
}

func (f Filtered) validate() error {
	if len(f.Where) > 0 && !f.nested {
		return fmt.Errorf("%w: filtered %q needs both filters and a nested spec", ErrConfig, f.OutputKey)
	}
	if f.Source == "" {
		return fmt.Errorf("%w: filtered %q has no source", ErrConfig, f.OutputKey)
	}
	return nil
}

// PluginNode outputs the value computed by Plugin under OutputKey.
type PluginNode struct {
	OutputKey string
	Plugin    Plugin
}

func (p PluginNode) Key() string { return p.OutputKey }

// Use declares plugin p under key.
func Use(key string, p Plugin) PluginNode {
	return PluginNode{OutputKey: key, Plugin: p}
}

// Q builds a where clause from a "path.operator" key, e.g.
// Q("name.icontains", "cat") or Q("classes.name", "Math B").
func Q(key string, value any) fetch.WhereClause {
	field, op := fetch.ParseFilterKey(key)
	return fetch.WhereClause{Field: field, Operator: op, Value: value}
}
