// Package plugins holds the built-in plugin variants: aggregate counts,
// existence checks, value transforms, required-field and method results,
// derived values over a nested spec, expressions and id lists.
package plugins

import (
	"fmt"

	"serialspec/internal/fetch"
	"serialspec/internal/spec"
)

// Count outputs the number of rows reachable through a relation.
type Count struct {
	Relation string
	Where    []fetch.WhereClause
}

// CountOf counts the rows of relation, optionally narrowed by where.
func CountOf(relation string, where ...fetch.WhereClause) *Count {
	return &Count{Relation: relation, Where: where}
}

func (c *Count) attr(b spec.Binding) string {
	if len(c.Where) > 0 {
		return "_" + b.Key + "_count"
	}
	return c.Relation + "_count"
}

func (c *Count) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	return p.Annotate(c.attr(b), c.Relation, c.Where...), nil
}

func (c *Count) Value(b spec.Binding, rec map[string]any) (any, error) {
	return toInt64(rec[c.attr(b)])
}

// ExistsOf outputs whether a relation reaches any row.
type ExistsOf struct {
	Count
}

// Exists reports whether relation has rows matching where.
func Exists(relation string, where ...fetch.WhereClause) *ExistsOf {
	return &ExistsOf{Count: Count{Relation: relation, Where: where}}
}

func (e *ExistsOf) Value(b spec.Binding, rec map[string]any) (any, error) {
	n, err := e.Count.Value(b, rec)
	if err != nil {
		return nil, err
	}
	return n.(int64) > 0, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: count is %T, not a number", spec.ErrPluginContract, v)
}

// Transformer outputs a column passed through Fn. The column is the
// plugin's own key unless Field names another one.
type Transformer struct {
	Field string
	Fn    func(any) (any, error)
}

// Transform loads the column named by the plugin key and outputs fn of it.
func Transform(fn func(any) (any, error)) *Transformer {
	return &Transformer{Fn: fn}
}

// TransformField loads field and outputs fn of it.
func TransformField(field string, fn func(any) (any, error)) *Transformer {
	return &Transformer{Field: field, Fn: fn}
}

func (t *Transformer) field(b spec.Binding) string {
	if t.Field != "" {
		return t.Field
	}
	return b.Key
}

func (t *Transformer) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	return p.Only(t.field(b)), nil
}

func (t *Transformer) Value(b spec.Binding, rec map[string]any) (any, error) {
	return t.Fn(rec[t.field(b)])
}

// Requirement outputs the column named by its key after making sure
// Fields are loaded alongside it.
type Requirement struct {
	Fields []string
}

// Requires loads fields in addition to the plugin key's own column.
func Requires(fields ...string) *Requirement {
	return &Requirement{Fields: fields}
}

func (r *Requirement) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	if p.Entity() != nil && p.Entity().HasField(b.Key) {
		p = p.Only(b.Key)
	}
	return p.Only(r.Fields...), nil
}

func (r *Requirement) Value(b spec.Binding, rec map[string]any) (any, error) {
	return rec[b.Key], nil
}

// MethodCall outputs the result of Fn over the record once Fields are loaded.
type MethodCall struct {
	Fn     func(rec map[string]any) (any, error)
	Fields []string
}

// Method computes a value from the record after loading fields.
func Method(fn func(rec map[string]any) (any, error), fields ...string) *MethodCall {
	return &MethodCall{Fn: fn, Fields: fields}
}

func (m *MethodCall) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	return p.Only(m.Fields...), nil
}

func (m *MethodCall) Value(b spec.Binding, rec map[string]any) (any, error) {
	return m.Fn(rec)
}

// DerivedValue outputs Fn over the record after Spec has been loaded on it.
type DerivedValue struct {
	Spec spec.Spec
	Fn   func(b spec.Binding, rec map[string]any) (any, error)
}

// Derived loads nested on the record and outputs fn of the record.
func Derived(nested spec.Spec, fn func(b spec.Binding, rec map[string]any) (any, error)) *DerivedValue {
	return &DerivedValue{Spec: nested, Fn: fn}
}

func (d *DerivedValue) NestedSpec(b spec.Binding) spec.Spec { return d.Spec }

func (d *DerivedValue) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	return p, nil
}

func (d *DerivedValue) Value(b spec.Binding, rec map[string]any) (any, error) {
	return d.Fn(b, rec)
}

// Record returns the related record under key, or nil.
func Record(rec map[string]any, key string) map[string]any {
	m, _ := rec[key].(map[string]any)
	return m
}

// Records returns the related records under key.
func Records(rec map[string]any, key string) []map[string]any {
	list, _ := rec[key].([]map[string]any)
	return list
}
