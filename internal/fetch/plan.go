package fetch

import (
	"fmt"
	"reflect"
	"strings"

	"serialspec/internal/metadata"
)

// WhereClause restricts the rows of a plan. Field may be a dotted path
// through relations, e.g. "classes.name".
type WhereClause struct {
	Field    string
	Operator string
	Value    any
}

type OrderClause struct {
	Field string
	Desc  bool
}

// Join fetches a to-one relation in the same query as its parent.
type Join struct {
	Key      string
	Accessor *metadata.Accessor
	Plan     *Plan
}

// Prefetch fetches a relation in one extra query per plan level, for all
// parents at once, and attaches the results under Attach.
type Prefetch struct {
	Attach   string
	Accessor *metadata.Accessor
	Plan     *Plan
}

// Annotation adds a computed count of related rows under Name.
type Annotation struct {
	Name     string
	Accessor *metadata.Accessor
	Where    []WhereClause
}

// Plan describes which columns and relations of an entity to load. Plans are
// immutable: every method returns a modified copy, so a plan can be shared
// between requests and extended by plugins without affecting other users.
//
// Errors are sticky. The first invalid call is remembered and returned by Err;
// later calls return the plan unchanged.
type Plan struct {
	reg         *metadata.Registry
	entity      *metadata.Entity
	columns     []string
	joins       []*Join
	prefetches  []*Prefetch
	annotations []*Annotation
	where       []WhereClause
	order       []OrderClause
	distinct    bool
	limit       int
	err         error
}

// From starts an empty plan over the named entity. Only the primary key is
// selected until Only adds more columns.
func From(reg *metadata.Registry, entity string) *Plan {
	p := &Plan{reg: reg}
	if reg == nil {
		p.err = fmt.Errorf("%w: no registry", ErrInvalidPlan)
		return p
	}
	p.entity = reg.GetEntity(entity)
	if p.entity == nil {
		p.err = fmt.Errorf("%w: unknown entity %q", ErrInvalidPlan, entity)
	}
	return p
}

func (p *Plan) clone() *Plan {
	c := *p
	c.columns = append([]string(nil), p.columns...)
	c.joins = append([]*Join(nil), p.joins...)
	c.prefetches = append([]*Prefetch(nil), p.prefetches...)
	c.annotations = append([]*Annotation(nil), p.annotations...)
	c.where = append([]WhereClause(nil), p.where...)
	c.order = append([]OrderClause(nil), p.order...)
	return &c
}

func (p *Plan) fail(err error) *Plan {
	c := p.clone()
	c.err = err
	return c
}

func (p *Plan) Err() error                  { return p.err }
func (p *Plan) Entity() *metadata.Entity    { return p.entity }
func (p *Plan) Registry() *metadata.Registry { return p.reg }
func (p *Plan) Columns() []string           { return append([]string(nil), p.columns...) }
func (p *Plan) Joins() []*Join              { return append([]*Join(nil), p.joins...) }
func (p *Plan) Prefetches() []*Prefetch     { return append([]*Prefetch(nil), p.prefetches...) }
func (p *Plan) Annotations() []*Annotation  { return append([]*Annotation(nil), p.annotations...) }
func (p *Plan) Filters() []WhereClause      { return append([]WhereClause(nil), p.where...) }
func (p *Plan) IsDistinct() bool            { return p.distinct }

// Only adds columns to the selection. Calls accumulate.
func (p *Plan) Only(cols ...string) *Plan {
	if p.err != nil {
		return p
	}
	c := p.clone()
	for _, col := range cols {
		if !p.entity.HasField(col) {
			return p.fail(fmt.Errorf("%w: %s has no field %q", ErrInvalidPlan, p.entity.Name, col))
		}
		if !contains(c.columns, col) {
			c.columns = append(c.columns, col)
		}
	}
	return c
}

// Target returns an empty plan over the entity reached through key.
func (p *Plan) Target(key string) *Plan {
	if p.err != nil {
		return p
	}
	acc, err := p.reg.Accessor(p.entity.Name, key)
	if err != nil {
		return &Plan{reg: p.reg, err: fmt.Errorf("%w: %w", ErrInvalidPlan, err)}
	}
	return From(p.reg, acc.To.Name)
}

func (p *Plan) resolve(key string, sub *Plan) (*metadata.Accessor, *Plan, error) {
	acc, err := p.reg.Accessor(p.entity.Name, key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if sub == nil {
		sub = From(p.reg, acc.To.Name)
	}
	if sub.err != nil {
		return nil, nil, sub.err
	}
	if sub.entity != acc.To {
		return nil, nil, fmt.Errorf("%w: %s.%s reaches %s, not %s",
			ErrInvalidPlan, p.entity.Name, key, acc.To.Name, sub.entity.Name)
	}
	return acc, sub, nil
}

// Join loads the to-one relation key in the parent's query. A nil sub plan
// selects only the related primary key.
func (p *Plan) Join(key string, sub *Plan) *Plan {
	if p.err != nil {
		return p
	}
	acc, sub, err := p.resolve(key, sub)
	if err != nil {
		return p.fail(err)
	}
	if !acc.ToOne() {
		return p.fail(fmt.Errorf("%w: %s.%s is to-many and cannot be joined", ErrInvalidPlan, p.entity.Name, key))
	}
	if len(sub.where) > 0 || sub.limit > 0 {
		return p.fail(fmt.Errorf("%w: joined relation %s.%s cannot be filtered", ErrInvalidPlan, p.entity.Name, key))
	}
	return p.attach(key, acc, sub, true)
}

// Prefetch loads relation key for all parent rows in one extra query and
// attaches the result under attach, or under key when attach is empty.
func (p *Plan) Prefetch(key, attach string, sub *Plan) *Plan {
	if p.err != nil {
		return p
	}
	acc, sub, err := p.resolve(key, sub)
	if err != nil {
		return p.fail(err)
	}
	if attach == "" {
		attach = key
	}
	if sub.limit > 0 {
		return p.fail(fmt.Errorf("%w: prefetch %s cannot be limited", ErrInvalidPlan, attach))
	}
	return p.attach(attach, acc, sub, false)
}

// attach loads acc under attach. When something is already attached there,
// sub is merged into it and the existing join or prefetch is kept.
func (p *Plan) attach(attach string, acc *metadata.Accessor, sub *Plan, join bool) *Plan {
	c := p.clone()
	for i, j := range c.joins {
		if j.Key != attach {
			continue
		}
		merged, err := p.mergeAt(attach, j.Accessor, j.Plan, acc, sub)
		if err != nil {
			return p.fail(err)
		}
		c.joins[i] = &Join{Key: j.Key, Accessor: j.Accessor, Plan: merged}
		return c
	}
	for i, pf := range c.prefetches {
		if pf.Attach != attach {
			continue
		}
		merged, err := p.mergeAt(attach, pf.Accessor, pf.Plan, acc, sub)
		if err != nil {
			return p.fail(err)
		}
		c.prefetches[i] = &Prefetch{Attach: pf.Attach, Accessor: pf.Accessor, Plan: merged}
		return c
	}
	if join {
		c.joins = append(c.joins, &Join{Key: attach, Accessor: acc, Plan: sub})
	} else {
		c.prefetches = append(c.prefetches, &Prefetch{Attach: attach, Accessor: acc, Plan: sub})
	}
	return c
}

func (p *Plan) mergeAt(attach string, have *metadata.Accessor, prev *Plan, acc *metadata.Accessor, sub *Plan) (*Plan, error) {
	if have != acc {
		return nil, fmt.Errorf("%w: %s.%s is attached through %s and %s",
			ErrInvalidPlan, p.entity.Name, attach, have.Key, acc.Key)
	}
	merged := prev.merge(sub)
	if merged.err != nil {
		return nil, fmt.Errorf("%w (under %s.%s)", merged.err, p.entity.Name, attach)
	}
	return merged, nil
}

// merge widens p by everything o loads. Both must select the same rows, so
// their filters and orders have to agree.
func (p *Plan) merge(o *Plan) *Plan {
	if p.err != nil {
		return p
	}
	if o.err != nil {
		return p.fail(o.err)
	}
	if p.entity != o.entity {
		return p.fail(fmt.Errorf("%w: cannot merge a plan over %s into %s", ErrInvalidPlan, o.entity.Name, p.entity.Name))
	}
	if !sameClauses(p.where, o.where) || p.limit != o.limit {
		return p.fail(fmt.Errorf("%w: %s is fetched twice with different filters", ErrInvalidPlan, p.entity.Name))
	}
	c := p.Only(o.columns...)
	for _, j := range o.joins {
		c = c.Join(j.Key, j.Plan)
	}
	for _, pf := range o.prefetches {
		c = c.Prefetch(pf.Accessor.Key, pf.Attach, pf.Plan)
	}
	for _, a := range o.annotations {
		c = c.Annotate(a.Name, a.Accessor.Key, a.Where...)
	}
	if c.err != nil {
		return c
	}
	if o.distinct {
		c = c.Distinct()
	}
	switch {
	case len(o.order) == 0:
	case len(c.order) == 0:
		c = c.clone()
		c.order = append(c.order, o.order...)
	case !reflect.DeepEqual(c.order, o.order):
		return p.fail(fmt.Errorf("%w: %s is fetched twice with different orders", ErrInvalidPlan, p.entity.Name))
	}
	return c
}

func sameClauses(a, b []WhereClause) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Annotate adds the number of rows reachable through key, optionally
// restricted by where, as a computed column called name.
func (p *Plan) Annotate(name, key string, where ...WhereClause) *Plan {
	if p.err != nil {
		return p
	}
	if p.entity.HasField(name) {
		return p.fail(fmt.Errorf("%w: annotation %s shadows a field of %s", ErrInvalidPlan, name, p.entity.Name))
	}
	acc, err := p.reg.Accessor(p.entity.Name, key)
	if err != nil {
		return p.fail(fmt.Errorf("%w: %w", ErrInvalidPlan, err))
	}
	for _, w := range where {
		if strings.Contains(w.Field, ".") || !acc.To.HasField(w.Field) {
			return p.fail(fmt.Errorf("%w: annotation %s cannot filter on %q", ErrInvalidPlan, name, w.Field))
		}
		if err := checkOperator(w.Operator); err != nil {
			return p.fail(err)
		}
	}
	for _, a := range p.annotations {
		if a.Name != name {
			continue
		}
		if a.Accessor != acc || !sameClauses(a.Where, where) {
			return p.fail(fmt.Errorf("%w: annotation %s is defined twice differently", ErrInvalidPlan, name))
		}
		return p
	}
	c := p.clone()
	c.annotations = append(c.annotations, &Annotation{Name: name, Accessor: acc, Where: where})
	return c
}

// Where adds row restrictions. Clauses accumulate and are ANDed.
func (p *Plan) Where(clauses ...WhereClause) *Plan {
	if p.err != nil {
		return p
	}
	for _, w := range clauses {
		if _, err := p.resolvePath(w.Field); err != nil {
			return p.fail(err)
		}
		if err := checkOperator(w.Operator); err != nil {
			return p.fail(err)
		}
	}
	c := p.clone()
	c.where = append(c.where, clauses...)
	return c
}

// Distinct collapses duplicate rows introduced by to-many filter paths.
func (p *Plan) Distinct() *Plan {
	if p.err != nil {
		return p
	}
	c := p.clone()
	c.distinct = true
	return c
}

func (p *Plan) OrderBy(field string, desc bool) *Plan {
	if p.err != nil {
		return p
	}
	if !p.entity.HasField(field) {
		return p.fail(fmt.Errorf("%w: cannot order %s by %q", ErrInvalidPlan, p.entity.Name, field))
	}
	c := p.clone()
	c.order = append(c.order, OrderClause{Field: field, Desc: desc})
	return c
}

func (p *Plan) Limit(n int) *Plan {
	if p.err != nil {
		return p
	}
	c := p.clone()
	c.limit = n
	return c
}

// Accessor resolves a relation key of the plan's entity.
func (p *Plan) Accessor(key string) (*metadata.Accessor, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.reg.Accessor(p.entity.Name, key)
}

// Child returns the plan attached under attach, by join or prefetch.
func (p *Plan) Child(attach string) (*Plan, bool) {
	for _, j := range p.joins {
		if j.Key == attach {
			return j.Plan, true
		}
	}
	for _, pf := range p.prefetches {
		if pf.Attach == attach {
			return pf.Plan, true
		}
	}
	return nil, false
}

// Depth is the number of relation levels below this plan.
func (p *Plan) Depth() int {
	depth := 0
	for _, j := range p.joins {
		depth = max(depth, 1+j.Plan.Depth())
	}
	for _, pf := range p.prefetches {
		depth = max(depth, 1+pf.Plan.Depth())
	}
	return depth
}

// pathStep is one relation hop of a filter path.
type pathStep struct {
	Accessor *metadata.Accessor
}

type resolvedPath struct {
	steps []pathStep
	field string
	toMany bool
}

func (p *Plan) resolvePath(path string) (*resolvedPath, error) {
	parts := strings.Split(path, ".")
	entity := p.entity
	rp := &resolvedPath{field: parts[len(parts)-1]}
	for _, key := range parts[:len(parts)-1] {
		acc, err := p.reg.Accessor(entity.Name, key)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %w", ErrInvalidPlan, path, err)
		}
		rp.steps = append(rp.steps, pathStep{Accessor: acc})
		if !acc.ToOne() {
			rp.toMany = true
		}
		entity = acc.To
	}
	if !entity.HasField(rp.field) {
		return nil, fmt.Errorf("%w: filter %q: %s has no field %q", ErrInvalidPlan, path, entity.Name, rp.field)
	}
	return rp, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
