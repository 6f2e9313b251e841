package fetch

import (
	"context"
	"fmt"
	"strings"

	"serialspec/internal/store"
)

// Executor runs plans against a database. Each plan level costs one query:
// the root query carries every joined to-one relation, and each prefetch
// loads its rows for all parents at once.
type Executor struct {
	q       store.Querier
	dialect store.Dialect
}

func NewExecutor(q store.Querier, dialect store.Dialect) *Executor {
	return &Executor{q: q, dialect: dialect}
}

// Execute loads the records described by the plan. Joined relations appear as
// nested maps (nil when absent), prefetched to-many relations as
// []map[string]any, never nil.
func (e *Executor) Execute(ctx context.Context, p *Plan) ([]map[string]any, error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	sqlStr, args := render(e.dialect, p, nil)
	rows, err := store.QueryRows(ctx, e.q, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.entity.Name, e.dialect.MapError(err))
	}
	records, err := e.decode(p, rows)
	if err != nil {
		return nil, err
	}
	if err := e.resolve(ctx, p, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Get loads the single record whose primary key equals id.
func (e *Executor) Get(ctx context.Context, p *Plan, id any) (map[string]any, error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	p = p.Where(WhereClause{Field: p.entity.PrimaryKey.Field, Operator: "eq", Value: id})
	records, err := e.Execute(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records[0], nil
}

func (e *Executor) decode(p *Plan, rows []map[string]any) ([]map[string]any, error) {
	records := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := nest(row)
		if err := e.settleJoins(p, rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// nest turns "school.lea.name" style keys into nested maps.
func nest(row map[string]any) map[string]any {
	rec := make(map[string]any, len(row))
	for k, v := range row {
		if !strings.Contains(k, ".") {
			rec[k] = v
			continue
		}
		parts := strings.Split(k, ".")
		m := rec
		for _, part := range parts[:len(parts)-1] {
			child, ok := m[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				m[part] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = v
	}
	return rec
}

// settleJoins replaces joined maps that matched no row with nil and fixes
// boolean columns at every level.
func (e *Executor) settleJoins(p *Plan, rec map[string]any) error {
	e.dialect.DecodeBools(rec, p.entity.BooleanFields())
	for _, j := range p.joins {
		child, _ := rec[j.Key].(map[string]any)
		if child == nil || child[j.Accessor.To.PrimaryKey.Field] == nil {
			if j.Accessor.ForeignKeyOwner && rec[j.Accessor.ParentColumn] != nil && !j.Accessor.To.SoftDelete {
				return fmt.Errorf("%w: %s %v links %s to missing %s %v", ErrDataInconsistency,
					p.entity.Name, rec[p.entity.PrimaryKey.Field], j.Key, j.Accessor.To.Name, rec[j.Accessor.ParentColumn])
			}
			rec[j.Key] = nil
			continue
		}
		if err := e.settleJoins(j.Plan, child); err != nil {
			return err
		}
	}
	return nil
}

// resolve runs the prefetches of a plan level, including those hanging below
// joined relations, over the given records.
func (e *Executor) resolve(ctx context.Context, p *Plan, records []map[string]any) error {
	if len(records) == 0 {
		for _, pf := range p.prefetches {
			attachEmpty(pf, records)
		}
		return nil
	}
	for _, j := range p.joins {
		if !hasPrefetch(j.Plan) {
			continue
		}
		var joined []map[string]any
		for _, rec := range records {
			if child, ok := rec[j.Key].(map[string]any); ok && child != nil {
				joined = append(joined, child)
			}
		}
		if err := e.resolve(ctx, j.Plan, joined); err != nil {
			return err
		}
	}
	for _, pf := range p.prefetches {
		if err := e.prefetch(ctx, pf, records); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefetch(p *Plan) bool {
	if len(p.prefetches) > 0 {
		return true
	}
	for _, j := range p.joins {
		if hasPrefetch(j.Plan) {
			return true
		}
	}
	return false
}

func linkKey(v any) string {
	return fmt.Sprint(v)
}

func (e *Executor) prefetch(ctx context.Context, pf *Prefetch, parents []map[string]any) error {
	acc := pf.Accessor
	values := collectValues(parents, acc.ParentColumn)
	if len(values) == 0 {
		attachEmpty(pf, parents)
		return nil
	}

	sqlStr, args := render(e.dialect, pf.Plan, &link{acc: acc, values: values})
	rows, err := store.QueryRows(ctx, e.q, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("prefetch %s.%s: %w", acc.From.Name, pf.Attach, e.dialect.MapError(err))
	}
	children, err := e.decode(pf.Plan, rows)
	if err != nil {
		return err
	}
	if err := e.resolve(ctx, pf.Plan, children); err != nil {
		return err
	}

	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[linkKey(v)] = true
	}
	grouped := make(map[string][]map[string]any)
	for _, child := range children {
		key := linkKey(child[linkColumn])
		delete(child, linkColumn)
		if !wanted[key] {
			return fmt.Errorf("%w: %s %v links to unknown %s %s", ErrDataInconsistency,
				acc.To.Name, child[acc.To.PrimaryKey.Field], acc.From.Name, key)
		}
		grouped[key] = append(grouped[key], child)
	}

	for _, parent := range parents {
		pv := parent[acc.ParentColumn]
		if !acc.ToOne() {
			list := grouped[linkKey(pv)]
			if list == nil {
				list = []map[string]any{}
			}
			parent[pf.Attach] = list
			continue
		}
		if pv == nil {
			parent[pf.Attach] = nil
			continue
		}
		matches := grouped[linkKey(pv)]
		switch {
		case len(matches) > 1:
			return fmt.Errorf("%w: %s %v has %d rows for to-one %s", ErrDataInconsistency,
				acc.From.Name, parent[acc.From.PrimaryKey.Field], len(matches), pf.Attach)
		case len(matches) == 1:
			parent[pf.Attach] = matches[0]
		case acc.ForeignKeyOwner && !acc.To.SoftDelete && len(pf.Plan.where) == 0:
			return fmt.Errorf("%w: %s %v links %s to missing %s %v", ErrDataInconsistency,
				acc.From.Name, parent[acc.From.PrimaryKey.Field], pf.Attach, acc.To.Name, pv)
		default:
			parent[pf.Attach] = nil
		}
	}
	return nil
}

func attachEmpty(pf *Prefetch, parents []map[string]any) {
	for _, parent := range parents {
		if pf.Accessor.ToOne() {
			parent[pf.Attach] = nil
		} else {
			parent[pf.Attach] = []map[string]any{}
		}
	}
}

// collectValues returns the distinct non-nil values of a column, in first-seen order.
func collectValues(rows []map[string]any, field string) []any {
	seen := make(map[string]bool, len(rows))
	var values []any
	for _, row := range rows {
		v := row[field]
		if v == nil {
			continue
		}
		key := linkKey(v)
		if !seen[key] {
			seen[key] = true
			values = append(values, v)
		}
	}
	return values
}
