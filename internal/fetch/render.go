package fetch

import (
	"fmt"
	"strings"

	"serialspec/internal/metadata"
	"serialspec/internal/store"
)

// linkColumn carries, on prefetched rows, the parent value each row belongs to.
const linkColumn = "_link"

// link restricts a prefetch query to the rows related to a set of parents.
type link struct {
	acc    *metadata.Accessor
	values []any
}

type selectBuilder struct {
	d        store.Dialect
	pb       store.ParamBuilder
	cols     []string
	from     []string
	where    []string
	distinct bool
	n        int
}

func (b *selectBuilder) alias(prefix string) string {
	b.n++
	return fmt.Sprintf("%s%d", prefix, b.n)
}

// selectedColumns is the primary key, the requested columns, and every column
// needed to link related rows or order results, without duplicates.
func selectedColumns(p *Plan) []string {
	cols := []string{p.entity.PrimaryKey.Field}
	add := func(c string) {
		if !contains(cols, c) {
			cols = append(cols, c)
		}
	}
	for _, c := range p.columns {
		add(c)
	}
	for _, j := range p.joins {
		add(j.Accessor.ParentColumn)
	}
	for _, pf := range p.prefetches {
		add(pf.Accessor.ParentColumn)
	}
	for _, o := range p.order {
		add(o.Field)
	}
	return cols
}

// render builds the single SELECT for a plan level: its own columns, every
// joined to-one relation below it, annotations, filters and, for prefetches,
// the link back to the parents.
func render(d store.Dialect, p *Plan, l *link) (string, []any) {
	b := &selectBuilder{d: d, pb: d.NewParamBuilder(), distinct: p.distinct}
	root := "t0"
	b.from = append(b.from, fmt.Sprintf("%s %s", p.entity.Table, root))
	b.addSelect(p, root, "")

	if l != nil {
		b.link(l, root)
	}

	if p.entity.SoftDelete {
		b.where = append(b.where, root+".deleted_at IS NULL")
	}
	for _, w := range p.where {
		b.where = append(b.where, b.filter(p, root, w))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(strings.Join(b.from, " "))
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}

	var order []string
	for _, o := range p.order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("%s.%s %s", root, o.Field, dir))
	}
	if len(order) == 0 {
		order = append(order, root+"."+p.entity.PrimaryKey.Field)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(order, ", "))

	if p.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.pb.Add(p.limit))
	}
	return sb.String(), b.pb.Params()
}

// link selects the parent value of each row as linkColumn and keeps only rows
// of the given parents.
func (b *selectBuilder) link(l *link, root string) {
	column := root + "." + l.acc.ChildColumn
	if l.acc.ViaJoinTable() {
		ja := b.alias("j")
		b.from = append(b.from, fmt.Sprintf("INNER JOIN %s %s ON %s.%s = %s",
			l.acc.JoinTable, ja, ja, l.acc.JoinChildCol, column))
		column = ja + "." + l.acc.JoinParentCol
	}
	b.cols = append(b.cols, column+" AS "+b.d.Alias(linkColumn))
	b.where = append(b.where, b.d.In(column, b.pb, l.values))
}

func (b *selectBuilder) addSelect(p *Plan, alias, path string) {
	for _, c := range selectedColumns(p) {
		b.cols = append(b.cols, fmt.Sprintf("%s.%s AS %s", alias, c, b.d.Alias(path+c)))
	}
	for _, a := range p.annotations {
		b.cols = append(b.cols, fmt.Sprintf("%s AS %s", b.count(a, alias), b.d.Alias(path+a.Name)))
	}
	for _, j := range p.joins {
		ja := b.alias("t")
		on := fmt.Sprintf("%s.%s = %s.%s", ja, j.Accessor.ChildColumn, alias, j.Accessor.ParentColumn)
		if j.Accessor.To.SoftDelete {
			on += " AND " + ja + ".deleted_at IS NULL"
		}
		b.from = append(b.from, fmt.Sprintf("LEFT JOIN %s %s ON %s", j.Accessor.To.Table, ja, on))
		b.addSelect(j.Plan, ja, path+j.Key+".")
	}
}

// count renders a correlated subquery counting the rows an annotation reaches.
func (b *selectBuilder) count(a *Annotation, alias string) string {
	acc := a.Accessor
	ca := b.alias("a")
	var from, cond string
	if acc.ViaJoinTable() {
		cj := ca + "j"
		from = fmt.Sprintf("%s %s INNER JOIN %s %s ON %s.%s = %s.%s",
			acc.JoinTable, cj, acc.To.Table, ca, ca, acc.ChildColumn, cj, acc.JoinChildCol)
		cond = fmt.Sprintf("%s.%s = %s.%s", cj, acc.JoinParentCol, alias, acc.ParentColumn)
	} else {
		from = fmt.Sprintf("%s %s", acc.To.Table, ca)
		cond = fmt.Sprintf("%s.%s = %s.%s", ca, acc.ChildColumn, alias, acc.ParentColumn)
	}
	conds := []string{cond}
	if acc.To.SoftDelete {
		conds = append(conds, ca+".deleted_at IS NULL")
	}
	for _, w := range a.Where {
		conds = append(conds, buildWhereClause(b.d, ca+"."+w.Field, w, b.pb))
	}
	return b.d.CountRows(from, conds)
}

// filter renders one where clause, joining through the relations of a dotted
// path. Paths crossing a to-many relation make the query DISTINCT.
func (b *selectBuilder) filter(p *Plan, root string, w WhereClause) string {
	rp, err := p.resolvePath(w.Field)
	if err != nil {
		// Where validated the path already.
		return "1=0"
	}
	alias := root
	for _, step := range rp.steps {
		acc := step.Accessor
		next := b.alias("w")
		if acc.ViaJoinTable() {
			nj := next + "j"
			b.from = append(b.from,
				fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.%s", acc.JoinTable, nj, nj, acc.JoinParentCol, alias, acc.ParentColumn),
				fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.%s", acc.To.Table, next, next, acc.ChildColumn, nj, acc.JoinChildCol))
		} else {
			b.from = append(b.from,
				fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.%s", acc.To.Table, next, next, acc.ChildColumn, alias, acc.ParentColumn))
		}
		alias = next
	}
	if rp.toMany {
		b.distinct = true
	}
	return buildWhereClause(b.d, alias+"."+rp.field, w, b.pb)
}
