package engine

import (
	"errors"
	"fmt"

	"serialspec/internal/fetch"
	"serialspec/internal/metadata"
	"serialspec/internal/spec"
)

// planner turns a normalized spec into fetch plan operations.
//
// Per relation key: a to-one relation is joined into the parent query when it
// is a forward one-to-one link, or when the plan loads a single object, and
// no plugin sits anywhere below it. Every other relation is prefetched in one
// batch query per level, planned in collection mode.
type planner struct {
	reg       *metadata.Registry
	principal any
	maxDepth  int
}

func (pl *planner) plan(p *fetch.Plan, n *spec.Normalized, single bool, depth int) (*fetch.Plan, error) {
	if pl.maxDepth > 0 && depth > pl.maxDepth {
		return nil, fmt.Errorf("%w: spec nests relations deeper than %d levels", spec.ErrConfig, pl.maxDepth)
	}
	entity := p.Entity()

	// Plugin nested specs are hoisted into n; check each on its own first so
	// that a bad one is reported against its plugin.
	for _, key := range n.Keys() {
		if b, ok := n.Plugin(key); ok {
			if err := pl.checkNested(entity, key, b); err != nil {
				return nil, err
			}
		}
	}

	var cols []string
	for _, f := range n.Fields() {
		if entity.HasField(f) {
			cols = append(cols, f)
			continue
		}
		// Only plugin nested specs reach here with relation names: shorthand
		// has already rewritten declared ones. Load the related ids.
		if !pl.reg.HasAccessor(entity.Name, f) {
			return nil, fmt.Errorf("%w: %s has no field or relation %q", spec.ErrConfig, entity.Name, f)
		}
		var err error
		if p, err = pl.relation(p, f, nil, single, depth); err != nil {
			return nil, err
		}
	}
	p = p.Only(cols...)

	for _, key := range n.Keys() {
		var err error
		if o, ok := n.Override(key); ok {
			switch v := o.(type) {
			case spec.PluginNode:
				p, err = pl.plugin(p, n, key)
			case spec.Filtered:
				p, err = pl.filtered(p, v, depth)
			default:
				err = fmt.Errorf("%w: cannot plan %T under %q", spec.ErrConfig, o, key)
			}
		} else {
			child, _ := n.Child(key)
			p, err = pl.relation(p, key, child, single, depth)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := p.Err(); err != nil {
		return nil, configError(err)
	}
	return p, nil
}

func (pl *planner) accessor(entity *metadata.Entity, key string) (*metadata.Accessor, error) {
	acc, err := pl.reg.Accessor(entity.Name, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", spec.ErrConfig, err)
	}
	return acc, nil
}

// relation plans key with the nested declarations child. A nil child loads
// only the related primary keys.
func (pl *planner) relation(p *fetch.Plan, key string, child *spec.Normalized, single bool, depth int) (*fetch.Plan, error) {
	acc, err := pl.accessor(p.Entity(), key)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child, _ = spec.Fold(nil, pl.principal)
	}

	join := acc.ToOne() && !child.HasPlugin() && (acc.OneToOneForward() || single)
	sub, err := pl.plan(fetch.From(pl.reg, acc.To.Name), child, single && join, depth+1)
	if err != nil {
		return nil, err
	}
	if join {
		return p.Join(key, sub), nil
	}
	return p.Prefetch(key, "", sub), nil
}

// filtered prefetches the rows of a to-many relation matching the predicate
// and attaches them under the output key.
func (pl *planner) filtered(p *fetch.Plan, f spec.Filtered, depth int) (*fetch.Plan, error) {
	acc, err := pl.accessor(p.Entity(), f.Source)
	if err != nil {
		return nil, err
	}
	if acc.ToOne() {
		return nil, fmt.Errorf("%w: filtered %q needs a to-many relation, %s.%s is to-one",
			spec.ErrConfig, f.OutputKey, p.Entity().Name, f.Source)
	}
	child, err := spec.Fold(f.Spec, pl.principal)
	if err != nil {
		return nil, err
	}
	sub := fetch.From(pl.reg, acc.To.Name).Where(f.Where...).Distinct()
	if err := sub.Err(); err != nil {
		return nil, configError(err)
	}
	if sub, err = pl.plan(sub, child, false, depth+1); err != nil {
		return nil, err
	}
	return p.Prefetch(f.Source, f.OutputKey, sub), nil
}

func (pl *planner) checkNested(entity *metadata.Entity, key string, b *spec.Bound) error {
	nested := b.NestedSpec()
	if len(nested) == 0 {
		return nil
	}
	check, err := spec.Fold(nested, pl.principal)
	if err == nil {
		_, err = pl.plan(fetch.From(pl.reg, entity.Name), check, false, 0)
	}
	if err != nil {
		if errors.Is(err, spec.ErrPluginContract) {
			return err
		}
		return fmt.Errorf("%w: nested spec of %q: %v", spec.ErrPluginContract, key, err)
	}
	return nil
}

// plugin lets the plugin bound under key extend the plan. Its nested spec has
// already been hoisted into n and checked.
func (pl *planner) plugin(p *fetch.Plan, n *spec.Normalized, key string) (*fetch.Plan, error) {
	b, ok := n.Plugin(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no bound plugin", spec.ErrPluginContract, key)
	}

	next, err := b.ModifyFetch(p)
	if err == nil && next == nil {
		err = fmt.Errorf("%w: %q returned no plan", spec.ErrPluginContract, key)
	}
	if err == nil {
		err = next.Err()
	}
	if err != nil {
		if errors.Is(err, spec.ErrConfig) || errors.Is(err, spec.ErrPluginContract) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: plugin %q: %w", spec.ErrPluginContract, key, err)
	}
	return next, nil
}

func configError(err error) error {
	if errors.Is(err, spec.ErrConfig) || errors.Is(err, spec.ErrPluginContract) {
		return err
	}
	return fmt.Errorf("%w: %w", spec.ErrConfig, err)
}
