// Package engine compiles serialization specs into fetch plans and
// projections, and serves declared endpoints over HTTP.
package engine

import (
	"fmt"

	"serialspec/internal/fetch"
	"serialspec/internal/metadata"
	"serialspec/internal/spec"
)

// Mode selects how to-one relations are loaded.
type Mode int

const (
	// Collection mode loads many parents; only forward one-to-one links are
	// joined.
	Collection Mode = iota
	// Single mode loads one object; every plugin-free to-one relation is
	// joined into its query.
	Single
)

type Options struct {
	Mode     Mode
	MaxDepth int // 0 means unbounded
}

// Compiled is a spec compiled against one entity for one request.
type Compiled struct {
	entity  *metadata.Entity
	plan    *fetch.Plan
	project projector
	prepare func(base *fetch.Plan) (*fetch.Plan, error)
}

type compiler struct {
	reg       *metadata.Registry
	principal any
}

// Compile checks declared against the registry and derives its fetch plan
// and projection. Every configuration error surfaces here, before any query.
func Compile(reg *metadata.Registry, entityName string, declared spec.Spec, principal any, opts Options) (*Compiled, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: no registry", spec.ErrConfig)
	}
	entity := reg.GetEntity(entityName)
	if entity == nil {
		return nil, fmt.Errorf("%w: unknown entity %q", spec.ErrConfig, entityName)
	}
	if len(declared) == 0 {
		return nil, fmt.Errorf("%w: no spec declared for %s", spec.ErrConfig, entityName)
	}

	expanded, err := newShorthand(reg).expand(entity, declared)
	if err != nil {
		return nil, err
	}
	normalized, err := spec.Fold(expanded, principal)
	if err != nil {
		return nil, err
	}

	pl := &planner{reg: reg, principal: principal, maxDepth: opts.MaxDepth}
	single := opts.Mode == Single
	prepare := func(base *fetch.Plan) (*fetch.Plan, error) {
		if base == nil {
			base = fetch.From(reg, entity.Name)
		}
		if err := base.Err(); err != nil {
			return nil, configError(err)
		}
		if base.Entity() != entity {
			return nil, fmt.Errorf("%w: spec for %s applied to a plan over %s", spec.ErrConfig, entity.Name, base.Entity().Name)
		}
		return pl.plan(base, normalized, single, 0)
	}

	plan, err := prepare(nil)
	if err != nil {
		return nil, err
	}

	c := &compiler{reg: reg, principal: principal}
	project, err := c.projector(entity, expanded)
	if err != nil {
		return nil, err
	}
	return &Compiled{entity: entity, plan: plan, project: project, prepare: prepare}, nil
}

// Plan is the fetch plan over an unrestricted base.
func (c *Compiled) Plan() *fetch.Plan { return c.plan }

// Prepare extends base, which may already carry filters, ordering and
// columns of its own, with everything the projection reads.
func (c *Compiled) Prepare(base *fetch.Plan) (*fetch.Plan, error) {
	return c.prepare(base)
}

// Project maps one loaded record to the declared output.
func (c *Compiled) Project(rec map[string]any) (map[string]any, error) {
	return c.project(rec)
}

// ProjectAll projects every record. Nothing is returned if any record fails.
func (c *Compiled) ProjectAll(records []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		v, err := c.project(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
