package engine

import (
	"fmt"

	"serialspec/internal/metadata"
	"serialspec/internal/spec"
)

// projector maps one loaded record to the output of one declaration site.
type projector func(rec map[string]any) (map[string]any, error)

// step writes one declared key of the output.
type step func(out, rec map[string]any) error

// projector builds the projection of s over records of entity. It follows
// the declared spec, not the normalized one, so each site outputs only the
// keys it asked for even when siblings share a fetch.
func (c *compiler) projector(entity *metadata.Entity, s spec.Spec) (projector, error) {
	steps := make([]step, 0, len(s))
	for _, node := range s {
		st, err := c.step(entity, node)
		if err != nil {
			return nil, err
		}
		if st != nil {
			steps = append(steps, st)
		}
	}
	return func(rec map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(steps))
		for _, st := range steps {
			if err := st(out, rec); err != nil {
				return nil, err
			}
		}
		return out, nil
	}, nil
}

func (c *compiler) step(entity *metadata.Entity, node spec.Node) (step, error) {
	switch v := node.(type) {
	case nil:
		return nil, nil

	case spec.Field:
		name := string(v)
		return func(out, rec map[string]any) error {
			out[name] = rec[name]
			return nil
		}, nil

	case spec.Relation:
		return c.related(entity, v.Name, v.Name, v.Name, v.Spec)

	case spec.Filtered:
		if !v.HasSpec() {
			key, source := v.OutputKey, v.Source
			return func(out, rec map[string]any) error {
				out[key] = rec[source]
				return nil
			}, nil
		}
		attach := v.Source
		if len(v.Where) > 0 {
			attach = v.OutputKey
		}
		return c.related(entity, v.OutputKey, v.Source, attach, v.Spec)

	case spec.PluginNode:
		b := spec.Bind(v.Plugin, v.OutputKey, c.principal)
		key := v.OutputKey
		return func(out, rec map[string]any) error {
			val, err := b.Value(rec)
			if err != nil {
				return err
			}
			out[key] = val
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported declaration %T", spec.ErrConfig, node)
}

// related projects the relation source, loaded under attach, through the
// nested spec s and outputs it under key.
func (c *compiler) related(entity *metadata.Entity, key, source, attach string, s spec.Spec) (step, error) {
	acc, err := c.reg.Accessor(entity.Name, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", spec.ErrConfig, err)
	}
	sub, err := c.projector(acc.To, s)
	if err != nil {
		return nil, err
	}
	return func(out, rec map[string]any) error {
		loaded, ok := rec[attach]
		if !ok {
			return fmt.Errorf("%w: %s.%s was not loaded", spec.ErrConfig, entity.Name, attach)
		}
		switch related := loaded.(type) {
		case nil:
			out[key] = nil
		case map[string]any:
			v, err := sub(related)
			if err != nil {
				return err
			}
			out[key] = v
		case []map[string]any:
			list := make([]map[string]any, 0, len(related))
			for _, r := range related {
				v, err := sub(r)
				if err != nil {
					return err
				}
				list = append(list, v)
			}
			out[key] = list
		default:
			return fmt.Errorf("%w: %s.%s holds %T", spec.ErrConfig, entity.Name, attach, loaded)
		}
		return nil
	}, nil
}
