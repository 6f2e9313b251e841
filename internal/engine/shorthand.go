package engine

import (
	"errors"
	"fmt"

	"serialspec/internal/metadata"
	"serialspec/internal/plugins"
	"serialspec/internal/spec"
)

// shorthand rewrites relation names declared as plain fields into what they
// stand for: a to-many or reverse one-to-one relation becomes the list (or
// single) id of its related rows, a forward to-one relation becomes its link
// column renamed to the relation key.
type shorthand struct {
	reg *metadata.Registry
	ids map[string]*plugins.IDs
}

func newShorthand(reg *metadata.Registry) *shorthand {
	return &shorthand{reg: reg, ids: make(map[string]*plugins.IDs)}
}

// idList returns one IDList instance per relation so that repeated
// declarations of the same shorthand merge during normalization.
func (sh *shorthand) idList(entity *metadata.Entity, relation string) *plugins.IDs {
	k := entity.Name + "." + relation
	p, ok := sh.ids[k]
	if !ok {
		p = plugins.IDList(relation)
		sh.ids[k] = p
	}
	return p
}

func (sh *shorthand) accessor(entity *metadata.Entity, key string) (*metadata.Accessor, error) {
	acc, err := sh.reg.Accessor(entity.Name, key)
	if err != nil {
		if errors.Is(err, metadata.ErrUnknownRelation) {
			return nil, fmt.Errorf("%w: %s has no field or relation %q", spec.ErrConfig, entity.Name, key)
		}
		return nil, fmt.Errorf("%w: %w", spec.ErrConfig, err)
	}
	return acc, nil
}

// relationValue is the node a bare relation name expands to under key.
func (sh *shorthand) relationValue(entity *metadata.Entity, key string, acc *metadata.Accessor) spec.Node {
	if acc.ToOne() && acc.ForeignKeyOwner {
		return spec.Aliased(key, acc.ParentColumn)
	}
	return spec.Use(key, sh.idList(entity, acc.Key))
}

func (sh *shorthand) expand(entity *metadata.Entity, s spec.Spec) (spec.Spec, error) {
	out := make(spec.Spec, 0, len(s))
	for _, node := range s {
		switch v := node.(type) {
		case nil:
			continue

		case spec.Field:
			name := string(v)
			if entity.HasField(name) {
				out = append(out, v)
				continue
			}
			acc, err := sh.accessor(entity, name)
			if err != nil {
				return nil, err
			}
			out = append(out, sh.relationValue(entity, name, acc))

		case spec.Relation:
			acc, err := sh.accessor(entity, v.Name)
			if err != nil {
				return nil, err
			}
			nested, err := sh.expand(acc.To, v.Spec)
			if err != nil {
				return nil, err
			}
			out = append(out, spec.Relation{Name: v.Name, Spec: nested})

		case spec.Filtered:
			if !v.HasSpec() {
				if len(v.Where) > 0 || entity.HasField(v.Source) {
					out = append(out, v)
					continue
				}
				acc, err := sh.accessor(entity, v.Source)
				if err != nil {
					return nil, err
				}
				out = append(out, sh.relationValue(entity, v.OutputKey, acc))
				continue
			}
			acc, err := sh.accessor(entity, v.Source)
			if err != nil {
				return nil, err
			}
			nested, err := sh.expand(acc.To, v.Spec)
			if err != nil {
				return nil, err
			}
			out = append(out, spec.FilterAs(v.OutputKey, v.Source, v.Where, nested...))

		default:
			out = append(out, node)
		}
	}
	return out, nil
}
