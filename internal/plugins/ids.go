package plugins

import (
	"fmt"

	"github.com/google/uuid"

	"serialspec/internal/fetch"
	"serialspec/internal/spec"
)

// IDs outputs the stringified primary keys of the rows reachable through a
// relation. Only the keys are loaded, in one batch for all parents.
type IDs struct {
	Relation string
}

// IDList lists the ids of relation. A to-one relation yields a single id or nil.
func IDList(relation string) *IDs {
	return &IDs{Relation: relation}
}

func (p *IDs) attr(b spec.Binding) string {
	return "_" + b.Key + "_ids"
}

func (p *IDs) ModifyFetch(b spec.Binding, plan *fetch.Plan) (*fetch.Plan, error) {
	if _, err := plan.Accessor(p.Relation); err != nil {
		return nil, err
	}
	return plan.Prefetch(p.Relation, p.attr(b), plan.Target(p.Relation)), nil
}

func (p *IDs) Value(b spec.Binding, rec map[string]any) (any, error) {
	if v, ok := rec[p.attr(b)]; ok {
		switch related := v.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			return soleID(related)
		case []map[string]any:
			ids := make([]string, 0, len(related))
			for _, r := range related {
				id, err := soleID(r)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			return ids, nil
		}
		return nil, fmt.Errorf("%w: %s holds %T", spec.ErrPluginContract, p.attr(b), v)
	}
	return nil, fmt.Errorf("%w: %s was not loaded for %s", spec.ErrPluginContract, p.Relation, b.Key)
}

// soleID reads the only column of an id-only row.
func soleID(row map[string]any) (string, error) {
	if len(row) != 1 {
		return "", fmt.Errorf("%w: id row has %d columns", spec.ErrPluginContract, len(row))
	}
	for _, v := range row {
		return StringID(v), nil
	}
	return "", nil
}

// StringID renders an identifier for transport. UUIDs come out in canonical
// lowercase form whatever the driver returned.
func StringID(v any) string {
	switch id := v.(type) {
	case string:
		if u, err := uuid.Parse(id); err == nil {
			return u.String()
		}
		return id
	case [16]byte:
		return uuid.UUID(id).String()
	case []byte:
		if u, err := uuid.FromBytes(id); err == nil {
			return u.String()
		}
		return string(id)
	}
	return fmt.Sprint(v)
}
