package metadata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownRelation is returned when a key names no relation of an entity.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrAmbiguousAccessor is returned when two relations expose the same
	// accessor key on one entity, or an accessor shadows a field.
	ErrAmbiguousAccessor = errors.New("ambiguous relation accessor")
)

// Registry holds entity and relation metadata. It is replaced wholesale by
// Load and read concurrently by request handlers.
type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string][]*Relation // keyed by source entity name
	relationsByName   map[string]*Relation   // keyed by relation name
	accessors         map[string]map[string]*Accessor
	accessorOrder     map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string][]*Relation),
		relationsByName:   make(map[string]*Relation),
		accessors:         make(map[string]map[string]*Accessor),
		accessorOrder:     make(map[string][]string),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities ordered by name.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities
}

// GetRelation returns a relation by name, or nil.
func (r *Registry) GetRelation(name string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsByName[name]
}

// GetRelationsForSource returns all relations where source matches the given entity.
func (r *Registry) GetRelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// AllRelations returns all registered relations ordered by name.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relations := make([]*Relation, 0, len(r.relationsByName))
	for _, rel := range r.relationsByName {
		relations = append(relations, rel)
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].Name < relations[j].Name })
	return relations
}

// Accessor resolves key on the named entity to the relation it reaches.
func (r *Registry) Accessor(entityName, key string) (*Accessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if acc := r.accessors[entityName][key]; acc != nil {
		return acc, nil
	}
	return nil, fmt.Errorf("%w: %s has no relation %q", ErrUnknownRelation, entityName, key)
}

// HasAccessor reports whether key names a relation of the entity.
func (r *Registry) HasAccessor(entityName, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessors[entityName][key] != nil
}

// Accessors returns every accessor of an entity in registration order.
func (r *Registry) Accessors(entityName string) []*Accessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.accessorOrder[entityName]
	out := make([]*Accessor, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.accessors[entityName][k])
	}
	return out
}

// Load replaces all entities and relations in the registry. Relations whose
// accessor keys collide on one entity are rejected and the registry is left
// untouched.
func (r *Registry) Load(entities []*Entity, relations []*Relation) error {
	byName := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		byName[e.Name] = e
	}

	accessors := make(map[string]map[string]*Accessor)
	order := make(map[string][]string)
	add := func(acc *Accessor) error {
		if acc == nil {
			return nil
		}
		name := acc.From.Name
		if acc.From.HasField(acc.Key) {
			return fmt.Errorf("%w: %s.%s is both a field and a relation", ErrAmbiguousAccessor, name, acc.Key)
		}
		if prev, ok := accessors[name][acc.Key]; ok {
			return fmt.Errorf("%w: %s.%s is reachable through %s and %s",
				ErrAmbiguousAccessor, name, acc.Key, prev.Relation.Name, acc.Relation.Name)
		}
		if accessors[name] == nil {
			accessors[name] = make(map[string]*Accessor)
		}
		accessors[name][acc.Key] = acc
		order[name] = append(order[name], acc.Key)
		return nil
	}

	for _, rel := range relations {
		source, target := byName[rel.Source], byName[rel.Target]
		if source == nil || target == nil {
			return fmt.Errorf("relation %s: unknown entity %s or %s", rel.Name, rel.Source, rel.Target)
		}
		fromSource, fromTarget := accessorsFor(rel, source, target)
		if err := add(fromSource); err != nil {
			return err
		}
		if err := add(fromTarget); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = byName
	r.relationsBySource = make(map[string][]*Relation)
	r.relationsByName = make(map[string]*Relation, len(relations))
	for _, rel := range relations {
		r.relationsByName[rel.Name] = rel
		r.relationsBySource[rel.Source] = append(r.relationsBySource[rel.Source], rel)
	}
	r.accessors = accessors
	r.accessorOrder = order
	return nil
}
