package metadata

// Relation links two entities. Source is the "one" side of a one_to_one or
// one_to_many relation and the declaring side of a many_to_many relation.
//
// For one_to_one and one_to_many, the link column lives on Target (TargetKey)
// and points at SourceKey on Source. For many_to_many the link lives in
// JoinTable; Through names the entity backing the join table when it is a
// model of its own.
//
// Name identifies the relation; Key is the accessor on Source and defaults to
// Name, so two relations may expose the same key on different entities.
type Relation struct {
	Name          string `json:"name"`
	Key           string `json:"key,omitempty"`
	Type          string `json:"type"` // one_to_one, one_to_many, many_to_many
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceKey     string `json:"source_key,omitempty"`
	TargetKey     string `json:"target_key,omitempty"`
	InverseName   string `json:"inverse_name,omitempty"` // accessor on Target
	Nullable      bool   `json:"nullable,omitempty"`
	JoinTable     string `json:"join_table,omitempty"`
	SourceJoinKey string `json:"source_join_key,omitempty"`
	TargetJoinKey string `json:"target_join_key,omitempty"`
	Through       string `json:"through,omitempty"`
}

// SourceAccessor is the key under which Source reaches Target.
func (r *Relation) SourceAccessor() string {
	if r.Key != "" {
		return r.Key
	}
	return r.Name
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many"
}

func (r *Relation) IsOneToMany() bool {
	return r.Type == "one_to_many"
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == "one_to_one"
}

// Direction tells whether the accessing entity holds the link (Forward) or
// is pointed at by it (Reverse).
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Cardinality of the related side as seen from the accessing entity.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

func (c Cardinality) String() string {
	if c == Many {
		return "many"
	}
	return "one"
}

// Accessor is a relation seen from one of its two entities under one key.
// It carries everything needed to stitch related rows to their parents:
// ParentColumn is read from parent rows, ChildColumn from related rows, and
// for join-table accessors the join columns bridge the two.
type Accessor struct {
	Key         string
	Relation    *Relation
	Direction   Direction
	Cardinality Cardinality
	From        *Entity
	To          *Entity

	ParentColumn string
	ChildColumn  string

	JoinTable       string
	JoinParentCol   string
	JoinChildCol    string
	ThroughModel    bool
	OptionalToOne   bool
	ForeignKeyOwner bool // parent row holds the link column
}

// ToOne reports whether the accessor yields at most one related row.
func (a *Accessor) ToOne() bool { return a.Cardinality == One }

// ViaJoinTable reports whether the accessor goes through a join table.
func (a *Accessor) ViaJoinTable() bool { return a.JoinTable != "" }

// OneToOneForward is the genuine forward one-to-one link: the accessing row
// holds a unique link column pointing at exactly one row.
func (a *Accessor) OneToOneForward() bool {
	return a.Relation.IsOneToOne() && a.Direction == Forward
}

func accessorsFor(rel *Relation, source, target *Entity) (fromSource, fromTarget *Accessor) {
	sourceKey := rel.SourceKey
	if sourceKey == "" {
		sourceKey = source.PrimaryKey.Field
	}

	if rel.IsManyToMany() {
		fromSource = &Accessor{
			Key:           rel.SourceAccessor(),
			Relation:      rel,
			Direction:     Forward,
			Cardinality:   Many,
			From:          source,
			To:            target,
			ParentColumn:  sourceKey,
			ChildColumn:   target.PrimaryKey.Field,
			JoinTable:     rel.JoinTable,
			JoinParentCol: rel.SourceJoinKey,
			JoinChildCol:  rel.TargetJoinKey,
			ThroughModel:  rel.Through != "",
		}
		if rel.InverseName != "" {
			fromTarget = &Accessor{
				Key:           rel.InverseName,
				Relation:      rel,
				Direction:     Reverse,
				Cardinality:   Many,
				From:          target,
				To:            source,
				ParentColumn:  target.PrimaryKey.Field,
				ChildColumn:   sourceKey,
				JoinTable:     rel.JoinTable,
				JoinParentCol: rel.TargetJoinKey,
				JoinChildCol:  rel.SourceJoinKey,
				ThroughModel:  rel.Through != "",
			}
		}
		return fromSource, fromTarget
	}

	card := Many
	if rel.IsOneToOne() {
		card = One
	}
	fromSource = &Accessor{
		Key:           rel.SourceAccessor(),
		Relation:      rel,
		Direction:     Reverse,
		Cardinality:   card,
		From:          source,
		To:            target,
		ParentColumn:  sourceKey,
		ChildColumn:   rel.TargetKey,
		OptionalToOne: card == One,
	}
	if rel.InverseName != "" {
		fromTarget = &Accessor{
			Key:             rel.InverseName,
			Relation:        rel,
			Direction:       Forward,
			Cardinality:     One,
			From:            target,
			To:              source,
			ParentColumn:    rel.TargetKey,
			ChildColumn:     sourceKey,
			OptionalToOne:   rel.Nullable,
			ForeignKeyOwner: true,
		}
	}
	return fromSource, fromTarget
}
