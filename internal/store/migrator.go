package store

import (
	"context"
	"fmt"
	"strings"

	"serialspec/internal/metadata"
)

// Migrator creates the tables entity metadata describes. It only adds:
// missing tables, missing columns and missing indexes.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate creates the entity's table, or adds the columns it lacks.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	existing, err := m.store.Dialect.Columns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", entity.Table, err)
	}

	var defs []string
	for _, f := range entity.Fields {
		if len(existing) == 0 {
			defs = append(defs, m.columnDef(entity, f))
			continue
		}
		if _, ok := existing[f.Name]; !ok {
			if err := m.exec(ctx, "ALTER TABLE %s ADD COLUMN %s", entity.Table, m.columnDef(entity, f)); err != nil {
				return err
			}
		}
	}
	if entity.SoftDelete && entity.GetField("deleted_at") == nil {
		def := "deleted_at " + m.store.Dialect.ColumnType("timestamp", 0)
		if len(existing) == 0 {
			defs = append(defs, def)
		} else if _, ok := existing["deleted_at"]; !ok {
			if err := m.exec(ctx, "ALTER TABLE %s ADD COLUMN %s", entity.Table, def); err != nil {
				return err
			}
		}
	}
	if len(existing) == 0 {
		if err := m.exec(ctx, "CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(defs, ",\n  ")); err != nil {
			return err
		}
	}

	for _, f := range entity.Fields {
		if f.Unique && f.Name != entity.PrimaryKey.Field {
			if err := m.index(ctx, entity.Table, f.Name, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// MigrateRelation indexes the link column of a relation, and creates the join
// table of a many-to-many relation unless an entity of its own backs it.
func (m *Migrator) MigrateRelation(ctx context.Context, rel *metadata.Relation, source, target *metadata.Entity) error {
	if !rel.IsManyToMany() {
		return m.index(ctx, target.Table, rel.TargetKey, rel.IsOneToOne())
	}
	if rel.Through != "" {
		return nil
	}

	sourceKey := rel.SourceKey
	if sourceKey == "" {
		sourceKey = source.PrimaryKey.Field
	}
	sourceField := source.GetField(sourceKey)
	targetField := target.GetField(target.PrimaryKey.Field)
	if sourceField == nil || targetField == nil {
		return fmt.Errorf("join table %s: cannot resolve key types", rel.JoinTable)
	}

	d := m.store.Dialect
	err := m.exec(ctx, `CREATE TABLE IF NOT EXISTS %s (
  %s %s NOT NULL REFERENCES %s(%s),
  %s %s NOT NULL REFERENCES %s(%s),
  PRIMARY KEY (%s, %s)
)`,
		rel.JoinTable,
		rel.SourceJoinKey, d.ColumnType(sourceField.Type, sourceField.Precision), source.Table, sourceKey,
		rel.TargetJoinKey, d.ColumnType(targetField.Type, targetField.Precision), target.Table, targetField.Name,
		rel.SourceJoinKey, rel.TargetJoinKey)
	if err != nil {
		return err
	}
	return m.index(ctx, rel.JoinTable, rel.TargetJoinKey, false)
}

func (m *Migrator) columnDef(entity *metadata.Entity, f metadata.Field) string {
	d := m.store.Dialect
	def := f.Name + " " + d.ColumnType(f.Type, f.Precision)
	if f.Name == entity.PrimaryKey.Field {
		return def + " PRIMARY KEY"
	}
	if f.Required && !f.Nullable {
		def += " NOT NULL"
	}
	if f.Default != nil {
		def += " DEFAULT " + d.Literal(f.Default)
	}
	return def
}

func (m *Migrator) index(ctx context.Context, table, column string, unique bool) error {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return m.exec(ctx, "CREATE %s IF NOT EXISTS idx_%s_%s ON %s (%s)", kind, table, column, table, column)
}

func (m *Migrator) exec(ctx context.Context, format string, args ...any) error {
	stmt := fmt.Sprintf(format, args...)
	if _, err := m.store.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", strings.SplitN(stmt, "(", 2)[0], err)
	}
	return nil
}
