package store

import (
	"context"
	"encoding/json"
	"fmt"

	"serialspec/internal/metadata"
)

// Bootstrap creates the metadata system tables.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	return nil
}

// SaveEntity upserts an entity definition into _entities.
func (s *Store) SaveEntity(ctx context.Context, e *metadata.Entity) error {
	def, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.Name, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _entities (name, table_name, definition) VALUES (%s, %s, %s)
ON CONFLICT (name) DO UPDATE SET table_name = excluded.table_name, definition = excluded.definition`,
		pb.Add(e.Name), pb.Add(e.Table), pb.Add(string(def)))
	if _, err := Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("save entity %s: %w", e.Name, s.Dialect.MapError(err))
	}
	return nil
}

// SaveRelation upserts a relation definition into _relations.
func (s *Store) SaveRelation(ctx context.Context, rel *metadata.Relation) error {
	def, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("marshal relation %s: %w", rel.Name, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _relations (name, source, target, definition) VALUES (%s, %s, %s, %s)
ON CONFLICT (name) DO UPDATE SET source = excluded.source, target = excluded.target, definition = excluded.definition`,
		pb.Add(rel.Name), pb.Add(rel.Source), pb.Add(rel.Target), pb.Add(string(def)))
	if _, err := Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("save relation %s: %w", rel.Name, s.Dialect.MapError(err))
	}
	return nil
}
