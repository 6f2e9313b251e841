package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Querier is the read side of *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadAll reads all entities and relations from the database and populates the registry.
func LoadAll(ctx context.Context, db Querier, reg *Registry, logger *zap.Logger) error {
	entities, err := loadEntities(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	relations, err := loadRelations(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}

	if err := reg.Load(entities, relations); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	logger.Info("loaded metadata into registry",
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)))
	return nil
}

func loadEntities(ctx context.Context, db Querier, logger *zap.Logger) ([]*Entity, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _entities ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		var entity Entity
		if err := json.Unmarshal(defJSON, &entity); err != nil {
			logger.Warn("skipping entity with invalid definition", zap.String("entity", name), zap.Error(err))
			continue
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}

func loadRelations(ctx context.Context, db Querier, logger *zap.Logger) ([]*Relation, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _relations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan relation row: %w", err)
		}

		var rel Relation
		if err := json.Unmarshal(defJSON, &rel); err != nil {
			logger.Warn("skipping relation with invalid definition", zap.String("relation", name), zap.Error(err))
			continue
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}
