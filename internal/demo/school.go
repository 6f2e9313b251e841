// Package demo holds the school domain served by the example endpoints:
// entity metadata, the tables behind it and a small set of seed rows.
package demo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serialspec/internal/metadata"
	"serialspec/internal/store"
)

// ID returns the fixture uuid ending in tail, e.g. ID("15").
func ID(tail string) string {
	const zero = "00000000-0000-0000-0000-000000000000"
	return uuid.MustParse(zero[:len(zero)-len(tail)] + tail).String()
}

func pk() metadata.PrimaryKey {
	return metadata.PrimaryKey{Field: "id", Type: "uuid"}
}

func idField() metadata.Field {
	return metadata.Field{Name: "id", Type: "uuid", Required: true}
}

func nameField() metadata.Field {
	return metadata.Field{Name: "name", Type: "string", Required: true}
}

func fkField(name string, nullable bool) metadata.Field {
	return metadata.Field{Name: name, Type: "uuid", Required: !nullable, Nullable: nullable}
}

// Entities returns the school domain entities.
func Entities() []*metadata.Entity {
	return []*metadata.Entity{
		{Name: "lea", Table: "leas", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField()}},
		{Name: "school", Table: "schools", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField(), fkField("lea_id", false)}},
		{Name: "teacher", Table: "teachers", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField(), fkField("school_id", false)}},
		{Name: "teacherprofile", Table: "teacher_profiles", PrimaryKey: pk(), Fields: []metadata.Field{
			idField(), fkField("teacher_id", false), {Name: "bio", Type: "text"},
		}},
		{Name: "subject", Table: "subjects", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField()}},
		{Name: "class", Table: "classes", PrimaryKey: pk(), Fields: []metadata.Field{
			idField(), nameField(), fkField("subject_id", false), fkField("teacher_id", false),
		}},
		{Name: "student", Table: "students", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField(), fkField("school_id", false)}},
		{Name: "assignment", Table: "assignments", PrimaryKey: pk(), Fields: []metadata.Field{idField(), nameField(), fkField("clasz_id", false)}},
		{Name: "assignmentstudent", Table: "assignment_students", PrimaryKey: pk(), Fields: []metadata.Field{
			idField(),
			{Name: "is_complete", Type: "boolean", Default: false},
			fkField("assignment_id", false),
			fkField("student_id", false),
		}},
	}
}

// Relations returns the relations between the school domain entities.
func Relations() []*metadata.Relation {
	return []*metadata.Relation{
		{Name: "school_set", Type: "one_to_many", Source: "lea", Target: "school", TargetKey: "lea_id", InverseName: "lea"},
		{Name: "teacher_set", Type: "one_to_many", Source: "school", Target: "teacher", TargetKey: "school_id", InverseName: "school"},
		{Name: "school_students", Key: "student_set", Type: "one_to_many", Source: "school", Target: "student", TargetKey: "school_id", InverseName: "school"},
		{Name: "profile", Type: "one_to_one", Source: "teacher", Target: "teacherprofile", TargetKey: "teacher_id", InverseName: "teacher"},
		{Name: "teacher_classes", Key: "class_set", Type: "one_to_many", Source: "teacher", Target: "class", TargetKey: "teacher_id", InverseName: "teacher"},
		{Name: "subject_classes", Key: "class_set", Type: "one_to_many", Source: "subject", Target: "class", TargetKey: "subject_id", InverseName: "subject"},
		{Name: "assignment_set", Type: "one_to_many", Source: "class", Target: "assignment", TargetKey: "clasz_id", InverseName: "clasz"},
		{
			Name: "classes", Type: "many_to_many", Source: "student", Target: "class", InverseName: "student_set",
			JoinTable: "student_classes", SourceJoinKey: "student_id", TargetJoinKey: "class_id",
		},
		{
			Name: "assignments", Type: "many_to_many", Source: "student", Target: "assignment", InverseName: "assignees",
			JoinTable: "assignment_students", SourceJoinKey: "student_id", TargetJoinKey: "assignment_id",
			Through: "assignmentstudent",
		},
		{Name: "assignment_students", Key: "assignmentstudent_set", Type: "one_to_many", Source: "assignment", Target: "assignmentstudent", TargetKey: "assignment_id", InverseName: "assignment"},
		{Name: "student_assignments", Key: "assignmentstudent_set", Type: "one_to_many", Source: "student", Target: "assignmentstudent", TargetKey: "student_id", InverseName: "student"},
	}
}

type row struct {
	table  string
	values map[string]any
}

func rows() []row {
	r := []row{
		{"leas", map[string]any{"id": ID("0"), "name": "Brighton & Hove"}},
		{"schools", map[string]any{"id": ID("1"), "name": "Kitteh High", "lea_id": ID("0")}},
		{"schools", map[string]any{"id": ID("8"), "name": "Hove High", "lea_id": ID("0")}},
		{"teachers", map[string]any{"id": ID("2"), "name": "Mr Cat", "school_id": ID("1")}},
		{"teachers", map[string]any{"id": ID("7"), "name": "Ms Dog", "school_id": ID("1")}},
		{"teacher_profiles", map[string]any{"id": ID("9"), "teacher_id": ID("2"), "bio": "Teaches languages and numbers."}},
		{"subjects", map[string]any{"id": ID("3"), "name": "French"}},
		{"subjects", map[string]any{"id": ID("4"), "name": "Math"}},
		{"classes", map[string]any{"id": ID("5"), "name": "French A", "subject_id": ID("3"), "teacher_id": ID("2")}},
		{"classes", map[string]any{"id": ID("6"), "name": "Math B", "subject_id": ID("4"), "teacher_id": ID("2")}},
	}
	for i := 0; i < 10; i++ {
		r = append(r, row{"students", map[string]any{
			"id": ID(fmt.Sprintf("1%d", i)), "name": fmt.Sprintf("Student %d", i), "school_id": ID("1"),
		}})
	}
	// French A has students 0-6, Math B has students 3-9.
	for i := 0; i < 7; i++ {
		r = append(r, row{"student_classes", map[string]any{"student_id": ID(fmt.Sprintf("1%d", i)), "class_id": ID("5")}})
	}
	for i := 3; i < 10; i++ {
		r = append(r, row{"student_classes", map[string]any{"student_id": ID(fmt.Sprintf("1%d", i)), "class_id": ID("6")}})
	}
	r = append(r,
		row{"assignments", map[string]any{"id": ID("21"), "name": "French A Assignment", "clasz_id": ID("5")}},
		row{"assignments", map[string]any{"id": ID("20"), "name": "Math B Assignment", "clasz_id": ID("6")}},
		row{"assignment_students", map[string]any{"id": ID("31"), "assignment_id": ID("21"), "student_id": ID("15"), "is_complete": false}},
		row{"assignment_students", map[string]any{"id": ID("30"), "assignment_id": ID("20"), "student_id": ID("15"), "is_complete": true}},
	)
	return r
}

// Install creates the system tables, stores the school metadata, migrates the
// entity and join tables and, when seed is set, inserts the fixture rows
// unless they are already present.
func Install(ctx context.Context, s *store.Store, seed bool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	entities := Entities()
	byName := make(map[string]*metadata.Entity, len(entities))
	migrator := store.NewMigrator(s)
	for _, e := range entities {
		byName[e.Name] = e
		if err := s.SaveEntity(ctx, e); err != nil {
			return err
		}
		if err := migrator.Migrate(ctx, e); err != nil {
			return fmt.Errorf("migrate %s: %w", e.Name, err)
		}
	}
	for _, rel := range Relations() {
		if err := s.SaveRelation(ctx, rel); err != nil {
			return err
		}
		if err := migrator.MigrateRelation(ctx, rel, byName[rel.Source], byName[rel.Target]); err != nil {
			return fmt.Errorf("migrate relation %s: %w", rel.Name, err)
		}
	}

	if !seed {
		return nil
	}
	if _, err := store.QueryRow(ctx, s.DB, "SELECT id FROM leas LIMIT 1"); err == nil {
		logger.Debug("demo rows already present")
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows() {
		if err := insert(ctx, s.Dialect, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	logger.Info("seeded demo school", zap.Int("rows", len(rows())))
	return nil
}

func insert(ctx context.Context, d store.Dialect, q store.Querier, r row) error {
	cols := make([]string, 0, len(r.values))
	for c := range r.values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	pb := d.NewParamBuilder()
	phs := make([]string, len(cols))
	for i, c := range cols {
		phs[i] = pb.Add(r.values[c])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, strings.Join(cols, ", "), strings.Join(phs, ", "))
	if _, err := store.Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("seed %s: %w", r.table, d.MapError(err))
	}
	return nil
}
