package fetch

import (
	"reflect"
	"testing"

	"serialspec/internal/store"
)

func TestRender(t *testing.T) {
	reg := testRegistry(t)
	sqlite := store.NewDialect("sqlite")

	tests := []struct {
		name string
		plan *Plan
		link *link
		sql  string
		args []any
	}{
		{
			name: "joined to-one",
			plan: From(reg, "teacher").Only("name").Join("school", From(reg, "school").Only("name")),
			sql: `SELECT t0.id AS "id", t0.name AS "name", t0.school_id AS "school_id", t1.id AS "school.id", t1.name AS "school.name" ` +
				`FROM teachers t0 LEFT JOIN schools t1 ON t1.id = t0.school_id ORDER BY t0.id`,
		},
		{
			name: "count annotation through join table",
			plan: From(reg, "student").Annotate("classes_count", "classes"),
			sql: `SELECT t0.id AS "id", (SELECT COUNT(*) FROM student_classes a1j INNER JOIN classes a1 ON a1.id = a1j.class_id ` +
				`WHERE a1j.student_id = t0.id) AS "classes_count" FROM students t0 ORDER BY t0.id`,
		},
		{
			name: "to-many filter path is distinct",
			plan: From(reg, "student").Where(WhereClause{Field: "classes.name", Operator: "eq", Value: "Math B"}),
			sql: `SELECT DISTINCT t0.id AS "id" FROM students t0 ` +
				`LEFT JOIN student_classes w1j ON w1j.student_id = t0.id LEFT JOIN classes w1 ON w1.id = w1j.class_id ` +
				`WHERE w1.name = ?1 ORDER BY t0.id`,
			args: []any{"Math B"},
		},
		{
			name: "to-one filter path is not distinct",
			plan: From(reg, "class").Where(WhereClause{Field: "teacher.name", Operator: "startswith", Value: "Mr"}).OrderBy("name", true),
			sql: `SELECT t0.id AS "id", t0.name AS "name" FROM classes t0 ` +
				`LEFT JOIN teachers w1 ON w1.id = t0.teacher_id WHERE w1.name LIKE ?1 ORDER BY t0.name DESC`,
			args: []any{"Mr%"},
		},
		{
			name: "reverse prefetch link",
			plan: From(reg, "class").Only("name"),
			link: &link{acc: mustAccessor(t, reg, "teacher", "class_set"), values: []any{"a", "b"}},
			sql: `SELECT t0.id AS "id", t0.name AS "name", t0.teacher_id AS "_link" FROM classes t0 ` +
				`WHERE t0.teacher_id IN (?1, ?2) ORDER BY t0.id`,
			args: []any{"a", "b"},
		},
		{
			name: "join table prefetch link",
			plan: From(reg, "class").Only("name"),
			link: &link{acc: mustAccessor(t, reg, "student", "classes"), values: []any{"s"}},
			sql: `SELECT t0.id AS "id", t0.name AS "name", j1.student_id AS "_link" FROM classes t0 ` +
				`INNER JOIN student_classes j1 ON j1.class_id = t0.id WHERE j1.student_id IN (?1) ORDER BY t0.id`,
			args: []any{"s"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.plan.Err(); err != nil {
				t.Fatalf("plan: %v", err)
			}
			sql, args := render(sqlite, tt.plan, tt.link)
			if sql != tt.sql {
				t.Fatalf("unexpected sql\n got: %s\nwant: %s", sql, tt.sql)
			}
			if len(args) != len(tt.args) || (len(args) > 0 && !reflect.DeepEqual(args, tt.args)) {
				t.Fatalf("unexpected args %v, want %v", args, tt.args)
			}
		})
	}
}

func TestRender_PostgresPlaceholders(t *testing.T) {
	reg := testRegistry(t)
	p := From(reg, "teacher").Where(
		WhereClause{Field: "name", Operator: "in", Value: []string{"Mr Cat", "Ms Dog"}},
	).Limit(5)

	sql, args := render(store.NewDialect("postgres"), p, nil)
	want := `SELECT t0.id AS "id" FROM teachers t0 WHERE t0.name = ANY($1) ORDER BY t0.id LIMIT $2`
	if sql != want {
		t.Fatalf("unexpected sql\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 2 || args[1] != 5 {
		t.Fatalf("unexpected args %v", args)
	}
}
