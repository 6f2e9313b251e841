package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"serialspec/internal/demo"
	"serialspec/internal/metadata"
	"serialspec/internal/store"
)

func mustAccessor(t *testing.T, reg *metadata.Registry, entity, key string) *metadata.Accessor {
	t.Helper()
	acc, err := reg.Accessor(entity, key)
	if err != nil {
		t.Fatalf("accessor: %v", err)
	}
	return acc
}

func newMock(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewExecutor(db, store.NewDialect("sqlite")), mock
}

const (
	teacherQuery = `SELECT t0.id AS "id", t0.name AS "name", t0.school_id AS "school_id", t1.id AS "school.id", t1.name AS "school.name" ` +
		`FROM teachers t0 LEFT JOIN schools t1 ON t1.id = t0.school_id ORDER BY t0.id`
	classQuery = `SELECT t0.id AS "id", t0.name AS "name", t0.teacher_id AS "_link" FROM classes t0 ` +
		`WHERE t0.teacher_id IN (?1, ?2) ORDER BY t0.id`
)

func teacherPlan(t *testing.T) *Plan {
	reg := testRegistry(t)
	return From(reg, "teacher").Only("name").
		Join("school", From(reg, "school").Only("name")).
		Prefetch("class_set", "", From(reg, "class").Only("name"))
}

func teacherRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "school_id", "school.id", "school.name"}).
		AddRow(demo.ID("2"), "Mr Cat", demo.ID("1"), demo.ID("1"), "Kitteh High").
		AddRow(demo.ID("7"), "Ms Dog", demo.ID("1"), demo.ID("1"), "Kitteh High")
}

func TestExecutor_StitchesJoinsAndPrefetches(t *testing.T) {
	ex, mock := newMock(t)

	mock.ExpectQuery(teacherQuery).WillReturnRows(teacherRows())
	mock.ExpectQuery(classQuery).WithArgs(demo.ID("2"), demo.ID("7")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "_link"}).
			AddRow(demo.ID("5"), "French A", demo.ID("2")).
			AddRow(demo.ID("6"), "Math B", demo.ID("2")))

	records, err := ex.Execute(context.Background(), teacherPlan(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	school, _ := records[0]["school"].(map[string]any)
	if school["name"] != "Kitteh High" {
		t.Fatalf("expected joined school, got %v", records[0]["school"])
	}
	classes, _ := records[0]["class_set"].([]map[string]any)
	if len(classes) != 2 || classes[0]["name"] != "French A" || classes[1]["name"] != "Math B" {
		t.Fatalf("unexpected classes: %v", records[0]["class_set"])
	}
	if _, ok := classes[0][linkColumn]; ok {
		t.Fatalf("link column leaked into %v", classes[0])
	}
	empty, ok := records[1]["class_set"].([]map[string]any)
	if !ok || empty == nil || len(empty) != 0 {
		t.Fatalf("expected an empty, non-nil list, got %#v", records[1]["class_set"])
	}
}

func TestExecutor_EmptyRootSkipsPrefetches(t *testing.T) {
	ex, mock := newMock(t)
	mock.ExpectQuery(teacherQuery).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "school_id", "school.id", "school.name"}))

	records, err := ex.Execute(context.Background(), teacherPlan(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected an empty result, got %#v", records)
	}
}

func TestExecutor_DataInconsistency(t *testing.T) {
	t.Run("missing join target", func(t *testing.T) {
		ex, mock := newMock(t)
		mock.ExpectQuery(teacherQuery).WillReturnRows(
			sqlmock.NewRows([]string{"id", "name", "school_id", "school.id", "school.name"}).
				AddRow(demo.ID("2"), "Mr Cat", demo.ID("99"), nil, nil))

		_, err := ex.Execute(context.Background(), teacherPlan(t))
		if !errors.Is(err, ErrDataInconsistency) {
			t.Fatalf("expected ErrDataInconsistency, got %v", err)
		}
	})

	t.Run("child of unknown parent", func(t *testing.T) {
		ex, mock := newMock(t)
		mock.ExpectQuery(teacherQuery).WillReturnRows(teacherRows())
		mock.ExpectQuery(classQuery).WillReturnRows(
			sqlmock.NewRows([]string{"id", "name", "_link"}).AddRow(demo.ID("5"), "French A", demo.ID("3")))

		_, err := ex.Execute(context.Background(), teacherPlan(t))
		if !errors.Is(err, ErrDataInconsistency) {
			t.Fatalf("expected ErrDataInconsistency, got %v", err)
		}
	})

	t.Run("two rows for a to-one", func(t *testing.T) {
		ex, mock := newMock(t)
		reg := testRegistry(t)
		p := From(reg, "teacher").Prefetch("profile", "", nil)

		mock.ExpectQuery(`SELECT t0.id AS "id" FROM teachers t0 ORDER BY t0.id`).WillReturnRows(
			sqlmock.NewRows([]string{"id"}).AddRow(demo.ID("2")))
		mock.ExpectQuery(`SELECT t0.id AS "id", t0.teacher_id AS "_link" FROM teacher_profiles t0 WHERE t0.teacher_id IN (?1) ORDER BY t0.id`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "_link"}).
				AddRow(demo.ID("9"), demo.ID("2")).
				AddRow(demo.ID("10"), demo.ID("2")))

		_, err := ex.Execute(context.Background(), p)
		if !errors.Is(err, ErrDataInconsistency) {
			t.Fatalf("expected ErrDataInconsistency, got %v", err)
		}
	})
}

func TestExecutor_GetNotFound(t *testing.T) {
	ex, mock := newMock(t)
	reg := testRegistry(t)

	mock.ExpectQuery(`SELECT t0.id AS "id" FROM teachers t0 WHERE t0.id = ?1 ORDER BY t0.id`).
		WithArgs(demo.ID("99")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := ex.Get(context.Background(), From(reg, "teacher"), demo.ID("99"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutor_InvalidPlanRunsNothing(t *testing.T) {
	ex, mock := newMock(t)
	reg := testRegistry(t)

	_, err := ex.Execute(context.Background(), From(reg, "teacher").Only("nickname"))
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
