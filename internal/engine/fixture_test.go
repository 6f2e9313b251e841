package engine_test

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"serialspec/internal/config"
	"serialspec/internal/demo"
	"serialspec/internal/engine"
	"serialspec/internal/fetch"
	"serialspec/internal/instrument"
	"serialspec/internal/metadata"
	"serialspec/internal/spec"
	"serialspec/internal/store"
)

// testStore opens a fresh in-memory SQLite database seeded with the school
// fixture and loads its metadata the way the server does.
func testStore(t *testing.T) (*store.Store, *metadata.Registry) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "engine_" + uuid.NewString(),
		Memory: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(s.Close)

	if err := demo.Install(ctx, s, true, logger); err != nil {
		t.Fatalf("install demo: %v", err)
	}
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, s.DB, reg, logger); err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	return s, reg
}

// getOne compiles declared in single mode, loads the record with the given
// id and projects it. It returns the output and the number of queries run.
func getOne(t *testing.T, s *store.Store, reg *metadata.Registry, entity string, declared spec.Spec, id string) (map[string]any, int) {
	t.Helper()
	compiled, err := engine.Compile(reg, entity, declared, nil, engine.Options{Mode: engine.Single})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rec := instrument.NewRecorder(s.DB, zaptest.NewLogger(t))
	record, err := fetch.NewExecutor(rec, s.Dialect).Get(context.Background(), compiled.Plan(), id)
	if err != nil {
		t.Fatalf("get %s %s: %v", entity, id, err)
	}
	out, err := compiled.Project(record)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	return out, rec.Count()
}

// listAll compiles declared in collection mode over base and projects every
// loaded record.
func listAll(t *testing.T, s *store.Store, reg *metadata.Registry, base *fetch.Plan, declared spec.Spec) ([]map[string]any, int) {
	t.Helper()
	compiled, err := engine.Compile(reg, base.Entity().Name, declared, nil, engine.Options{Mode: engine.Collection})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	plan, err := compiled.Prepare(base)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	rec := instrument.NewRecorder(s.DB, zaptest.NewLogger(t))
	records, err := fetch.NewExecutor(rec, s.Dialect).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	out, err := compiled.ProjectAll(records)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	return out, rec.Count()
}

type M = map[string]any

type L = []any

// assertJSON compares got and want after a JSON round trip, so number types
// and key order do not matter.
func assertJSON(t *testing.T, got, want any) {
	t.Helper()
	g, graw := roundTrip(t, got)
	w, wraw := roundTrip(t, want)
	if !reflect.DeepEqual(g, w) {
		t.Fatalf("output mismatch\n got: %s\nwant: %s", graw, wraw)
	}
}

func roundTrip(t *testing.T, v any) (any, []byte) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out, raw
}

func assertQueries(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("expected %d queries, got %d", want, got)
	}
}

var id = demo.ID
