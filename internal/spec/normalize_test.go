package spec

import (
	"errors"
	"reflect"
	"testing"

	"serialspec/internal/fetch"
)

func mustNormalize(t *testing.T, s Spec) Spec {
	t.Helper()
	out, err := Normalize(s, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return out
}

func assertSpec(t *testing.T, got, want Spec) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("spec mismatch\n got: %#v\nwant: %#v", got, want)
	}
}

func TestNormalize_BaseCase(t *testing.T) {
	got := mustNormalize(t, Spec{
		Field("one"),
		Rel("two", Field("three")),
		Rel("four"),
	})
	assertSpec(t, got, Spec{
		Field("one"),
		Rel("two", Field("three")),
		Rel("four"),
	})
}

func TestNormalize_MergeDupesOneLevel(t *testing.T) {
	got := mustNormalize(t, Spec{
		Field("one"),
		Rel("two", Field("three")),
		Field("one"),
	})
	assertSpec(t, got, Spec{
		Field("one"),
		Rel("two", Field("three")),
	})
}

func TestNormalize_MergeDupesTwoLevels(t *testing.T) {
	got := mustNormalize(t, Spec{
		Field("one"),
		Rel("two", Field("three")),
		Rel("two", Field("four")),
	})
	assertSpec(t, got, Spec{
		Field("one"),
		Rel("two", Field("three"), Field("four")),
	})
}

func TestNormalize_MergeDupesThreeLevels(t *testing.T) {
	got := mustNormalize(t, Spec{
		Field("one"),
		Rel("two", Rel("three", Field("five"))),
		Rel("two", Field("four"), Rel("three", Field("five"), Field("six"))),
	})
	assertSpec(t, got, Spec{
		Field("one"),
		Rel("two", Field("four"), Rel("three", Field("five"), Field("six"))),
	})
}

func TestNormalize_Idempotent(t *testing.T) {
	specs := []Spec{
		{Field("a"), Rel("b", Field("x")), Rel("b", Field("y"))},
		{Rel("two", Rel("three", Field("five"))), Rel("two", Field("four"), Rel("three", Field("six")))},
		{Field("id"), Aliased("classes", "class_set", Field("name")), Aliased("class_ids", "class_set", Field("id"))},
		{Aliased("title", "name"), Filter("teacher_set", []fetch.WhereClause{Q("name.icontains", "cat")}, Field("name"))},
	}
	for i, s := range specs {
		once := mustNormalize(t, s)
		twice := mustNormalize(t, once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("case %d: normalize is not idempotent\nonce:  %#v\ntwice: %#v", i, once, twice)
		}
	}
}

func TestNormalize_AliasesShareRelation(t *testing.T) {
	got := mustNormalize(t, Spec{
		Aliased("classes", "class_set", Field("name")),
		Aliased("class_ids", "class_set", Field("id")),
		Aliased("title", "name"),
	})
	assertSpec(t, got, Spec{
		Field("name"),
		Rel("class_set", Field("name"), Field("id")),
	})
}

func TestNormalize_OutputKeyReadsOneSource(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"field and alias", Spec{Field("name"), Aliased("name", "school_id")}},
		{"two aliases", Spec{Aliased("x", "name"), Aliased("x", "school_id")}},
		{"relation and alias", Spec{Rel("school", Field("name")), Aliased("school", "lea", Field("name"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.spec, nil); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}

	got := mustNormalize(t, Spec{Aliased("x", "name"), Field("id"), Aliased("x", "name")})
	assertSpec(t, got, Spec{Field("name"), Field("id")})
}

func TestNormalize_FilteredIsOverride(t *testing.T) {
	f := Filter("teacher_set", []fetch.WhereClause{Q("name.icontains", "cat")}, Field("name"))
	got := mustNormalize(t, Spec{Field("name"), f})
	assertSpec(t, got, Spec{Field("name"), f})
}

func TestNormalize_FilteredWithoutSpec(t *testing.T) {
	_, err := Normalize(Spec{Filter("teacher_set", []fetch.WhereClause{Q("name", "x")})}, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

type constPlugin struct {
	value  any
	nested Spec
}

func (p *constPlugin) ModifyFetch(b Binding, plan *fetch.Plan) (*fetch.Plan, error) { return plan, nil }
func (p *constPlugin) Value(b Binding, rec map[string]any) (any, error)           { return p.value, nil }
func (p *constPlugin) NestedSpec(b Binding) Spec                                  { return p.nested }

func TestNormalize_PluginNestedSpecIsHoisted(t *testing.T) {
	p := &constPlugin{nested: Spec{Rel("school", Field("name"))}}
	n, err := Fold(Spec{Field("id"), Use("school_name_upper", p), Rel("school", Field("id"))}, nil)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	school, ok := n.Child("school")
	if !ok {
		t.Fatal("expected hoisted school relation")
	}
	if !reflect.DeepEqual(school.Fields(), []string{"name", "id"}) {
		t.Fatalf("expected merged school fields, got %v", school.Fields())
	}
	b, ok := n.Plugin("school_name_upper")
	if !ok || b.Binding().Key != "school_name_upper" {
		t.Fatalf("expected bound plugin, got %#v", b)
	}
	if !n.HasPlugin() {
		t.Fatal("expected HasPlugin")
	}
}

func TestNormalize_PluginAndRelationConflict(t *testing.T) {
	_, err := Normalize(Spec{Rel("school", Field("name")), Use("school", &constPlugin{})}, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNormalize_TwoPluginsConflict(t *testing.T) {
	_, err := Normalize(Spec{Use("n", &constPlugin{value: 1}), Use("n", &constPlugin{value: 2})}, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNormalize_SamePluginTwiceMerges(t *testing.T) {
	p := &constPlugin{value: 1}
	got := mustNormalize(t, Spec{Use("n", p), Field("id"), Use("n", p)})
	assertSpec(t, got, Spec{Field("id"), Use("n", p)})
}

func TestNormalize_FilteredAndRelationConflict(t *testing.T) {
	_, err := Normalize(Spec{
		Rel("teacher_set", Field("id")),
		Filter("teacher_set", []fetch.WhereClause{Q("name", "x")}, Field("name")),
	}, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestBound_UnboundValue(t *testing.T) {
	var b Bound
	if _, err := b.Value(map[string]any{}); !errors.Is(err, ErrPluginContract) {
		t.Fatalf("expected ErrPluginContract, got %v", err)
	}
	if _, err := Bind(&constPlugin{}, "", nil).Value(nil); !errors.Is(err, ErrPluginContract) {
		t.Fatalf("expected ErrPluginContract for empty key, got %v", err)
	}
}

func TestBound_PassesPrincipal(t *testing.T) {
	var seen Binding
	p := &recordingPlugin{seen: &seen}
	if _, err := Bind(p, "who", "user-1").Value(nil); err != nil {
		t.Fatalf("value: %v", err)
	}
	if seen.Key != "who" || seen.Principal != "user-1" {
		t.Fatalf("unexpected binding %#v", seen)
	}
}

type recordingPlugin struct{ seen *Binding }

func (p *recordingPlugin) ModifyFetch(b Binding, plan *fetch.Plan) (*fetch.Plan, error) { return plan, nil }
func (p *recordingPlugin) Value(b Binding, rec map[string]any) (any, error) {
	*p.seen = b
	return nil, nil
}

func TestQ_ParsesOperator(t *testing.T) {
	w := Q("name.icontains", "cat")
	if w.Field != "name" || w.Operator != "icontains" || w.Value != "cat" {
		t.Fatalf("unexpected clause %#v", w)
	}
	w = Q("classes.name", "Math B")
	if w.Field != "classes.name" || w.Operator != "eq" {
		t.Fatalf("unexpected clause %#v", w)
	}
}
