package engine_test

import (
	"fmt"
	"testing"

	"serialspec/internal/fetch"
	"serialspec/internal/plugins"
	"serialspec/internal/spec"
)

func TestDetail_ForwardFKAndAliasedReverseFK(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "teacher", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("school", spec.Fields("id", "name")...),
		spec.Aliased("classes", "class_set", spec.Fields("id", "name")...),
	}, id("2"))

	assertQueries(t, queries, 2)
	assertJSON(t, out, M{
		"id":     id("2"),
		"name":   "Mr Cat",
		"school": M{"id": id("1"), "name": "Kitteh High"},
		"classes": L{
			M{"id": id("5"), "name": "French A"},
			M{"id": id("6"), "name": "Math B"},
		},
	})
}

func TestDetail_ManyToMany(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "student", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("classes", spec.Fields("id", "name")...),
	}, id("15"))

	assertQueries(t, queries, 2)
	assertJSON(t, out, M{
		"id":   id("15"),
		"name": "Student 5",
		"classes": L{
			M{"id": id("5"), "name": "French A"},
			M{"id": id("6"), "name": "Math B"},
		},
	})
}

func TestDetail_FKOnFKAndReverseManyToMany(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "class", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("teacher",
			spec.Field("id"),
			spec.Field("name"),
			spec.Rel("school", spec.Fields("id", "name")...),
		),
		spec.Rel("student_set", spec.Field("name")),
	}, id("6"))

	students := L{}
	for i := 3; i < 10; i++ {
		students = append(students, M{"name": fmt.Sprintf("Student %d", i)})
	}
	assertQueries(t, queries, 2)
	assertJSON(t, out, M{
		"id":   id("6"),
		"name": "Math B",
		"teacher": M{
			"id":     id("2"),
			"name":   "Mr Cat",
			"school": M{"id": id("1"), "name": "Kitteh High"},
		},
		"student_set": students,
	})
}

func TestDetail_ForwardFKInsideReverseFK(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "subject", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("class_set",
			spec.Field("id"),
			spec.Field("name"),
			spec.Rel("teacher", spec.Fields("id", "name")...),
		),
	}, id("4"))

	// Relations below a batch fetch are planned in collection mode, so the
	// teacher is batch fetched too.
	assertQueries(t, queries, 3)
	assertJSON(t, out, M{
		"id":   id("4"),
		"name": "Math",
		"class_set": L{
			M{"id": id("6"), "name": "Math B", "teacher": M{"id": id("2"), "name": "Mr Cat"}},
		},
	})
}

func TestDetail_ReverseFKOnJoinedFK(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "school", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("lea",
			spec.Field("id"),
			spec.Field("name"),
			spec.Rel("school_set", spec.Fields("id", "name")...),
		),
	}, id("1"))

	assertQueries(t, queries, 2)
	assertJSON(t, out, M{
		"id":   id("1"),
		"name": "Kitteh High",
		"lea": M{
			"id":   id("0"),
			"name": "Brighton & Hove",
			"school_set": L{
				M{"id": id("1"), "name": "Kitteh High"},
				M{"id": id("8"), "name": "Hove High"},
			},
		},
	})
}

func TestDetail_ManyToManyWithThroughModel(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "student", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("assignments", spec.Field("name")),
		spec.Rel("assignmentstudent_set",
			spec.Field("is_complete"),
			spec.Rel("assignment", spec.Field("name")),
		),
	}, id("15"))

	assertQueries(t, queries, 4)
	assertJSON(t, out, M{
		"id":   id("15"),
		"name": "Student 5",
		"assignments": L{
			M{"name": "Math B Assignment"},
			M{"name": "French A Assignment"},
		},
		"assignmentstudent_set": L{
			M{"is_complete": true, "assignment": M{"name": "Math B Assignment"}},
			M{"is_complete": false, "assignment": M{"name": "French A Assignment"}},
		},
	})
}

func TestDetail_CountPluginsAndIDShorthand(t *testing.T) {
	s, reg := testStore(t)

	className := plugins.Derived(
		spec.Spec{spec.Rel("clasz", spec.Field("name"), spec.Rel("teacher", spec.Field("name")))},
		func(b spec.Binding, rec map[string]any) (any, error) {
			clasz := plugins.Record(rec, "clasz")
			return clasz["name"].(string) + " - " + plugins.Record(clasz, "teacher")["name"].(string), nil
		},
	)

	out, queries := getOne(t, s, reg, "assignment", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("assignees",
			spec.Field("id"),
			spec.Field("name"),
			spec.Use("classes_count", plugins.CountOf("classes")),
			spec.Field("classes"),
		),
		spec.Use("class_name", className),
		spec.Rel("clasz", spec.Use("num_students", plugins.CountOf("student_set"))),
	}, id("20"))

	// assignment, assignees, their class ids, clasz and clasz.teacher.
	assertQueries(t, queries, 5)
	assertJSON(t, out, M{
		"id":   id("20"),
		"name": "Math B Assignment",
		"assignees": L{
			M{
				"id":            id("15"),
				"name":          "Student 5",
				"classes_count": 2,
				"classes":       L{id("5"), id("6")},
			},
		},
		"class_name": "Math B - Mr Cat",
		"clasz":      M{"num_students": 7},
	})
}

func TestDetail_ManyToManyShorthandsDoNotCollide(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "student", spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Field("assignments"),
		spec.Field("classes"),
	}, id("15"))

	assertQueries(t, queries, 3)
	assertJSON(t, out, M{
		"id":          id("15"),
		"name":        "Student 5",
		"assignments": L{id("20"), id("21")},
		"classes":     L{id("5"), id("6")},
	})
}

func TestDetail_ForwardFKShorthandOutputsLinkValue(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "class", spec.Spec{
		spec.Field("name"),
		spec.Field("subject"),
		spec.Field("teacher"),
	}, id("5"))

	assertQueries(t, queries, 1)
	assertJSON(t, out, M{"name": "French A", "subject": id("3"), "teacher": id("2")})
}

func TestDetail_ReverseOneToOneShorthand(t *testing.T) {
	s, reg := testStore(t)

	out, _ := getOne(t, s, reg, "teacher", spec.Spec{spec.Field("name"), spec.Field("profile")}, id("2"))
	assertJSON(t, out, M{"name": "Mr Cat", "profile": id("9")})

	out, _ = getOne(t, s, reg, "teacher", spec.Spec{spec.Field("name"), spec.Field("profile")}, id("7"))
	assertJSON(t, out, M{"name": "Ms Dog", "profile": nil})
}

func TestDetail_ReverseOneToOneJoinsWithoutPlugins(t *testing.T) {
	s, reg := testStore(t)

	out, queries := getOne(t, s, reg, "teacher", spec.Spec{
		spec.Field("name"),
		spec.Rel("profile", spec.Field("bio")),
	}, id("7"))

	assertQueries(t, queries, 1)
	assertJSON(t, out, M{"name": "Ms Dog", "profile": nil})
}

func TestList_ForwardFKAndReverseFK(t *testing.T) {
	s, reg := testStore(t)

	base := fetch.From(reg, "teacher").OrderBy("name", false)
	out, queries := listAll(t, s, reg, base, spec.Spec{
		spec.Field("id"),
		spec.Field("name"),
		spec.Rel("school", spec.Fields("id", "name")...),
		spec.Rel("class_set", spec.Fields("id", "name")...),
	})

	assertQueries(t, queries, 3)
	assertJSON(t, out, L{
		M{
			"id":     id("2"),
			"name":   "Mr Cat",
			"school": M{"id": id("1"), "name": "Kitteh High"},
			"class_set": L{
				M{"id": id("5"), "name": "French A"},
				M{"id": id("6"), "name": "Math B"},
			},
		},
		M{
			"id":        id("7"),
			"name":      "Ms Dog",
			"school":    M{"id": id("1"), "name": "Kitteh High"},
			"class_set": L{},
		},
	})
}

func TestList_EmptyResultRunsOneQuery(t *testing.T) {
	s, reg := testStore(t)

	base := fetch.From(reg, "teacher").Where(spec.Q("name", "Nobody"))
	out, queries := listAll(t, s, reg, base, spec.Spec{
		spec.Field("name"),
		spec.Rel("class_set", spec.Field("name")),
	})

	assertQueries(t, queries, 1)
	assertJSON(t, out, L{})
}
