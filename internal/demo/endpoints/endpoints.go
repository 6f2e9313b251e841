// Package endpoints declares the API served over the school demo data.
package endpoints

import (
	"fmt"

	"serialspec/internal/engine"
	"serialspec/internal/fetch"
	"serialspec/internal/metadata"
	"serialspec/internal/plugins"
	"serialspec/internal/spec"
)

// className outputs "<class> - <teacher>" for an assignment.
var className = plugins.Derived(
	spec.Spec{spec.Rel("clasz", spec.Field("name"), spec.Rel("teacher", spec.Field("name")))},
	func(b spec.Binding, rec map[string]any) (any, error) {
		clasz := plugins.Record(rec, "clasz")
		teacher := plugins.Record(clasz, "teacher")
		if clasz == nil || teacher == nil {
			return nil, fmt.Errorf("%w: %s needs clasz.teacher", spec.ErrPluginContract, b.Key)
		}
		return fmt.Sprintf("%s - %s", clasz["name"], teacher["name"]), nil
	},
)

var schoolTitle = plugins.MustExpr(
	`school.lea.name + ": " + school.name`,
	spec.Spec{spec.Rel("school", spec.Field("name"), spec.Rel("lea", spec.Field("name")))},
)

// All returns every demo endpoint.
func All() []*engine.Endpoint {
	return []*engine.Endpoint{
		{
			Name:   "teachers",
			Entity: "teacher",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("school", spec.Fields("id", "name")...),
				spec.Rel("class_set", spec.Fields("id", "name")...),
			},
			Detail: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("school", spec.Fields("id", "name")...),
				spec.Aliased("classes", "class_set", spec.Fields("id", "name")...),
			},
			Order: []fetch.OrderClause{{Field: "name"}},
		},
		{
			Name:   "students",
			Entity: "student",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("classes", spec.Fields("id", "name")...),
			},
			Order: []fetch.OrderClause{{Field: "name"}},
		},
		{
			Name:   "classes",
			Entity: "class",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("teacher",
					spec.Field("id"),
					spec.Field("name"),
					spec.Rel("school", spec.Fields("id", "name")...),
				),
				spec.Rel("student_set", spec.Field("name")),
			},
		},
		{
			Name:   "subjects",
			Entity: "subject",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("class_set",
					spec.Field("id"),
					spec.Field("name"),
					spec.Rel("teacher", spec.Fields("id", "name")...),
				),
			},
		},
		{
			Name:   "schools",
			Entity: "school",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("lea",
					spec.Field("id"),
					spec.Field("name"),
					spec.Rel("school_set", spec.Fields("id", "name")...),
				),
			},
		},
		{
			Name:   "students-detail",
			Entity: "student",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Rel("assignments", spec.Field("name")),
				spec.Rel("assignmentstudent_set",
					spec.Field("is_complete"),
					spec.Rel("assignment", spec.Field("name")),
				),
			},
		},
		{
			Name:   "assignments",
			Entity: "assignment",
			Spec: spec.Spec{
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
			},
		},
		{
			Name:   "students-with-classes-and-assignments",
			Entity: "student",
			Spec: spec.Spec{
				spec.Field("id"),
				spec.Field("name"),
				spec.Field("assignments"),
				spec.Field("classes"),
			},
		},
		{
			// Staff see every teacher with their workload; teachers see
			// themselves only.
			Name:   "staff",
			Entity: "teacher",
			SpecFunc: func(user *metadata.UserContext) spec.Spec {
				s := spec.Spec{
					spec.Field("name"),
					spec.Use("title", schoolTitle),
					spec.Use("teaches", plugins.Exists("class_set")),
				}
				if user.HasRole("staff") || user.IsAdmin() {
					s = append(s, spec.Use("class_count", plugins.CountOf("class_set")))
				}
				return s
			},
			Order: []fetch.OrderClause{{Field: "name"}},
			Permissions: []metadata.Permission{
				{Roles: []string{"staff"}},
				{
					Roles:      []string{"teacher"},
					Conditions: []metadata.PermissionCondition{{Field: "id", Operator: "eq", Value: "$user.id"}},
				},
			},
		},
		// Declares no spec, so every request fails as misconfigured.
		{Name: "misconfigured", Entity: "assignment"},
	}
}
