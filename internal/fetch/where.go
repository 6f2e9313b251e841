package fetch

import (
	"fmt"
	"reflect"
	"strings"

	"serialspec/internal/store"
)

var operators = map[string]bool{
	"": true, "eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "not_in": true, "like": true, "contains": true, "icontains": true,
	"startswith": true, "istartswith": true, "isnull": true,
}

func checkOperator(op string) error {
	if !operators[op] {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPlan, op)
	}
	return nil
}

// ParseFilterKey splits "name.icontains" into ("name", "icontains") and
// "name" into ("name", "eq"). Paths keep their dots: "classes.name.eq".
func ParseFilterKey(key string) (string, string) {
	if i := strings.LastIndex(key, "."); i >= 0 && operators[key[i+1:]] {
		return key[:i], key[i+1:]
	}
	return key, "eq"
}

func buildWhereClause(d store.Dialect, column string, w WhereClause, pb store.ParamBuilder) string {
	switch w.Operator {
	case "eq", "":
		if w.Value == nil {
			return column + " IS NULL"
		}
		return fmt.Sprintf("%s = %s", column, pb.Add(w.Value))
	case "neq":
		if w.Value == nil {
			return column + " IS NOT NULL"
		}
		return fmt.Sprintf("%s != %s", column, pb.Add(w.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", column, pb.Add(w.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", column, pb.Add(w.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", column, pb.Add(w.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", column, pb.Add(w.Value))
	case "in":
		return d.In(column, pb, toSlice(w.Value))
	case "not_in":
		return d.NotIn(column, pb, toSlice(w.Value))
	case "like":
		return fmt.Sprintf("%s LIKE %s", column, pb.Add(w.Value))
	case "contains":
		return fmt.Sprintf("%s LIKE %s", column, pb.Add("%"+likeText(w.Value)+"%"))
	case "icontains":
		return d.ILike(column, pb, "%"+likeText(w.Value)+"%")
	case "startswith":
		return fmt.Sprintf("%s LIKE %s", column, pb.Add(likeText(w.Value)+"%"))
	case "istartswith":
		return d.ILike(column, pb, likeText(w.Value)+"%")
	case "isnull":
		if truthy(w.Value) {
			return column + " IS NULL"
		}
		return column + " IS NOT NULL"
	default:
		return fmt.Sprintf("%s = %s", column, pb.Add(w.Value))
	}
}

// likeText renders a pattern operand. Wildcards inside the value are not
// escaped and keep their LIKE meaning.
func likeText(v any) string {
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1"
	case nil:
		return false
	default:
		return true
	}
}

// toSlice turns any slice value into []any so dialects can expand it.
func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
