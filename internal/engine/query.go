package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"serialspec/internal/fetch"
	"serialspec/internal/metadata"
)

// ApplyQueryParams narrows a list plan by the request's query parameters:
// filter[field]=val or filter[field.op]=val, and sort=-name,id. Filter paths
// may cross relations, e.g. filter[classes.name]=Math B.
func ApplyQueryParams(c *fiber.Ctx, p *fetch.Plan) (*fetch.Plan, error) {
	entity := p.Entity()
	var details []ErrorDetail

	var keys []string
	queries := c.Queries()
	for key := range queries {
		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		inner := key[7 : len(key)-1]
		path, op := fetch.ParseFilterKey(inner)

		field := fieldAt(p.Registry(), entity, path)
		if field == nil {
			details = append(details, ErrorDetail{Field: inner, Message: fmt.Sprintf("Unknown filter field: %s", path)})
			continue
		}
		coerced, err := coerceValue(field, queries[key], op)
		if err != nil {
			details = append(details, ErrorDetail{Field: inner, Message: fmt.Sprintf("Invalid filter value for %s: %v", path, err)})
			continue
		}
		p = p.Where(fetch.WhereClause{Field: path, Operator: op, Value: coerced})
	}

	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			desc := strings.HasPrefix(part, "-")
			field := strings.TrimPrefix(part, "-")
			if !entity.HasField(field) {
				details = append(details, ErrorDetail{Field: "sort", Message: fmt.Sprintf("Unknown sort field: %s", field)})
				continue
			}
			p = p.OrderBy(field, desc)
		}
	}

	if len(details) > 0 {
		return nil, InvalidQueryError(details)
	}
	if err := p.Err(); err != nil {
		return nil, InvalidQueryError([]ErrorDetail{{Message: err.Error()}})
	}
	return p, nil
}

// fieldAt resolves the field a dotted filter path ends in, or nil.
func fieldAt(reg *metadata.Registry, entity *metadata.Entity, path string) *metadata.Field {
	parts := strings.Split(path, ".")
	for _, key := range parts[:len(parts)-1] {
		acc, err := reg.Accessor(entity.Name, key)
		if err != nil {
			return nil
		}
		entity = acc.To
	}
	return entity.GetField(parts[len(parts)-1])
}

// coerceValue converts string query param values to appropriate Go types based on field metadata.
func coerceValue(field *metadata.Field, val string, op string) (any, error) {
	if op == "in" || op == "not_in" {
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}
	if op == "isnull" {
		return strconv.ParseBool(val)
	}
	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int":
		return strconv.Atoi(val)
	case "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "decimal":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
