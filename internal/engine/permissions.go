package engine

import (
	"fmt"
	"strings"

	"serialspec/internal/fetch"
	"serialspec/internal/metadata"
)

// CheckPermission verifies that the user may read the endpoint. An endpoint
// without policies is public. Admin bypasses all checks; otherwise any
// policy sharing a role with the user grants access.
func CheckPermission(user *metadata.UserContext, ep *Endpoint) error {
	if len(ep.Permissions) == 0 {
		return nil
	}
	if user == nil {
		return UnauthorizedError("Authentication required")
	}
	if user.IsAdmin() {
		return nil
	}
	for _, p := range ep.Permissions {
		if hasRoleIntersection(user.Roles, p.Roles) {
			return nil
		}
	}
	return ForbiddenError(fmt.Sprintf("Permission denied for %s", ep.Name))
}

// ReadFilters returns the row conditions of every policy granted to the
// user, as restrictions on the endpoint's root query. Admin users get none.
func ReadFilters(user *metadata.UserContext, ep *Endpoint) []fetch.WhereClause {
	if user == nil || user.IsAdmin() {
		return nil
	}

	var filters []fetch.WhereClause
	for _, p := range ep.Permissions {
		if !hasRoleIntersection(user.Roles, p.Roles) {
			continue
		}
		for _, cond := range p.Conditions {
			value := cond.Value
			if s, ok := value.(string); ok && s == "$user.id" {
				value = user.ID
			}
			filters = append(filters, fetch.WhereClause{
				Field:    cond.Field,
				Operator: cond.Operator,
				Value:    value,
			})
		}
	}
	return filters
}

func hasRoleIntersection(userRoles, policyRoles []string) bool {
	for _, ur := range userRoles {
		for _, pr := range policyRoles {
			if strings.EqualFold(ur, pr) {
				return true
			}
		}
	}
	return false
}
