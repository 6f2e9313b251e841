package metadata

// Permission grants read access to an endpoint to the listed roles,
// optionally restricted to the rows matching Conditions.
type Permission struct {
	Roles      []string              `json:"roles"`
	Conditions []PermissionCondition `json:"conditions,omitempty"`
}

// PermissionCondition is a field-level row condition. The value "$user.id"
// stands for the requesting user's id.
type PermissionCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}
