package fetch

import "errors"

var (
	// ErrInvalidPlan is returned when a plan names a field, relation or
	// operator the entity metadata does not support.
	ErrInvalidPlan = errors.New("invalid fetch plan")

	// ErrDataInconsistency is returned when fetched rows contradict the
	// relation metadata, e.g. a non-null link pointing at no row.
	ErrDataInconsistency = errors.New("data inconsistency")
)
