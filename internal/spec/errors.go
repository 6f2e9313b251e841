package spec

import "errors"

var (
	// ErrConfig reports a declaration that cannot be compiled: a missing
	// spec, an unknown field or relation, a malformed Filtered node or two
	// conflicting declarations of one key.
	ErrConfig = errors.New("serialization spec misconfigured")

	// ErrPluginContract reports a plugin used outside its contract, e.g.
	// asked for a value before being bound to a key.
	ErrPluginContract = errors.New("plugin contract violation")
)
