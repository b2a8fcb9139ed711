package models

// Scope represents a level in the override hierarchy.
// Layers are strictly ordered by increasing specificity:
// system, then location, then user.
type Scope string

const (
	// ScopeSystem applies to every context.
	ScopeSystem Scope = "system"
	// ScopeLocation applies to every context bound to one location.
	ScopeLocation Scope = "location"
	// ScopeUser applies to a single user.
	ScopeUser Scope = "user"
)

// Valid reports whether s is one of the three hierarchy scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSystem, ScopeLocation, ScopeUser:
		return true
	}
	return false
}

// Priority returns the specificity rank of the scope. Higher values win
// during resolution and order incoming sync messages.
func (s Scope) Priority() int {
	switch s {
	case ScopeSystem:
		return 1
	case ScopeLocation:
		return 2
	case ScopeUser:
		return 3
	}
	return 0
}
