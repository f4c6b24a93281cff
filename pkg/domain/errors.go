package domain

import "fmt"

// ValidationError reports input that violates a pressure or reading
// constraint. The write is rejected and prior state is left untouched.
type ValidationError struct {
	Field      string
	Value      int
	Constraint string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.Field, e.Value, e.Constraint)
}

// StateError reports an operation attempted on an entry in the wrong
// lifecycle state, typically a closed entry.
type StateError struct {
	EntryID   string
	State     EntryState
	Operation string
}

func (e StateError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("ba entry %s is %s", e.EntryID, e.State)
	}
	return fmt.Sprintf("cannot %s ba entry %s: entry is %s", e.Operation, e.EntryID, e.State)
}

// ConfigurationError reports a missing or inconsistent system setting, such as
// the absence of a unique default pressure calculation model.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
