package domain

import "fmt"

// ConflictError is returned by repositories when a unique constraint
// rejects a write. Field names the conflicting attribute.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}
