package task

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("task not found")

// InvalidStateError is returned when an operation is not allowed in the
// task's current status.
type InvalidStateError struct {
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("Task is running. Stop it before restarting. Current status: %s", e.Status)
}

func notFound(id string) error {
	return fmt.Errorf("Task with ID %s: %w", id, ErrNotFound)
}
