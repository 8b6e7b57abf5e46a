// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Graph and reference errors.
var (
	ErrUnknownProject        = errors.New("unknown project")
	ErrUnknownTask           = errors.New("unknown task")
	ErrUnknownTarget         = errors.New("unknown target")
	ErrDuplicateProject      = errors.New("duplicate project id")
	ErrCycleDetected         = errors.New("cycle detected")
	ErrPersistentDependency  = errors.New("persistent tasks cannot be depended on by non-persistent tasks")
	ErrInvalidTaskDependency = errors.New("invalid task dependency")
)

// ErrShallowCheckout is reported by VCS adapters when history is truncated.
var ErrShallowCheckout = errors.New("shallow checkout")

// ErrCancelled is returned when the pipeline was cancelled before completion.
var ErrCancelled = errors.New("pipeline cancelled")

// CycleError carries the labels of the nodes that form a dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " → ")
}

// Is reports whether target is ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
