// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in a state that allows the
// requested change, e.g. a second terminal write for the same task.
var ErrConflict = errors.New("conflict: resource state changed")

// ErrValidation indicates caller-supplied input was rejected.
var ErrValidation = errors.New("validation error")
