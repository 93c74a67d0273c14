package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrPersistence       = errors.New("persistence failure")
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrTokenTaken is returned by storage when an auth token collides with
	// one already assigned to an account.
	ErrTokenTaken = errors.New("auth token already taken")

	// ErrEmailTaken is returned by storage when an email is already registered.
	ErrEmailTaken = errors.New("email already taken")
)

// ValidationError carries field-level messages, e.g. {"price": ["is not a number"]}.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns nil when no field failed so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ForbiddenError struct {
	AccountID string
	Entity    string
	ID        string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("account %s does not own %s %s", e.AccountID, e.Entity, e.ID)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

type ResourceExhaustedError struct {
	Resource string
	Attempts int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s exhausted after %d attempts", e.Resource, e.Attempts)
}

func (e *ResourceExhaustedError) Is(target error) bool { return target == ErrResourceExhausted }
