// Package apperr holds the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// NotFoundError names the missing resource. It matches ErrNotFound.
type NotFoundError struct {
	Resource string
}

func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness violation on a named field.
type ConflictError struct {
	Field string
	Msg   string
}

func Conflict(field, msg string) error {
	return &ConflictError{Field: field, Msg: msg}
}

func (e *ConflictError) Error() string { return e.Msg }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError flags a missing or malformed input field.
type ValidationError struct {
	Field string
	Msg   string
}

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

// Store wraps err as a StoreError. Nil stays nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStore reports whether err is a persistence failure.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
