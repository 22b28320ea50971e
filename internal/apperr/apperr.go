// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package apperr classifies service errors so handlers can map them to
// HTTP status codes without inspecting component internals.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind describes the class of a failure.
type Kind int

const (
	// Internal is an unexpected failure. The zero value on purpose.
	Internal Kind = iota
	// Invalid is malformed or out-of-range input. Not retryable.
	Invalid
	// NotFound is an unknown profile or session.
	NotFound
	// Unavailable is a transient store/cache/chain failure. Retryable.
	Unavailable
	// Conflict is an upsert that lost a race after bounded retries.
	Conflict
)

// Error is a classified error with an operator-facing message.
type Error struct {
	Kind    Kind
	Message string
	// Fields lists offending input fields for Invalid errors.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Invalidf creates a validation error naming the offending fields.
func Invalidf(fields []string, format string, args ...any) *Error {
	return &Error{Kind: Invalid, Message: fmt.Sprintf(format, args...), Fields: fields}
}

// KindOf returns the Kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code of the API error contract.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unavailable:
		return http.StatusServiceUnavailable
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
