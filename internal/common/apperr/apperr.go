// Package apperr provides the supervisor's kind-tagged application error type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the named error categories surfaced by the domain layer.
type Kind string

const (
	KindProcess        Kind = "PROCESS"
	KindSessionNotFound Kind = "SESSION_NOT_FOUND"
	KindAgentNotFound   Kind = "AGENT_NOT_FOUND"
	KindDatabase        Kind = "DATABASE"
	KindEventEmission   Kind = "EVENT_EMISSION"
	KindIO              Kind = "IO"
	KindJSON            Kind = "JSON"
)

// AppError is the application-wide error type carrying a stable Kind.
type AppError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func httpStatusFor(k Kind) int {
	switch k {
	case KindSessionNotFound, KindAgentNotFound:
		return http.StatusNotFound
	case KindProcess, KindDatabase, KindEventEmission, KindIO, KindJSON:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func newErr(k Kind, message string, err error) *AppError {
	return &AppError{Kind: k, Message: message, HTTPStatus: httpStatusFor(k), Err: err}
}

// Process reports a failure to spawn, signal, or reap an agent child process.
func Process(message string, err error) *AppError { return newErr(KindProcess, message, err) }

// SessionNotFound reports that the requested session id is unknown.
func SessionNotFound(sessionID string) *AppError {
	return newErr(KindSessionNotFound, fmt.Sprintf("session %q not found", sessionID), nil)
}

// AgentNotFound reports that the requested agent name has no runner binding.
func AgentNotFound(agentName string) *AppError {
	return newErr(KindAgentNotFound, fmt.Sprintf("agent %q not found", agentName), nil)
}

// Database reports a repository-layer persistence failure.
func Database(message string, err error) *AppError { return newErr(KindDatabase, message, err) }

// EventEmission reports a non-fatal failure to publish a domain event.
func EventEmission(message string, err error) *AppError {
	return newErr(KindEventEmission, message, err)
}

// IO reports a generic I/O failure (pipes, file writes).
func IO(message string, err error) *AppError { return newErr(KindIO, message, err) }

// JSON reports a failure to marshal or unmarshal structured data.
func JSON(message string, err error) *AppError { return newErr(KindJSON, message, err) }

// Wrap attaches additional context to err, preserving its Kind if it is
// already an *AppError, or tagging it KindIO otherwise.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:       appErr.Kind,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return newErr(KindIO, message, err)
}

// Is reports whether err is an *AppError of the given Kind.
func Is(err error, k Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == k
	}
	return false
}

// HTTPStatus returns the HTTP status code associated with err, defaulting to
// 500 for errors that are not *AppError.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
