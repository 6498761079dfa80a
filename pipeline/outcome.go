package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sitecrew/construction-api/validation"
)

// Status is the terminal state of one pipeline run
type Status string

const (
	StatusSuccess           Status = "success"
	StatusAuthFailure       Status = "authFailure"
	StatusForbidden         Status = "forbidden"
	StatusValidationFailure Status = "validationFailure"
	StatusNotFound          Status = "notFound"
	StatusUnsupportedMedia  Status = "unsupportedMedia"
	StatusStorageFailure    Status = "storageFailure"
	StatusInternalError     Status = "internalError"
)

// HTTPStatus returns the HTTP status code for s
func (s Status) HTTPStatus() int {
	switch s {
	case StatusSuccess:
		return http.StatusOK
	case StatusAuthFailure:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusValidationFailure:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	case StatusUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case StatusStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code written in response bodies
func (s Status) Code() string {
	switch s {
	case StatusAuthFailure:
		return "unauthorized"
	case StatusForbidden:
		return "forbidden"
	case StatusValidationFailure:
		return "validation_failed"
	case StatusNotFound:
		return "not_found"
	case StatusUnsupportedMedia:
		return "unsupported_media_type"
	case StatusStorageFailure:
		return "storage_failure"
	case StatusSuccess:
		return "ok"
	default:
		return "internal_error"
	}
}

const (
	genericStorageMessage  = "File storage is currently unavailable"
	genericInternalMessage = "An internal error occurred"
)

// Failure is a pipeline failure of a given kind.
// Message is safe to show to callers; Err carries internal detail and is only logged.
type Failure struct {
	Status     Status
	Message    string
	Field      string
	Violations []validation.Violation
	Err        error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", f.Status, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Status, f.Message)
}

// Unwrap implements errors.Unwrap
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches any failure of the same status
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Status == t.Status
}

// PublicMessage returns the message written to the response body.
// Storage and internal failures never expose their detail.
func (f *Failure) PublicMessage() string {
	switch f.Status {
	case StatusStorageFailure:
		return genericStorageMessage
	case StatusInternalError:
		return genericInternalMessage
	}
	return f.Message
}

// Details returns the structured detail written alongside the message
func (f *Failure) Details() map[string]interface{} {
	switch f.Status {
	case StatusValidationFailure:
		violations := f.Violations
		if violations == nil {
			violations = []validation.Violation{}
		}
		return map[string]interface{}{"violations": violations}
	case StatusNotFound:
		if f.Field != "" {
			return map[string]interface{}{"field": f.Field}
		}
	}
	return nil
}

// NewAuthFailure creates an authentication failure
func NewAuthFailure(message string, err error) *Failure {
	return &Failure{Status: StatusAuthFailure, Message: message, Err: err}
}

// NewForbidden creates an authorization failure
func NewForbidden(message string) *Failure {
	return &Failure{Status: StatusForbidden, Message: message}
}

// NewValidationFailure creates a failure carrying every violation found
func NewValidationFailure(violations []validation.Violation) *Failure {
	return &Failure{
		Status:     StatusValidationFailure,
		Message:    "Validation failed",
		Violations: violations,
	}
}

// NewNotFound creates a failure naming the field whose reference did not resolve
func NewNotFound(field, message string) *Failure {
	return &Failure{Status: StatusNotFound, Message: message, Field: field}
}

// NewUnsupportedMedia creates an attachment rejection
func NewUnsupportedMedia(message string) *Failure {
	return &Failure{Status: StatusUnsupportedMedia, Message: message}
}

// NewStorageFailure wraps an object storage error
func NewStorageFailure(err error) *Failure {
	return &Failure{Status: StatusStorageFailure, Message: "object storage request failed", Err: err}
}

// NewInternalError wraps an unexpected error
func NewInternalError(err error) *Failure {
	return &Failure{Status: StatusInternalError, Message: "unexpected error", Err: err}
}

// AsFailure converts any error into a Failure. Errors that are not failures become internal errors.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewInternalError(err)
}

// StatusOf returns the pipeline status an error maps to
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	return AsFailure(err).Status
}

// IsAuthFailure checks if an error is an authentication failure
func IsAuthFailure(err error) bool { return StatusOf(err) == StatusAuthFailure }

// IsForbidden checks if an error is an authorization failure
func IsForbidden(err error) bool { return StatusOf(err) == StatusForbidden }

// IsValidationFailure checks if an error is a validation failure
func IsValidationFailure(err error) bool { return StatusOf(err) == StatusValidationFailure }

// IsNotFound checks if an error is a missing reference
func IsNotFound(err error) bool { return StatusOf(err) == StatusNotFound }

// IsUnsupportedMedia checks if an error is an attachment rejection
func IsUnsupportedMedia(err error) bool { return StatusOf(err) == StatusUnsupportedMedia }

// IsStorageFailure checks if an error is an object storage failure
func IsStorageFailure(err error) bool { return StatusOf(err) == StatusStorageFailure }

// Outcome is the result of one pipeline run
type Outcome struct {
	Status     Status
	HTTPStatus int
	Payload    interface{}
	Failure    *Failure
}

// Succeeded reports whether the run reached the response stage without failing
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

func failed(f *Failure) Outcome {
	return Outcome{Status: f.Status, HTTPStatus: f.Status.HTTPStatus(), Failure: f}
}
