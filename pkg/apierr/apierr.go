// Package apierr provides the error taxonomy shared by the lifecycle
// engine, the HTTP layer, and the CLI. Low-level I/O errors are wrapped
// into one of these kinds at component boundaries; raw OS errors never
// cross the lifecycle contract.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindResource     Kind = "resource"
	KindIntegrity    Kind = "integrity"
	KindSecurity     Kind = "security"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// HTTPStatus maps the kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindSecurity:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindResource, KindIntegrity, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// WithDetails returns a copy of the error carrying extra detail fields.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: details, wrapped: e.wrapped}
}

// As converts any error to *Error, collapsing unknown errors to internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "an internal error occurred", wrapped: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// HasCode reports whether err carries the given stable code.
func HasCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// Validation builds a 400-class error for a specific field.
func Validation(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "validation_error",
		Message: fmt.Sprintf("validation failed: %s", message),
		Details: map[string]any{"field": field, "error": message},
	}
}

// NotFound builds a 404-class error naming the missing resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf("%s not found", resource)}
}

// AlreadyRunning: start or delete attempted while the child is live.
func AlreadyRunning(name string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "already_running",
		Message: fmt.Sprintf("server %q is already running", name),
	}
}

// AlreadyStopped: stop on a server that is not running. Callers treat this
// as informational; it never mutates server state.
func AlreadyStopped(name string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "already_stopped",
		Message: fmt.Sprintf("server %q is not running", name),
	}
}

// PortInUse carries the pid of the process holding the port, when known.
func PortInUse(port int, holderPID int32) *Error {
	details := map[string]any{"port": port}
	if holderPID > 0 {
		details["holder_pid"] = holderPID
	}
	return &Error{
		Kind:    KindConflict,
		Code:    "port_in_use",
		Message: fmt.Sprintf("tcp port %d is already in use", port),
		Details: details,
	}
}

// NameInUse: a server with that name already exists.
func NameInUse(name string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "name_in_use",
		Message: fmt.Sprintf("server name %q is already in use", name),
	}
}

// EulaMissing is fatal for start. The supervisor never writes eula.txt on
// the operator's behalf.
func EulaMissing(path string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "eula_missing",
		Message: "eula.txt is missing or not accepted; review and accept the Minecraft EULA first",
		Details: map[string]any{"path": path},
	}
}

// DigestMismatch: downloaded bytes failed verification. The partial
// artifact has already been removed when this is returned.
func DigestMismatch(url, algo, want, got string) *Error {
	return &Error{
		Kind:    KindIntegrity,
		Code:    "digest_mismatch",
		Message: fmt.Sprintf("%s digest mismatch for %s", algo, url),
		Details: map[string]any{"expected": want, "actual": got},
	}
}

// Refused builds a security refusal (path traversal, elevated principal,
// unauthenticated mutation).
func Refused(message string) *Error {
	return &Error{Kind: KindSecurity, Code: "security_refused", Message: message}
}

// Unauthorized: no credentials where credentials are required.
func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Code: "unauthorized", Message: "authentication required"}
}

// InvalidAPIKey: credentials were presented but failed verification.
// Deliberately does not say whether the prefix, secret, or active flag
// was at fault.
func InvalidAPIKey() *Error {
	return &Error{Kind: KindSecurity, Code: "invalid_api_key", Message: "invalid or revoked api key"}
}

// Resourcef wraps a cause as a resource failure (disk, config write,
// download exhaustion) with a stable code.
func Resourcef(cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindResource,
		Code:    "resource_error",
		Message: fmt.Sprintf(format, args...),
		wrapped: cause,
	}
}

// Internalf wraps a cause as an internal error.
func Internalf(cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "internal_error",
		Message: fmt.Sprintf(format, args...),
		wrapped: cause,
	}
}
