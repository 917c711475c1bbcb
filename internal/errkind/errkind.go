// Package errkind tags errors with the request-facing taxonomy of the system
// so the proxy engine and audit log can agree on a stable vocabulary without
// string-matching error messages.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories the data plane needs to distinguish
// when deciding how to answer a client or what to write to the audit log.
type Kind string

const (
	ClientProtocol               Kind = "client_protocol"
	Unauthorized                 Kind = "unauthorized"
	NotFound                     Kind = "not_found"
	UpstreamUnreachable          Kind = "upstream_unreachable"
	UpstreamTimeout              Kind = "upstream_timeout"
	ConfigInvalid                Kind = "config_invalid"
	CertificateAcquisitionFailed Kind = "certificate_acquisition_failed"
	Fatal                        Kind = "fatal"
)

// Error wraps an underlying error with a Kind and, for HTTP-facing kinds, the
// status code the proxy should answer with.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error carrying the HTTP status that kind implies.
func New(kind Kind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind (and its default status) to an existing error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Status: defaultStatus(kind), Err: err}
}

func defaultStatus(kind Kind) int {
	switch kind {
	case ClientProtocol:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case UpstreamUnreachable:
		return http.StatusBadGateway
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case ConfigInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// As extracts a *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// StatusOf returns the HTTP status that best represents err, defaulting to
// 500 if err carries no Kind.
func StatusOf(err error) int {
	if ke, ok := As(err); ok {
		return ke.Status
	}
	return http.StatusInternalServerError
}
