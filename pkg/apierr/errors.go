// Package apierr defines the error taxonomy shared by every layer of
// openmcpskills: storage, catalog, session, and the JSON-RPC/HTTP surfaces.
package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies which §7 error taxonomy entry an error belongs to.
type Kind string

const (
	KindProtocolMismatch   Kind = "protocol-mismatch"
	KindSessionNotFound    Kind = "session-not-found"
	KindToolNotFound       Kind = "tool-not-found"
	KindPermissionDenied   Kind = "permission-denied"
	KindInvalidManifest    Kind = "invalid-manifest"
	KindPackageTooLarge    Kind = "package-too-large"
	KindStorageUnavailable Kind = "storage-unavailable"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
)

// Sentinel errors for storage/catalog-layer comparisons via errors.Is.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflicting state")
)

// Error is a taxonomy-tagged error surfaced across package boundaries up to
// the JSON-RPC and REST layers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a taxonomy error wrapping cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ValidationError carries one field-level manifest or config violation.
// Loaders accumulate these into a ValidationErrors slice so every problem
// in an upload surfaces at once, matching the §6 upload/validate contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a non-empty collection of field violations.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	msg := v[0].Error()
	if len(v) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(v)-1)
	}
	return msg
}

// Add appends a field violation.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any violation was recorded.
func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }
