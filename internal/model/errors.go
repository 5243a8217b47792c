package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backup/restore failures into the categories the
// calling layer reacts to.
type ErrorKind string

const (
	// KindAuthExpired means the stored destination credential is no longer
	// accepted. The destination stays enabled; every attempt fails the same
	// way until the user re-authorizes.
	KindAuthExpired ErrorKind = "auth_expired"
	// KindQuotaExceeded means the destination rejected the upload for lack
	// of space.
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	// KindNetworkError is transient and safe to retry with backoff.
	KindNetworkError ErrorKind = "network_error"
	// KindConfigInvalid is terminal until the destination is reconfigured.
	KindConfigInvalid ErrorKind = "config_invalid"
	// KindBackupInProgress rejects a concurrent trigger for the same
	// (user, destination) pair.
	KindBackupInProgress ErrorKind = "backup_in_progress"
	// KindUnsupportedFormat rejects archives newer than this build understands.
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	// KindValidationError rejects malformed archives.
	KindValidationError ErrorKind = "validation_error"
	// KindRestoreConflict is reserved. The insert-only merge policy never
	// produces it; it exists so an eventual upsert mode has a home.
	KindRestoreConflict ErrorKind = "restore_conflict"
)

// Error is the typed domain error carried across the service boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a domain error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapE wraps an underlying error with a domain kind.
func WrapE(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from an error chain. It returns an empty
// kind for errors that are not domain errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
