package services

import "errors"

// ErrorKind classifies domain failures so the HTTP layer can map them to
// status codes without parsing message strings.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindForbidden       ErrorKind = "forbidden"
	KindAlreadyMember   ErrorKind = "already_member"
	KindUnsupportedType ErrorKind = "unsupported_type"
	KindTooLarge        ErrorKind = "too_large"
	KindContentMismatch ErrorKind = "content_mismatch"
	KindTooManyFiles    ErrorKind = "too_many_files"
	KindStorageWrite    ErrorKind = "storage_write"
	KindConflict        ErrorKind = "conflict"
	KindInternal        ErrorKind = "internal"
)

type Error struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Reason
}

func newError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// KindOf extracts the kind from any error, defaulting to internal for
// errors that did not originate in this package.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}
