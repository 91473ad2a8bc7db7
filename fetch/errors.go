package fetch

import (
	"github.com/pkg/errors"
)

// Kind classifies a download failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindProvider   Kind = "provider"
	KindSelection  Kind = "selection"
	KindFilesystem Kind = "filesystem"
	KindProcess    Kind = "process"
)

// Error is the single error type returned by Service.Download. Its message
// is meant for end users and carries the underlying diagnostic.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause reach the original failure.
func (e *Error) Cause() error { return errors.Cause(e.Err) }

func newError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

// KindOf reports the kind of err, or "" when err did not come from this
// package.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
