package errors

import (
	goerrors "errors"
)

// Standard library passthroughs so callers only need to import this package.

func Unwrap(err error) error        { return goerrors.Unwrap(err) }
func Is(err, target error) bool     { return goerrors.Is(err, target) }
func As(err error, target any) bool { return goerrors.As(err, target) }
func Join(errs ...error) error      { return goerrors.Join(errs...) }
