package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-file pipeline failure. One file's failure never
// aborts the batch; the kind travels with the terminal Failed event so the
// presentation layer can show it inline.
type ErrorKind string

const (
	KindDecode            ErrorKind = "DecodeError"
	KindEncode            ErrorKind = "EncodeError"
	KindWrite             ErrorKind = "WriteError"
	KindUnsupportedFormat ErrorKind = "UnsupportedFormatError"
	KindResolution        ErrorKind = "ResolutionError"
)

// Error is a typed per-file pipeline failure.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf extracts the ErrorKind from an error chain, or "" when the error is
// not a pipeline failure (e.g. a cancellation).
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
