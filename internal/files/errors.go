package files

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chatcompose/internal/compose"
)

var (
	ErrFileNotFound            = errors.New("file not found")
	ErrStorageProviderNotFound = errors.New("storage provider not found")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrParse                   = errors.New("file could not be parsed")
)

// FailureClass groups file errors by the placeholder they produce.
type FailureClass string

const (
	FailureNotFound         FailureClass = "not_found"
	FailureProviderNotFound FailureClass = "provider_not_found"
	FailurePermissionDenied FailureClass = "permission_denied"
	FailureParse            FailureClass = "parse"
	FailureUnknown          FailureClass = "unknown"
)

// Classify maps an error to its FailureClass.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return FailurePermissionDenied
	case errors.Is(err, ErrParse):
		return FailureParse
	case errors.Is(err, ErrStorageProviderNotFound):
		return FailureProviderNotFound
	case errors.Is(err, ErrFileNotFound), errors.Is(err, compose.ErrNotFound):
		return FailureNotFound
	}
	return FailureUnknown
}

// ResolveError is a failed file resolution. It renders the placeholder the
// model sees in place of the file.
type ResolveError struct {
	FileID   uuid.UUID
	Filename string
	Class    FailureClass
	Err      error
}

func newResolveError(id uuid.UUID, filename string, err error) *ResolveError {
	if filename == "" {
		filename = UnknownFilename
	}
	return &ResolveError{FileID: id, Filename: filename, Class: Classify(err), Err: err}
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve file %s (%s): %s: %v", e.FileID, e.Filename, e.Class, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Placeholder implements compose.Placeholder.
func (e *ResolveError) Placeholder() string {
	switch e.Class {
	case FailurePermissionDenied:
		return FormatPermissionError(e.Filename, e.FileID)
	case FailureParse:
		return FormatError(e.Filename, e.FileID, true)
	}
	return FormatError(e.Filename, e.FileID, false)
}
