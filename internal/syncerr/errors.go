// Package syncerr defines the error taxonomy shared by the synchronization engine.
//
// Every failure the engine produces wraps one of the kind sentinels below so
// callers can decide, with errors.Is, how far a failure is allowed to travel:
//
//	if errors.Is(err, syncerr.ErrCatalog) {
//	    // abort this event only, keep the watcher running
//	}
package syncerr

import (
	"errors"
	"fmt"
)

// Kind sentinels. A wrapped error matches exactly one of these.
var (
	// ErrFilesystem covers watch setup and directory/file read failures.
	ErrFilesystem = errors.New("filesystem error")

	// ErrCatalog covers storage access failures in the catalog.
	ErrCatalog = errors.New("catalog error")

	// ErrContent covers hash, decode and compress failures on a single picture.
	ErrContent = errors.New("content processing error")

	// ErrTransport covers upload failures.
	ErrTransport = errors.New("transport error")

	// ErrPublish covers failures reported by the render/deploy pipeline.
	ErrPublish = errors.New("publish error")
)

// Conditions that are not failures of the engine itself.
var (
	// ErrDuplicateFolder is returned when a folder with the same path and
	// kind is already registered.
	ErrDuplicateFolder = errors.New("folder already registered")

	// ErrNotFound is returned by catalog lookups that match no row.
	ErrNotFound = errors.New("not found")
)

// kindError attaches a kind sentinel to a cause without hiding the cause.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &kindError{kind: kind, cause: err}
}

// Filesystem marks err as a filesystem failure. Returns nil for a nil err.
func Filesystem(err error) error { return wrap(ErrFilesystem, err) }

// Catalog marks err as a catalog failure.
func Catalog(err error) error { return wrap(ErrCatalog, err) }

// Content marks err as a content processing failure.
func Content(err error) error { return wrap(ErrContent, err) }

// Transport marks err as a transport failure.
func Transport(err error) error { return wrap(ErrTransport, err) }

// Publish marks err as a publish failure.
func Publish(err error) error { return wrap(ErrPublish, err) }

// IsFatal reports whether err should stop the component that produced it.
// Only filesystem failures qualify, and callers only consult this during
// one-time setup; per-event failures are never fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrFilesystem)
}

// IsRetryable reports whether the same operation may succeed on a later attempt
// without any operator action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrPublish)
}
