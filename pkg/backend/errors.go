package backend

import (
	"context"
	"errors"
	"io/fs"
)

// ============================================================================
// Standard Backend Errors
// ============================================================================

// These errors give every backend a common way to report the conditions the
// cache layer reacts to. Implementations wrap them with context:
//
//	if !found {
//	    return fmt.Errorf("read %s: %w", path, backend.ErrNotFound)
//	}
//
// Callers test with errors.Is or the Is* helpers below.

var (
	// ErrNotFound indicates the target path does not exist.
	//
	// The cache layer surfaces it as a false/sentinel result. Only the raw
	// read primitives return it to callers.
	ErrNotFound = errors.New("path not found")

	// ErrExists indicates the target already exists.
	//
	// Idempotent creation calls (MakeDir) treat it as success.
	ErrExists = errors.New("path already exists")

	// ErrResourceExhausted indicates the backend cannot open more handles.
	//
	// This is the "too many open files" (EMFILE/ENFILE) condition on local
	// disks and request throttling on object stores. It is transient: the
	// cache layer hands the failed operation to its retry hook if one is
	// configured.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNotDir indicates a directory operation on a path that holds a
	// regular file. Unlike ErrExists it is never treated as success.
	ErrNotDir = errors.New("not a directory")

	// ErrNotEmpty indicates a non-recursive removal of a directory that
	// still has children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalidPath indicates a malformed or empty path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// Kind classifies a backend error into the taxonomy the cache layer uses.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindExists
	KindResourceExhausted
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindExists:
		return "exists"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "error"
	}
}

// Classify maps err to a Kind.
//
// Besides the sentinels above it recognizes the io/fs sentinels and the
// platform errno values for handle exhaustion, so drivers built on os or
// afero don't have to translate every error themselves.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrResourceExhausted), isHandleExhaustion(err):
		return KindResourceExhausted
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, ErrExists), errors.Is(err, fs.ErrExist):
		return KindExists
	default:
		return KindOther
	}
}

// IsNotFound reports whether err means the path is absent.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// IsExists reports whether err means the path already exists.
func IsExists(err error) bool {
	return Classify(err) == KindExists
}

// IsResourceExhausted reports whether err means too many open handles.
func IsResourceExhausted(err error) bool {
	return Classify(err) == KindResourceExhausted
}

// IsCancelled reports whether err comes from context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
