// Package apperr holds the sentinel errors shared across the pipeline stages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	ErrInvalidInput       = errors.New("no recognizable link in input")
	ErrRedirectUnresolved = errors.New("short link could not be resolved")
	ErrFetchFailed        = errors.New("page fetch failed")
	ErrExtractionEmpty    = errors.New("no media found in note")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRetrievalFailed    = errors.New("media retrieval failed")
	ErrNoMediaFound       = errors.New("no downloadable media found")

	// Library save conditions the caller is expected to tolerate.
	ErrUnsupported = errors.New("unsupported media for library")
	ErrDuplicate   = errors.New("media already in library")
)

// IsFatal reports whether err must end a run rather than skip one link or item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
