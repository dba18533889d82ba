// Package storage defines the media library abstraction and its
// file-system implementation.
package storage

import "context"

// Library is the destination that retrieved media is saved into.
type Library interface {
	// Authorize reports whether the library accepts writes. A refusal
	// wraps apperr.ErrPermissionDenied.
	Authorize(ctx context.Context) error
	// Save imports the file at localPath and returns its path inside the
	// library. A file the library cannot import as the declared kind
	// wraps apperr.ErrUnsupported.
	Save(ctx context.Context, localPath string, isVideo bool) (string, error)
}
