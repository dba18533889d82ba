package ledger

import "context"

// Ledger records every media file saved into the library so repeated
// runs can recognise content that was already imported.
// Consumers should depend on this interface rather than the concrete *DB type.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
	SetLibraryPath(ctx context.Context, sum, libraryPath string) error
	Forget(ctx context.Context, sum string) error
	Has(ctx context.Context, sum string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]Entry, int, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
