package blob

import (
	badgerstore "snapfeed/internal/infra/blob/badger"
)

// NewBadger constructs an embedded BadgerDB-backed blob.Store at path. An
// empty path opens an in-memory database.
func NewBadger(path string) (Store, error) {
	return badgerstore.New(path)
}
