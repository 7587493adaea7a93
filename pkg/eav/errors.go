package eav

import (
	"errors"

	"github.com/ncruces/go-sqlite3"
)

var (
	// ErrKeyExists is returned when creating an entity whose key is already taken.
	ErrKeyExists = errors.New("eav: entity key already exists")

	// ErrStaleEnt is returned when an optimistic-concurrency check matches zero
	// rows: another writer mutated the entity since it was read.
	ErrStaleEnt = errors.New("eav: entity was modified concurrently")

	// ErrUnknownFilter is returned when a filter operator is neither a binary
	// comparison nor the existence literal.
	ErrUnknownFilter = errors.New("eav: unknown filter type")

	// ErrUnsupportedValue is returned when a value's type has no codec mapping.
	ErrUnsupportedValue = errors.New("eav: unsupported value type")
)

// isKeyConflict reports whether err is a primary-key or unique-constraint
// violation from the SQLite driver.
func isKeyConflict(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) ||
		errors.Is(err, sqlite3.CONSTRAINT_UNIQUE)
}
