// Package lockfile wraps the advisory file lock that coordinates multiple
// processes writing to the same dcat database directory. It is shared by
// the log store and the inbox store, both of which guard their
// append/compaction critical sections with the same ".issues.lock" file.
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock is a blocking advisory exclusive lock over a zero-byte file. The
// file is never read; it exists purely as a lock target.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock targeting path. The file is created on first
// acquisition if it does not already exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Acquire blocks until the exclusive lock is held. Per the append and
// compaction protocols, this call is never subject to a timeout: lock
// acquisition is blocking and deadlock avoidance is delegated to the OS.
func (l *Lock) Acquire() (func(), error) {
	if err := l.fl.Lock(); err != nil {
		return nil, fmt.Errorf("lockfile: acquire %s: %w", l.fl.Path(), err)
	}
	return func() {
		_ = l.fl.Unlock()
	}, nil
}
