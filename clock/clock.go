// Package clock provides the time and randomness collaborators the rest
// of the module depends on instead of calling time.Now or crypto/rand
// directly, so node and lookup behavior can be driven deterministically
// in tests (spec.md §6).
package clock

import (
	"crypto/rand"
	"time"

	"github.com/ntoll/drogulus/id"
)

// Clock is the injected source of time and randomness a node engine
// uses. Now backs liveness, datastore and staleness bookkeeping; WallNow
// backs item timestamps; RandID backs bucket-refresh lookup targets.
// Request timeouts, lookup deadlines and ticker periods use the standard
// library's timers, not this interface.
type Clock interface {
	// Now returns the current monotonic-safe time used for liveness,
	// datastore and staleness bookkeeping.
	Now() time.Time

	// WallNow returns the current wall-clock time used only when
	// stamping signed items (spec.md §6).
	WallNow() time.Time

	// RandID returns a random identifier, used as the target of a
	// bucket-refresh lookup. System draws it from crypto/rand.
	RandID() (id.ID, error)
}

// System is the production Clock, backed directly by the standard
// library's time and crypto/rand.
type System struct{}

// New returns the production Clock implementation.
func New() System { return System{} }

func (System) Now() time.Time     { return time.Now() }
func (System) WallNow() time.Time { return time.Now() }

func (System) RandID() (id.ID, error) {
	var out id.ID
	if _, err := rand.Read(out[:]); err != nil {
		return id.ID{}, err
	}
	return out, nil
}
