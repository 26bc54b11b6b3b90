package clock

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ntoll/drogulus/id"
)

// Fake is a Clock whose Now/WallNow only advance when told to, and
// whose RandID is a deterministic counter rather than true randomness.
// Used throughout the test suite to make convergence, expiry, and
// republication scenarios reproducible (spec.md §8).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64
}

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) WallNow() time.Time {
	return f.Now()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *Fake) RandID() (id.ID, error) {
	f.mu.Lock()
	f.counter++
	n := f.counter
	f.mu.Unlock()

	var out id.ID
	binary.BigEndian.PutUint64(out[len(out)-8:], n)
	return out, nil
}
