// Package store implements the local datastore (spec.md §4.F): a map
// from key to a verified item plus the last-requested/last-republished
// bookkeeping the republication and caching policies need.
package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
	"github.com/sirupsen/logrus"
)

// entry pairs a verified item with the bookkeeping timestamps the
// republication pass (§4.F) consults.
type entry struct {
	item            *item.Item
	lastRequested   time.Time
	lastRepublished time.Time

	// lastReceived is the most recent time any STORE for this key
	// arrived, whether or not it changed the held item. It drives the
	// republish-skip optimization ("skip republication if the item
	// itself was republished to us within the cycle") and is distinct
	// from lastRepublished, which only advances when this node's own
	// republication pass runs or an item is inserted (first insert or
	// replacement by a newer item): the
	// idempotent store(i); store(i) case must leave lastRepublished
	// untouched (spec.md §8) while still recording that a copy just
	// arrived.
	lastReceived time.Time
}

// Store is a node's local key/value datastore.
type Store struct {
	mu      sync.RWMutex
	self    id.ID
	entries map[id.ID]*entry

	// index is an optional bounded LRU used only when SoftCap > 0
	// (spec.md §4.F doesn't mandate a capacity, but a production node
	// needs one to stay within bounded memory; when configured, the
	// least-recently-touched entry is evicted to make room for new
	// ones instead of growing without limit).
	index *lru.Cache[id.ID, struct{}]
}

// New creates an empty Store for a node identified by self. softCap, if
// greater than zero, bounds the number of entries kept: the
// least-recently-touched item is evicted once the cap is exceeded.
func New(self id.ID, softCap int) (*Store, error) {
	s := &Store{self: self, entries: make(map[id.ID]*entry)}
	if softCap > 0 {
		idx, err := lru.NewWithEvict[id.ID, struct{}](softCap, func(key id.ID, _ struct{}) {
			// Runs synchronously within the caller's held s.mu lock; do
			// not re-lock here.
			delete(s.entries, key)
		})
		if err != nil {
			return nil, err
		}
		s.index = idx
	}
	return s, nil
}

// Insert validates it and applies the newer-wins ordering rule
// (spec.md §4.F "Insert/replace"). It reports whether the datastore's
// entry for it.Key changed.
func (s *Store) Insert(it *item.Item, now time.Time) (bool, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Insert", "package": "store", "key": it.Key.String()})

	if err := item.Verify(it, now); err != nil {
		logger.WithError(err).Warn("rejected invalid item")
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[it.Key]
	if ok {
		existing.lastReceived = now
		if !item.Newer(it, existing.item) {
			logger.Debug("rejected item: not newer than stored entry")
			return false, nil
		}
	}

	s.entries[it.Key] = &entry{item: it, lastRepublished: now, lastReceived: now}
	if s.index != nil {
		s.index.Add(it.Key, struct{}{})
	}
	logger.Debug("inserted item")
	return true, nil
}

// Get returns the item for key, recording that it was requested at now
// (spec.md §4.F last-requested bookkeeping, used by the republication
// pass's distance-based pruning).
func (s *Store) Get(key id.ID, now time.Time) (*item.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e.lastRequested = now
	if s.index != nil {
		s.index.Get(key)
	}
	return e.item, true
}

// Peek returns the item for key without updating last-requested.
func (s *Store) Peek(key id.ID) (*item.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.item, true
}

// Delete unconditionally removes an entry.
func (s *Store) Delete(key id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	if s.index != nil {
		s.index.Remove(key)
	}
}

// Len reports the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ExpireScan deletes every entry whose item has expired as of now
// (spec.md §4.F "Expiry scan": "expires != 0 and expires < now are
// deleted unconditionally"). Returns the number of entries removed.
func (s *Store) ExpireScan(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !e.item.Expires.IsZero() && e.item.Expires.Before(now) {
			delete(s.entries, key)
			if s.index != nil {
				s.index.Remove(key)
			}
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{"function": "ExpireScan", "package": "store", "removed": removed}).Debug("expired items removed")
	}
	return removed
}

// DueForRepublish returns every item whose last-republished timestamp
// is at least interval old, skipping any item a peer's own republish
// already delivered to this node within the current cycle (spec.md
// §4.F "Skip republication if the item itself was republished to us
// within the cycle").
func (s *Store) DueForRepublish(now time.Time, interval time.Duration) []*item.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*item.Item
	for _, e := range s.entries {
		if now.Sub(e.lastRepublished) < interval {
			continue
		}
		if now.Sub(e.lastReceived) < interval {
			continue
		}
		due = append(due, e.item)
	}
	return due
}

// MarkRepublished records that key was republished by this node's own
// republication pass at now. Receipt of a copy from someone else's
// republication pass is tracked separately by Insert's lastReceived
// bookkeeping, not by this method.
func (s *Store) MarkRepublished(key id.ID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.lastRepublished = now
	}
}

// PruneCaching drops entries that haven't been requested in interval
// and lie farther than the node cares to keep caching for. The store
// does not record who published an entry, so these two conditions alone
// decide, per spec.md §4.F: "If now - last_requested ≥
// T_republish AND the distance from self.id to the item's key exceeds
// a threshold derived from bucket depth, the item is a caching copy
// and may be dropped locally." isFar receives the candidate key and
// reports whether that threshold is exceeded; the concrete threshold
// is a property of the routing table, not the datastore, so it is
// supplied by the caller (package node).
func (s *Store) PruneCaching(now time.Time, interval time.Duration, isFar func(id.ID) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, e := range s.entries {
		if now.Sub(e.lastRequested) >= interval && isFar(key) {
			delete(s.entries, key)
			if s.index != nil {
				s.index.Remove(key)
			}
			dropped++
		}
	}
	return dropped
}

// Items returns a snapshot of every item currently stored, e.g. for
// scenario/property tests that must inspect the whole datastore.
func (s *Store) Items() []*item.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*item.Item, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.item)
	}
	return out
}
