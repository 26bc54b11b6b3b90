package dht

import (
	"time"

	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/invariant"
	"github.com/sirupsen/logrus"
)

// DefaultK is the default bucket capacity (spec.md §4.D, "k = 20 by
// default").
const DefaultK = 20

// KBucket holds up to K live contacts ordered least-recently-seen first,
// plus a small FIFO replacement cache of contacts learned while the
// bucket was full (spec.md §4.D).
//
// Eviction policy: a full bucket never evicts a live contact purely to
// make room for a new one. Instead the least-recently-seen contact is
// probed; only if that probe fails is it evicted and replaced from the
// cache. This is the same "prefer long-lived nodes" policy the teacher's
// flat routing table used, just scoped to one bucket instead of the
// whole table.
type KBucket struct {
	k        int
	contacts []*Contact // index 0 = least-recently-seen, last = most-recently-seen
	cache    []*Contact // FIFO replacement candidates, oldest first
	cacheCap int
}

// NewKBucket creates an empty bucket with capacity k and a replacement
// cache of the same size.
func NewKBucket(k int) *KBucket {
	if k <= 0 {
		k = DefaultK
	}
	return &KBucket{k: k, cacheCap: k}
}

// Len reports the number of live contacts currently held.
func (b *KBucket) Len() int {
	return len(b.contacts)
}

// Full reports whether the bucket has reached capacity.
func (b *KBucket) Full() bool {
	return len(b.contacts) >= b.k
}

// Find returns a copy of the live contact with the given ID, if
// present. The returned value is independent of the bucket's own
// bookkeeping: callers that need to refresh liveness state must go
// through Touch/RecordFailure (or RoutingTable.Touch/RecordFailure),
// not mutate the copy.
func (b *KBucket) Find(target id.ID) (*Contact, bool) {
	for _, c := range b.contacts {
		if c.ID == target {
			cp := *c
			return &cp, true
		}
	}
	return nil, false
}

// Contacts returns a snapshot of the bucket's live contacts,
// least-recently-seen first. Each element is a copy; mutating one has
// no effect on the bucket's own state.
func (b *KBucket) Contacts() []*Contact {
	out := make([]*Contact, len(b.contacts))
	for i, c := range b.contacts {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Oldest returns a copy of the least-recently-seen contact, or nil if
// the bucket is empty.
func (b *KBucket) Oldest() *Contact {
	if len(b.contacts) == 0 {
		return nil
	}
	cp := *b.contacts[0]
	return &cp
}

// Touch refreshes the liveness bookkeeping of the named live contact in
// place. Returns whether the contact was found.
func (b *KBucket) Touch(target id.ID, now time.Time) bool {
	if i := b.indexOf(target); i >= 0 {
		b.contacts[i].Touch(now)
		return true
	}
	return false
}

// RecordFailure increments the named contact's failure count and, once
// it reaches max, evicts it in favor of a replacement-cache entry.
// Returns whether eviction occurred.
func (b *KBucket) RecordFailure(target id.ID, max int) bool {
	i := b.indexOf(target)
	if i < 0 {
		return false
	}
	b.contacts[i].FailedRPCs++
	if b.contacts[i].FailedRPCs < max {
		return false
	}
	b.Remove(target)
	return true
}

// Seen records contact from a known-live peer, per spec.md §4.D:
//   - if already present, move it to the most-recently-seen end
//   - else if the bucket has room, append it
//   - else, stash it in the replacement cache and report that the
//     caller should probe the oldest contact (liveness check)
//
// Returns true if the bucket's live set changed.
func (b *KBucket) Seen(c *Contact, now time.Time) (changed bool) {
	if i := b.indexOf(c.ID); i >= 0 {
		b.contacts[i].Touch(now)
		b.moveToBack(i)
		return true
	}
	if !b.Full() {
		c.Touch(now)
		b.contacts = append(b.contacts, c)
		invariant.Check(len(b.contacts) <= b.k, "k-bucket exceeded capacity",
			logrus.Fields{"package": "dht", "len": len(b.contacts), "k": b.k})
		return true
	}
	b.pushCache(c)
	return false
}

// Remove evicts a live contact (e.g. after a failed liveness probe) and
// promotes the newest replacement-cache entry in its place, if any.
// Returns the promoted contact, or nil if the cache was empty.
func (b *KBucket) Remove(target id.ID) *Contact {
	i := b.indexOf(target)
	if i < 0 {
		return nil
	}
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)

	if len(b.cache) == 0 {
		return nil
	}
	promoted := b.cache[len(b.cache)-1]
	b.cache = b.cache[:len(b.cache)-1]
	b.contacts = append(b.contacts, promoted)
	return promoted
}

func (b *KBucket) indexOf(target id.ID) int {
	for i, c := range b.contacts {
		if c.ID == target {
			return i
		}
	}
	return -1
}

func (b *KBucket) moveToBack(i int) {
	c := b.contacts[i]
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	b.contacts = append(b.contacts, c)
}

// pushCache stashes c as the most recent replacement candidate,
// dropping the oldest candidate if the cache is already full.
func (b *KBucket) pushCache(c *Contact) {
	for i, cc := range b.cache {
		if cc.ID == c.ID {
			b.cache = append(b.cache[:i], b.cache[i+1:]...)
			break
		}
	}
	b.cache = append(b.cache, c)
	if len(b.cache) > b.cacheCap {
		b.cache = b.cache[1:]
	}
}
