package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/invariant"
	"github.com/sirupsen/logrus"
)

// Config tunes the routing table's shape (spec.md §4.D, §4.E).
type Config struct {
	// K is the capacity of each k-bucket. Zero means DefaultK.
	K int

	// B is the relaxed-split parameter: with B > 1, a full bucket whose
	// range does not contain self may also split when its trie depth is
	// not a multiple of B. B=1 (the default) disables the refinement and
	// reproduces the classic "split iff the bucket's range contains self"
	// rule.
	B int

	// RefreshInterval is how often an untouched bucket is due for a
	// refresh lookup (spec.md §4.E default: 3600s).
	RefreshInterval time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{K: DefaultK, B: 1, RefreshInterval: time.Hour}
}

// trieNode is one node of the binary routing trie. A leaf holds a
// bucket; an interior node holds two children split on the next bit of
// the keyspace below its depth.
type trieNode struct {
	bucket      *KBucket // nil for interior nodes
	left, right *trieNode
	depth       int // 0-based index of the bit this node splits on, for interior nodes
}

// RoutingTable is the dynamic splitting binary trie of k-buckets
// described in spec.md §4.E. Bucket 0 covers the entire keyspace;
// with the default B=1, buckets only split along the path toward self's
// own ID, so the table
// stays small (O(log n)) while resolution increases near self.
type RoutingTable struct {
	mu   sync.RWMutex
	self id.ID
	cfg  Config
	root *trieNode

	lastRefresh map[*KBucket]time.Time
}

// New creates a routing table for a node identified by self.
func New(self id.ID, cfg Config) *RoutingTable {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.B <= 0 {
		cfg.B = 1
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	rt := &RoutingTable{
		self:        self,
		cfg:         cfg,
		root:        &trieNode{bucket: NewKBucket(cfg.K)},
		lastRefresh: make(map[*KBucket]time.Time),
	}
	return rt
}

// bucketFor walks the trie to the leaf responsible for target,
// returning that leaf and its depth.
func (rt *RoutingTable) bucketFor(target id.ID) *trieNode {
	n := rt.root
	for n.bucket == nil {
		if bitAt(target, n.depth) == 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// bitAt returns the bit at position i (0 = most significant) of x's
// distance-irrelevant raw bytes, used only for trie descent, not XOR
// distance.
func bitAt(x id.ID, i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((x[byteIdx] >> bitIdx) & 1)
}

// Seen records contact from a live peer, splitting the responsible
// bucket if it is full and covers self's own range (spec.md §4.E).
func (rt *RoutingTable) Seen(c *Contact, now time.Time) {
	if c.ID == rt.self {
		return
	}
	logger := logrus.WithFields(logrus.Fields{"function": "Seen", "package": "dht", "id": c.ID.String()})

	rt.mu.Lock()
	defer rt.mu.Unlock()

	leaf := rt.bucketFor(c.ID)
	if leaf.bucket.Seen(c, now) {
		return
	}

	if !rt.canSplit(leaf) {
		logger.Debug("bucket full and not splittable, candidate deferred to replacement cache")
		return
	}

	rt.split(leaf)
	logger.WithField("depth", leaf.depth).Info("split k-bucket")

	// Retry on the now-split subtree.
	rt.bucketFor(c.ID).bucket.Seen(c, now)
}

// canSplit reports whether a full leaf bucket is eligible to split: its
// range must contain self's own ID, or, when B > 1, its depth must not
// be a multiple of B.
func (rt *RoutingTable) canSplit(leaf *trieNode) bool {
	selfBit := bitAt(rt.self, leaf.depth)
	coversSelf := rt.pathCoversSelf(leaf)
	if coversSelf {
		return true
	}
	if rt.cfg.B <= 1 {
		return false
	}
	_ = selfBit
	return leaf.depth < id.Bits-1 && leaf.depth%rt.cfg.B != 0
}

// pathCoversSelf reports whether the bits leading to leaf match self's
// own ID, i.e. leaf is on the path from the root to self.
func (rt *RoutingTable) pathCoversSelf(leaf *trieNode) bool {
	n := rt.root
	for n.bucket == nil {
		if n == leaf {
			return true
		}
		bit := bitAt(rt.self, n.depth)
		if bit == 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n == leaf
}

// split replaces leaf with two children, redistributing its contacts
// by the next bit of the keyspace.
func (rt *RoutingTable) split(leaf *trieNode) {
	old := leaf.bucket
	depth := leaf.depth
	oldContacts := old.Contacts()

	leaf.bucket = nil
	leaf.left = &trieNode{bucket: NewKBucket(rt.cfg.K), depth: depth + 1}
	leaf.right = &trieNode{bucket: NewKBucket(rt.cfg.K), depth: depth + 1}
	leaf.depth = depth

	for _, c := range oldContacts {
		if bitAt(c.ID, depth) == 0 {
			leaf.left.bucket.Seen(c, c.LastSeen)
		} else {
			leaf.right.bucket.Seen(c, c.LastSeen)
		}
	}

	redistributed := leaf.left.bucket.Len() + leaf.right.bucket.Len()
	invariant.Check(redistributed == len(oldContacts), "bucket split lost or duplicated a contact",
		logrus.Fields{"package": "dht", "depth": depth, "before": len(oldContacts), "after": redistributed})
}

// Remove evicts a contact after a failed liveness probe, promoting a
// replacement-cache entry in its place.
func (rt *RoutingTable) Remove(target id.ID) *Contact {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.bucketFor(target).bucket.Remove(target)
}

// Find returns the contact for target, if known.
func (rt *RoutingTable) Find(target id.ID) (*Contact, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.bucketFor(target).bucket.Find(target)
}

// Touch refreshes the liveness bookkeeping of a live contact, taking
// the table's lock so the update and any concurrent reader never race
// (spec.md §5 "routing table ... single-writer (the engine)"). Returns
// whether the contact was found.
func (rt *RoutingTable) Touch(target id.ID, now time.Time) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.bucketFor(target).bucket.Touch(target, now)
}

// RecordFailure increments a contact's failure count and evicts it once
// max consecutive failures have been recorded (spec.md §4.E "Failure
// accounting"). Returns whether eviction occurred.
func (rt *RoutingTable) RecordFailure(target id.ID, max int) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.bucketFor(target).bucket.RecordFailure(target, max)
}

// Closest returns up to k contacts nearest to target by XOR distance,
// gathered across bucket boundaries (spec.md §4.C "k_closest").
func (rt *RoutingTable) Closest(target id.ID, k int) []*Contact {
	if k <= 0 {
		k = rt.cfg.K
	}
	rt.mu.RLock()
	all := rt.allContacts()
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return id.Less(id.Distance(target, all[i].ID), id.Distance(target, all[j].ID))
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func (rt *RoutingTable) allContacts() []*Contact {
	var out []*Contact
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n.bucket != nil {
			out = append(out, n.bucket.Contacts()...)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(rt.root)
	return out
}

// Buckets returns every leaf bucket (spec.md §4.E). Refresh times are
// not included; StaleBuckets consults them.
func (rt *RoutingTable) Buckets() []*KBucket {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*KBucket
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n.bucket != nil {
			out = append(out, n.bucket)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(rt.root)
	return out
}

// MarkRefreshed records that bucket was just refreshed at now.
func (rt *RoutingTable) MarkRefreshed(b *KBucket, now time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.lastRefresh[b] = now
}

// StaleBuckets returns the buckets that were never passed to
// MarkRefreshed, or were last passed to it at least RefreshInterval
// before now. Contacts seen in a bucket do not count as a refresh.
func (rt *RoutingTable) StaleBuckets(now time.Time) []*KBucket {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var stale []*KBucket
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n.bucket != nil {
			last, ok := rt.lastRefresh[n.bucket]
			if !ok || now.Sub(last) >= rt.cfg.RefreshInterval {
				stale = append(stale, n.bucket)
			}
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(rt.root)
	return stale
}

// Size returns the total number of live contacts across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.allContacts())
}
