// Package dht implements the routing table: the dynamic binary trie of
// k-buckets a node uses to remember the peers nearest to any given
// point in the keyspace (spec.md §4.C, §4.D, §4.E).
package dht

import (
	"time"

	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/transport"
)

// Contact is everything the routing table remembers about a peer
// (spec.md §4.C "Contact"): its identifier, its network address, and
// liveness bookkeeping used to decide eviction and replacement.
type Contact struct {
	ID       id.ID
	Addr     transport.Addr
	Version  uint32
	LastSeen time.Time

	// FailedRPCs counts consecutive RPCs to this contact that timed out
	// without a reply. A successful reply resets it to zero.
	FailedRPCs int
}

// Touch records a successful contact from this peer, used both for
// freshly learned contacts and for refreshing an existing one.
func (c *Contact) Touch(now time.Time) {
	c.LastSeen = now
	c.FailedRPCs = 0
}
