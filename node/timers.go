package node

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
	"github.com/ntoll/drogulus/lookup"
	"github.com/ntoll/drogulus/proto"
	"github.com/sirupsen/logrus"
)

// cachingPrefixThreshold is the minimum common-prefix length (in bits)
// with self an item's key must retain for this node to keep caching a
// non-owned copy of it (spec.md §4.F caching-eviction distance rule).
const cachingPrefixThreshold = 8

// refreshStaleBuckets runs a FIND_NODE lookup for every bucket that has
// not been marked refreshed within RefreshInterval (spec.md §4.E
// "Bucket refresh"), and probes each bucket's least-recently-seen
// contact so a genuinely dead head gets evicted in favor of its
// replacement-cache understudy (spec.md §4.E "Eviction policy").
func (n *Node) refreshStaleBuckets() {
	now := n.clk.Now()
	logger := logrus.WithFields(logrus.Fields{"function": "refreshStaleBuckets", "package": "node"})

	for _, b := range n.routing.StaleBuckets(now) {
		n.probeBucketHead(b)
		n.routing.MarkRefreshed(b, now)

		target, err := n.clk.RandID()
		if err != nil {
			logger.WithError(err).Warn("failed to draw refresh target")
			continue
		}
		seed := n.routing.Closest(target, n.cfg.K)
		if len(seed) == 0 {
			continue
		}
		sess, err := lookup.New(target, lookup.FindNode, seed, n, n.clk, n.lookupParams())
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, n.cfg.LookupDeadline)
		if _, err := sess.Run(ctx); err != nil {
			logger.WithError(err).Debug("bucket refresh lookup did not converge")
		}
		cancel()
	}
}

// probeBucketHead pings b's oldest contact with a bounded retry budget,
// evicting it (and promoting its replacement-cache understudy) only
// once every attempt has failed: a single dropped PING must not evict a
// long-lived, reliable peer.
func (n *Node) probeBucketHead(b *dht.KBucket) {
	head := b.Oldest()
	if head == nil {
		return
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(n.ctx, n.cfg.RequestTimeout)
		defer cancel()
		_, err := n.doRequest(ctx, head, proto.NewRequest(proto.KindPing, n.self, n.cfg.Version))
		return err
	}, policy)

	logger := logrus.WithFields(logrus.Fields{"function": "probeBucketHead", "package": "node", "id": head.ID.String()})
	if err != nil {
		n.routing.Remove(head.ID)
		logger.Info("evicted unresponsive bucket head after liveness probe")
		return
	}
	n.routing.Touch(head.ID, n.clk.Now())
	logger.Debug("bucket head answered liveness probe")
}

// maintainDatastore runs the republication, expiry, and caching-prune
// passes over the local store (spec.md §4.F).
func (n *Node) maintainDatastore() {
	now := n.clk.Now()
	logger := logrus.WithFields(logrus.Fields{"function": "maintainDatastore", "package": "node"})

	if removed := n.data.ExpireScan(now); removed > 0 {
		logger.WithField("removed", removed).Debug("expired items removed")
	}

	for _, it := range n.data.DueForRepublish(now, n.cfg.RepublishInterval) {
		n.republish(it)
		n.data.MarkRepublished(it.Key, now)
	}

	if dropped := n.data.PruneCaching(now, n.cfg.RepublishInterval, n.isFarFromSelf); dropped > 0 {
		logger.WithField("dropped", dropped).Debug("pruned caching copies")
	}
}

// isFarFromSelf reports whether key's common prefix with self is
// shallow enough that this node isn't a natural long-term holder of it
// (spec.md §4.F caching-eviction distance rule).
func (n *Node) isFarFromSelf(key id.ID) bool {
	return id.CommonPrefixLen(n.self, key) < cachingPrefixThreshold
}

func (n *Node) republish(it *item.Item) {
	seed := n.routing.Closest(it.Key, n.cfg.K)
	if len(seed) == 0 {
		return
	}
	sess, err := lookup.New(it.Key, lookup.FindNode, seed, n, n.clk, n.lookupParams())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.LookupDeadline)
	defer cancel()
	result, err := sess.Run(ctx)
	if err != nil {
		return
	}
	for _, c := range result.Contacts {
		if c.ID == n.self {
			continue
		}
		_ = n.StoreAt(ctx, c, it)
	}
}

// reapPending drops pending waiters older than twice RequestTimeout, a
// backstop against a waiter that never got cleaned up by its own
// doRequest call (e.g. an operator cancelling the parent context of a
// lookup mid-flight without the per-request timeout having fired yet).
func (n *Node) reapPending() {
	now := n.clk.Now()
	cutoff := 2 * n.cfg.RequestTimeout

	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for key, p := range n.pending {
		if now.Sub(p.createdAt) >= cutoff {
			close(p.reply)
			delete(n.pending, key)
		}
	}
}
