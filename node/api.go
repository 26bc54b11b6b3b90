package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/item"
	"github.com/ntoll/drogulus/lookup"
	"github.com/sirupsen/logrus"
)

// lookupParams derives lookup.Params from this node's configuration.
func (n *Node) lookupParams() lookup.Params {
	return lookup.Params{Alpha: n.cfg.Alpha, K: n.cfg.K, Deadline: n.cfg.LookupDeadline}
}

// Get retrieves the item published under name by the holder of pub,
// running an iterative FIND_VALUE lookup against key = hash(pub, name)
// (spec.md §6 "node.get(key) -> value or not_found").
func (n *Node) Get(ctx context.Context, pub ed25519.PublicKey, name string) (*item.Item, error) {
	key := item.ComputeKey(pub, name)

	if local, ok := n.data.Get(key, n.clk.Now()); ok {
		return local, nil
	}

	seed := n.routing.Closest(key, n.cfg.K)
	sess, err := lookup.New(key, lookup.FindValue, seed, n, n.clk, n.lookupParams())
	if err != nil {
		return nil, err
	}
	result, err := sess.Run(ctx)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// Set builds and publishes a new item under name, signed by priv,
// storing it locally and pushing it to the K nodes closest to its key
// (spec.md §6 "node.set(key, value, ...) -> ok or error", §4.I "Store
// lookup").
func (n *Node) Set(ctx context.Context, priv ed25519.PrivateKey, value []byte, name string, expires time.Time, meta []item.MetaPair) error {
	it, err := item.Build(value, name, expires, meta, priv, n.cfg.Version, n.clk.WallNow())
	if err != nil {
		return fmt.Errorf("node: build item: %w", err)
	}

	if _, err := n.data.Insert(it, n.clk.Now()); err != nil {
		return fmt.Errorf("node: insert local item: %w", err)
	}

	seed := n.routing.Closest(it.Key, n.cfg.K)
	if len(seed) == 0 {
		n.logger.Debug("set: no peers known, item stored locally only")
		return nil
	}

	sess, err := lookup.New(it.Key, lookup.FindNode, seed, n, n.clk, n.lookupParams())
	if err != nil {
		return fmt.Errorf("node: build lookup session: %w", err)
	}
	result, err := sess.Run(ctx)
	if err != nil {
		return fmt.Errorf("node: locate store targets: %w", err)
	}

	var storeErr error
	for _, c := range result.Contacts {
		if c.ID == n.self {
			continue
		}
		if err := n.StoreAt(ctx, c, it); err != nil {
			n.logger.WithError(err).WithField("peer", c.ID.String()).Warn("set: STORE failed at peer")
			storeErr = err
		}
	}
	if storeErr != nil && len(result.Contacts) == 1 {
		return storeErr
	}
	return nil
}

// Join bootstraps this node's routing table against a set of known
// seed contacts and runs a self-lookup to populate nearby buckets
// (spec.md §6 "node.join(seeds)").
func (n *Node) Join(ctx context.Context, seeds []*dht.Contact) error {
	if len(seeds) == 0 {
		return lookup.ErrNoPeers
	}
	now := n.clk.Now()
	for _, c := range seeds {
		n.routing.Seen(c, now)
	}

	if _, err := n.SendFindNode(ctx, seeds[0], n.self); err != nil {
		n.logger.WithError(err).Warn("join: bootstrap FIND_NODE to first seed failed")
	}

	seed := n.routing.Closest(n.self, n.cfg.K)
	if len(seed) == 0 {
		return lookup.ErrNoPeers
	}
	sess, err := lookup.New(n.self, lookup.FindNode, seed, n, n.clk, n.lookupParams())
	if err != nil {
		return err
	}
	_, err = sess.Run(ctx)
	if err != nil {
		return fmt.Errorf("node: self-lookup during join: %w", err)
	}

	logrus.WithFields(logrus.Fields{"function": "Join", "package": "node", "routing_size": n.routing.Size()}).Info("join complete")
	return nil
}
