// Package node implements the node engine (spec.md §4.H): the owning
// struct that holds a routing table and datastore, dispatches inbound
// RPCs, drives periodic maintenance, and exposes the public get/set/
// join/leave API to embedders (spec.md §6).
package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ntoll/drogulus/clock"
	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/keys"
	"github.com/ntoll/drogulus/lookup"
	"github.com/ntoll/drogulus/proto"
	"github.com/ntoll/drogulus/store"
	"github.com/ntoll/drogulus/transport"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get when no peer holds the requested item.
var ErrNotFound = lookup.ErrValueNotFound

// pendingRequest is a single in-flight request awaiting a correlated
// reply (spec.md §4.H "pending_requests (uuid -> waiter)").
type pendingRequest struct {
	reply     chan *proto.Message
	createdAt time.Time
}

// Node is the engine a single DHT participant runs.
type Node struct {
	self     id.ID
	identity *keys.KeyPair     // long-term X25519 transport identity; self is derived from its public half
	priv     ed25519.PrivateKey // message-signing key, independent of identity and of any item-authorship key
	pub      ed25519.PublicKey

	cfg Config
	trn transport.Transport
	clk clock.Clock

	routing *dht.RoutingTable
	data    *store.Store

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Entry
}

// New constructs a Node identified by identity's public half, listening
// via trn. identity is the node's long-term X25519 transport identity
// (package keys); priv is a separate Ed25519 message-signing key
// (spec.md §4.G "signature over the message body by the sender's
// private key"). Neither is the item-authorship key embedders sign
// published items with via Set.
func New(identity *keys.KeyPair, priv ed25519.PrivateKey, trn transport.Transport, clk clock.Clock, cfg Config) (*Node, error) {
	if identity == nil {
		return nil, errors.New("node: nil identity key pair")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("node: invalid signing key")
	}
	cfg = cfg.withDefaults()
	pub := priv.Public().(ed25519.PublicKey)
	self := id.Hash(identity.Public[:])

	data, err := store.New(self, cfg.StoreSoftCap)
	if err != nil {
		return nil, fmt.Errorf("node: create store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		self:     self,
		identity: identity,
		priv:     priv,
		pub:      pub,
		cfg:      cfg,
		trn:      trn,
		clk:      clk,
		routing:  dht.New(self, dht.Config{K: cfg.K, B: cfg.RoutingB, RefreshInterval: cfg.BucketRefreshInterval}),
		data:     data,
		pending:  make(map[string]*pendingRequest),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logrus.WithFields(logrus.Fields{"package": "node", "self": self.String()}),
	}

	n.wg.Add(4)
	go n.recvLoop()
	go n.runTicker(cfg.BucketRefreshInterval, n.refreshStaleBuckets)
	go n.runTicker(minDuration(cfg.RepublishInterval, cfg.ExpireScanInterval), n.maintainDatastore)
	go n.runTicker(cfg.ReaperInterval, n.reapPending)

	n.logger.Info("node started")
	return n, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Self returns the node's own identifier.
func (n *Node) Self() id.ID { return n.self }

// Contact returns this node's own routable contact.
func (n *Node) Contact() *dht.Contact {
	return &dht.Contact{ID: n.self, Addr: n.trn.LocalAddr(), Version: n.cfg.Version, LastSeen: n.clk.Now()}
}

// RoutingTable exposes the routing table for diagnostics and tests.
func (n *Node) RoutingTable() *dht.RoutingTable { return n.routing }

// Store exposes the local datastore for diagnostics and tests.
func (n *Node) Store() *store.Store { return n.data }

func (n *Node) runTicker(interval time.Duration, fn func()) {
	defer n.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Leave stops all timers and drains pending requests (spec.md §6
// "node.leave(): stops timers, drains pending requests").
func (n *Node) Leave(ctx context.Context) error {
	n.cancel()
	n.trn.Close()

	n.pendingMu.Lock()
	for k, p := range n.pending {
		close(p.reply)
		delete(n.pending, k)
	}
	n.pendingMu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
