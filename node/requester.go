package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
	"github.com/ntoll/drogulus/proto"
	"github.com/sirupsen/logrus"
)

var errPendingClosed = errors.New("node: pending request channel closed during shutdown")

// doRequest sends req to to, signed with the node's message-signing key,
// and blocks for a correlated reply or RequestTimeout, whichever comes
// first (spec.md §4.H "pending_requests (uuid -> waiter)").
func (n *Node) doRequest(ctx context.Context, to *dht.Contact, req proto.Message) (*proto.Message, error) {
	if err := proto.Sign(&req, n.priv); err != nil {
		return nil, fmt.Errorf("node: sign request: %w", err)
	}
	frame, err := proto.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("node: marshal request: %w", err)
	}

	key := req.ID.String()
	waiter := &pendingRequest{reply: make(chan *proto.Message, 1), createdAt: n.clk.Now()}
	n.pendingMu.Lock()
	n.pending[key] = waiter
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, key)
		n.pendingMu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	if err := n.trn.Send(reqCtx, to.Addr, frame); err != nil {
		return nil, fmt.Errorf("node: send request: %w", err)
	}

	select {
	case reply, ok := <-waiter.reply:
		if !ok {
			return nil, errPendingClosed
		}
		return reply, nil
	case <-reqCtx.Done():
		return nil, reqCtx.Err()
	}
}

// contactsFromNodeInfo reconstitutes routable contacts from a NODES
// response, reparsing each peer's opaque address string through this
// node's own transport (spec.md §4.G: Addr is transport-defined).
func (n *Node) contactsFromNodeInfo(infos []proto.NodeInfo) []*dht.Contact {
	out := make([]*dht.Contact, 0, len(infos))
	for _, info := range infos {
		addr, err := n.trn.ParseAddr(info.Addr)
		if err != nil {
			continue
		}
		out = append(out, &dht.Contact{ID: info.ID, Addr: addr, Version: info.Version, LastSeen: n.clk.Now()})
	}
	return out
}

// touch refreshes to's liveness bookkeeping in the routing table, not
// on the caller's own *dht.Contact: Closest/Find/Contacts hand out
// independent copies (spec.md §5 "routing table ... single-writer (the
// engine)"), so mutating to directly would only update a throwaway
// value while racing with recvLoop's concurrent Seen calls on the real
// entry.
func (n *Node) touch(to *dht.Contact) {
	n.routing.Touch(to.ID, n.clk.Now())
}

// SendFindNode implements lookup.Requester.
func (n *Node) SendFindNode(ctx context.Context, to *dht.Contact, target id.ID) ([]*dht.Contact, error) {
	req := proto.NewRequest(proto.KindFindNode, n.self, n.cfg.Version)
	req.Target = target

	reply, err := n.doRequest(ctx, to, req)
	if err != nil {
		return nil, err
	}
	if reply.Kind != proto.KindNodes {
		return nil, fmt.Errorf("node: unexpected reply kind %s to FIND_NODE", reply.Kind)
	}
	n.touch(to)
	return n.contactsFromNodeInfo(reply.Nodes), nil
}

// SendFindValue implements lookup.Requester.
func (n *Node) SendFindValue(ctx context.Context, to *dht.Contact, target id.ID) (*item.Item, []*dht.Contact, error) {
	req := proto.NewRequest(proto.KindFindValue, n.self, n.cfg.Version)
	req.Target = target

	reply, err := n.doRequest(ctx, to, req)
	if err != nil {
		return nil, nil, err
	}
	n.touch(to)

	switch reply.Kind {
	case proto.KindValue:
		return reply.Item, nil, nil
	case proto.KindNodes:
		return nil, n.contactsFromNodeInfo(reply.Nodes), nil
	default:
		return nil, nil, fmt.Errorf("node: unexpected reply kind %s to FIND_VALUE", reply.Kind)
	}
}

// StoreAt implements lookup.Requester.
func (n *Node) StoreAt(ctx context.Context, to *dht.Contact, it *item.Item) error {
	req := proto.NewRequest(proto.KindStore, n.self, n.cfg.Version)
	req.Item = it

	reply, err := n.doRequest(ctx, to, req)
	if err != nil {
		return err
	}
	n.touch(to)
	if reply.Kind == proto.KindStoreErr {
		return fmt.Errorf("node: peer rejected STORE: %s", reply.Detail)
	}
	return nil
}

// ContactFailed implements lookup.Requester: it bumps the contact's
// failure count and evicts it once the liveness threshold is crossed
// (spec.md §4.E "Failure accounting"), via the routing table's own
// locked RecordFailure rather than mutating to's FailedRPCs field
// directly (see touch, above, for why).
const maxFailedRPCs = 3

func (n *Node) ContactFailed(to *dht.Contact) {
	evicted := n.routing.RecordFailure(to.ID, maxFailedRPCs)
	logger := logrus.WithFields(logrus.Fields{"function": "ContactFailed", "package": "node", "id": to.ID.String()})
	if evicted {
		logger.Info("evicted unresponsive contact")
		return
	}
	logger.Debug("recorded failed RPC")
}
