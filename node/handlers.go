package node

import (
	"context"

	"github.com/google/uuid"
	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/proto"
	"github.com/ntoll/drogulus/transport"
	"github.com/sirupsen/logrus"
)

// recvLoop is the node's single inbound-frame reader (spec.md §4.H):
// every frame is parsed, signature-checked, and used to refresh the
// sender's routing table entry before being routed to either a pending
// waiter or an RPC handler.
func (n *Node) recvLoop() {
	defer n.wg.Done()
	logger := logrus.WithFields(logrus.Fields{"function": "recvLoop", "package": "node", "self": n.self.String()})

	for {
		frame, from, err := n.trn.Recv(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil || err == transport.ErrClosed {
				return
			}
			logger.WithError(err).Debug("recv error")
			continue
		}

		msg, err := proto.Unmarshal(frame)
		if err != nil {
			logger.WithError(err).Debug("dropped malformed frame")
			continue
		}
		if err := proto.VerifySignature(msg); err != nil {
			logger.WithError(err).Debug("dropped frame with bad signature")
			continue
		}
		if msg.Version != n.cfg.Version {
			n.sendError(msg, from, proto.ErrCodeVersionIncompatible, "unsupported protocol version")
			continue
		}

		n.routing.Seen(&dht.Contact{ID: msg.SenderID, Addr: from, Version: msg.Version, LastSeen: n.clk.Now()}, n.clk.Now())

		if msg.InReplyTo != uuid.Nil {
			n.deliverReply(msg)
			continue
		}
		n.handleRequest(msg, from)
	}
}

// deliverReply routes a correlated response to the waiter blocked in
// doRequest, if one is still registered.
func (n *Node) deliverReply(msg *proto.Message) {
	key := msg.InReplyTo.String()
	n.pendingMu.Lock()
	waiter, ok := n.pending[key]
	n.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case waiter.reply <- msg:
	default:
	}
}

// handleRequest dispatches an inbound request to its RPC handler and
// sends the signed reply (spec.md §4.G, §7).
func (n *Node) handleRequest(req *proto.Message, from transport.Addr) {
	var reply proto.Message
	switch req.Kind {
	case proto.KindPing:
		reply = proto.Reply(*req, proto.KindPong, n.self, n.cfg.Version)
	case proto.KindStore:
		reply = n.handleStore(req)
	case proto.KindFindNode:
		reply = n.handleFindNode(req)
	case proto.KindFindValue:
		reply = n.handleFindValue(req)
	default:
		n.sendError(req, from, proto.ErrCodeUnsupported, "unsupported request kind")
		return
	}
	n.sendReply(reply, from)
}

func (n *Node) handleStore(req *proto.Message) proto.Message {
	if req.Item == nil {
		return n.errorReply(req, proto.ErrCodeMalformed, "STORE without item")
	}
	if _, err := n.data.Insert(req.Item, n.clk.Now()); err != nil {
		reply := proto.Reply(*req, proto.KindStoreErr, n.self, n.cfg.Version)
		reply.Code = proto.ErrCodeMalformed
		reply.Detail = err.Error()
		return reply
	}
	return proto.Reply(*req, proto.KindStoreOk, n.self, n.cfg.Version)
}

func (n *Node) handleFindNode(req *proto.Message) proto.Message {
	closest := n.routing.Closest(req.Target, n.cfg.K)
	reply := proto.Reply(*req, proto.KindNodes, n.self, n.cfg.Version)
	reply.Nodes = contactsToNodeInfo(closest)
	return reply
}

func (n *Node) handleFindValue(req *proto.Message) proto.Message {
	if it, ok := n.data.Get(req.Target, n.clk.Now()); ok {
		reply := proto.Reply(*req, proto.KindValue, n.self, n.cfg.Version)
		reply.Item = it
		return reply
	}
	return n.handleFindNode(req)
}

func contactsToNodeInfo(contacts []*dht.Contact) []proto.NodeInfo {
	out := make([]proto.NodeInfo, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, proto.ContactFrom(c))
	}
	return out
}

func (n *Node) errorReply(req *proto.Message, code proto.ErrorCode, detail string) proto.Message {
	reply := proto.Reply(*req, proto.KindError, n.self, n.cfg.Version)
	reply.Code = code
	reply.Detail = detail
	return reply
}

// sendError replies to a parsed request rejected for its version or its
// kind, since no pending waiter exists for a message this node never
// sent. Frames that fail to parse or verify are dropped without a reply.
func (n *Node) sendError(req *proto.Message, from transport.Addr, code proto.ErrorCode, detail string) {
	reply := n.errorReply(req, code, detail)
	n.sendReply(reply, from)
}

func (n *Node) sendReply(reply proto.Message, from transport.Addr) {
	if err := proto.Sign(&reply, n.priv); err != nil {
		logrus.WithError(err).Warn("node: failed to sign reply")
		return
	}
	frame, err := proto.Marshal(&reply)
	if err != nil {
		logrus.WithError(err).Warn("node: failed to marshal reply")
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.RequestTimeout)
	defer cancel()
	if err := n.trn.Send(ctx, from, frame); err != nil {
		logrus.WithError(err).Debug("node: failed to send reply")
	}
}
