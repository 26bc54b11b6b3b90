// Package simnet is an in-memory reference implementation of
// transport.Transport used by tests and the integration scenarios in
// spec.md §8. It is not a production transport: every node registered
// on a Network shares process memory, and delivery is synchronous
// fan-out through buffered channels rather than real sockets.
package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ntoll/drogulus/transport"
)

// Addr identifies one simulated node's inbox on a Network.
type Addr struct {
	Name string
}

func (a Addr) String() string { return a.Name }

type inboundFrame struct {
	frame []byte
	from  transport.Addr
}

// Network is a shared in-memory switch connecting any number of
// simulated nodes. Tests create one Network and call Join for each
// simulated peer, grounded on the teacher's single-process
// MockTransport pattern generalized to many participants.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	// drop, when set by a test via SetDropFunc, is checked for every
	// frame to simulate lossy links; nil means no loss.
	drop func(from, to Addr) bool
}

// NewNetwork creates an empty simulated network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*Node)}
}

// SetDropFunc installs a predicate controlling which frames are
// silently dropped in flight, for tests exercising retry/timeout
// behavior. A nil predicate (the default) drops nothing.
func (n *Network) SetDropFunc(f func(from, to Addr) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// Join registers a new simulated node named name and returns its
// Transport handle. Names must be unique within a Network.
func (n *Network) Join(name string) (*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.nodes[name]; exists {
		return nil, fmt.Errorf("simnet: node %q already joined", name)
	}
	node := &Node{
		net:   n,
		addr:  Addr{Name: name},
		inbox: make(chan inboundFrame, 256),
	}
	n.nodes[name] = node
	return node, nil
}

// Leave removes a node from the network; its Transport becomes closed.
func (n *Network) Leave(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if node, ok := n.nodes[name]; ok {
		delete(n.nodes, name)
		node.closeOnce()
	}
}

func (n *Network) deliver(to Addr, f inboundFrame) error {
	n.mu.RLock()
	node, ok := n.nodes[to.Name]
	drop := n.drop
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("simnet: no such node %q", to.Name)
	}
	if drop != nil && drop(f.from.(Addr), to) {
		return nil
	}

	select {
	case node.inbox <- f:
		return nil
	default:
		return fmt.Errorf("simnet: inbox full for node %q", to.Name)
	}
}

// Node is one simulated peer's transport.Transport handle.
type Node struct {
	net   *Network
	addr  Addr
	inbox chan inboundFrame

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Node)(nil)

func (nd *Node) Send(ctx context.Context, addr transport.Addr, frame []byte) error {
	nd.mu.Lock()
	closed := nd.closed
	nd.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	to, ok := addr.(Addr)
	if !ok {
		return fmt.Errorf("simnet: foreign address type %T", addr)
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	return nd.net.deliver(to, inboundFrame{frame: cp, from: nd.addr})
}

func (nd *Node) Recv(ctx context.Context) ([]byte, transport.Addr, error) {
	select {
	case f, ok := <-nd.inbox:
		if !ok {
			return nil, nil, transport.ErrClosed
		}
		return f.frame, f.from, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (nd *Node) LocalAddr() transport.Addr { return nd.addr }

func (nd *Node) ParseAddr(s string) (transport.Addr, error) { return Addr{Name: s}, nil }

func (nd *Node) Close() error {
	nd.net.mu.Lock()
	delete(nd.net.nodes, nd.addr.Name)
	nd.net.mu.Unlock()
	nd.closeOnce()
	return nil
}

func (nd *Node) closeOnce() {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.closed {
		return
	}
	nd.closed = true
	close(nd.inbox)
}
