// Package transport defines the network collaborator a node engine
// depends on (spec.md §6 "External interfaces"). Everything about wire
// framing, NAT traversal, and link security is delegated to whatever
// concrete Transport a node is configured with; the core module only
// ever sees opaque addresses and byte frames.
package transport

import (
	"context"
	"errors"
)

// Addr identifies a peer at the transport layer. Concrete transports
// define their own comparable Addr values (e.g. a UDP host:port pair,
// or an in-memory node handle for tests).
type Addr interface {
	String() string
}

// ErrClosed is returned by Send/Recv once a Transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is the minimum surface a node engine requires: fire off a
// frame to a peer, and be handed frames addressed to it. Implementations
// are responsible for their own framing, retries, and security; the
// node engine treats every frame as an opaque payload, parses it with
// package proto, and checks its message signature regardless of any
// channel-level authentication.
type Transport interface {
	// Send transmits frame to addr. Send does not block on a reply;
	// request/response correlation happens above this layer (package
	// proto's correlation IDs, matched by package node).
	Send(ctx context.Context, addr Addr, frame []byte) error

	// Recv blocks until a frame arrives or ctx is done, returning the
	// frame and the address it arrived from.
	Recv(ctx context.Context) (frame []byte, from Addr, err error)

	// LocalAddr returns the address other peers should use to reach
	// this transport.
	LocalAddr() Addr

	// ParseAddr reconstitutes an Addr from the opaque string a peer's
	// own Addr.String() produced, e.g. when learning a contact's
	// address from a NODES response (package proto) rather than from a
	// Recv call. Returns an error if s is not a well-formed address for
	// this transport.
	ParseAddr(s string) (Addr, error)

	// Close shuts the transport down. Any blocked Recv call returns
	// ErrClosed.
	Close() error
}
