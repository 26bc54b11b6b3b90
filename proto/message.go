// Package proto implements the wire message layer (spec.md §4.G):
// typed request/response records, correlation IDs, per-message
// signatures, and the canonical serialization every message is carried
// in. A message's signature is independent of any item.Item it carries:
// the envelope is signed by the sending node's own message-signing key,
// while a carried item is signed by its publisher, who may be a
// different identity entirely.
package proto

import (
	"crypto/ed25519"
	"errors"

	"github.com/google/uuid"
	"github.com/ntoll/drogulus/dht"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
)

// Kind discriminates the closed set of message records spec.md §4.G
// defines. Using an explicit tagged variant (one Message struct with a
// Kind discriminant and only the fields that kind uses) avoids the
// dynamic type-checking a loosely typed union would require.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
	KindStore
	KindStoreOk
	KindStoreErr
	KindFindNode
	KindNodes
	KindFindValue
	KindValue
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindStore:
		return "STORE"
	case KindStoreOk:
		return "STORE_OK"
	case KindStoreErr:
		return "STORE_ERR"
	case KindFindNode:
		return "FIND_NODE"
	case KindNodes:
		return "NODES"
	case KindFindValue:
		return "FIND_VALUE"
	case KindValue:
		return "VALUE"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode enumerates the ERROR message's reason codes (spec.md §4.G:
// "Error codes: 1 malformed, 2 signature, 3 version incompatible,
// 4 internal, 5 unsupported").
type ErrorCode uint8

const (
	ErrCodeMalformed ErrorCode = iota + 1
	ErrCodeSignature
	ErrCodeVersionIncompatible
	ErrCodeInternal
	ErrCodeUnsupported
)

// NodeInfo is the wire representation of a routing table contact,
// carried in NODES responses.
type NodeInfo struct {
	ID      id.ID
	Addr    string // opaque, transport-defined address string
	Version uint32 // protocol version the contact last announced
}

// ContactFrom converts a routing table contact into its wire form.
func ContactFrom(c *dht.Contact) NodeInfo {
	return NodeInfo{ID: c.ID, Addr: c.Addr.String(), Version: c.Version}
}

// Message is the single tagged-variant envelope every RPC uses. Only
// the fields relevant to Kind are populated; the rest are zero values.
type Message struct {
	Kind            Kind
	ID              uuid.UUID // this message's own correlation id
	InReplyTo       uuid.UUID // zero value for requests
	SenderID        id.ID
	SenderPublicKey ed25519.PublicKey // message-signing key, distinct from any carried item's publisher key
	Version         uint32
	Sig             []byte // signature over the canonical envelope, sender's message-signing key

	// STORE / VALUE
	Item *item.Item

	// FIND_NODE / FIND_VALUE
	Target id.ID

	// NODES
	Nodes []NodeInfo

	// STORE_ERR / ERROR
	Code   ErrorCode
	Detail string
}

// NewRequest builds a fresh, unsigned request message with a new
// correlation ID. Call Sign before sending it.
func NewRequest(kind Kind, sender id.ID, version uint32) Message {
	return Message{Kind: kind, ID: uuid.New(), SenderID: sender, Version: version}
}

// Reply builds an unsigned response message correlated to req. Call
// Sign before sending it.
func Reply(req Message, kind Kind, sender id.ID, version uint32) Message {
	return Message{Kind: kind, ID: uuid.New(), InReplyTo: req.ID, SenderID: sender, Version: version}
}

// ErrBadSignature is returned by VerifySignature when a message's
// envelope signature does not verify (spec.md §4.G "Recipients verify
// the signature and reject otherwise").
var ErrBadSignature = errors.New("proto: message signature does not verify")

// Sign computes the envelope signature over m's canonical fields (every
// field except Sig itself) using priv, and sets m.SenderPublicKey and
// m.Sig.
func Sign(m *Message, priv ed25519.PrivateKey) error {
	m.SenderPublicKey = priv.Public().(ed25519.PublicKey)
	payload, err := canonicalEnvelope(m)
	if err != nil {
		return err
	}
	m.Sig = ed25519.Sign(priv, payload)
	return nil
}

// VerifySignature checks m's envelope signature against its own
// carried SenderPublicKey.
func VerifySignature(m *Message) error {
	if len(m.SenderPublicKey) != ed25519.PublicKeySize || len(m.Sig) == 0 {
		return ErrBadSignature
	}
	payload, err := canonicalEnvelope(m)
	if err != nil {
		return ErrBadSignature
	}
	if !ed25519.Verify(m.SenderPublicKey, payload, m.Sig) {
		return ErrBadSignature
	}
	return nil
}

// Validate checks that a decoded message carries the fields its Kind
// requires, rejecting malformed frames before they reach the node
// engine's dispatcher (spec.md §7 "Protocol errors").
var ErrMalformedMessage = errors.New("proto: message missing fields required by its kind")

func Validate(m *Message) error {
	switch m.Kind {
	case KindPing, KindPong:
		return nil
	case KindStore:
		if m.Item == nil {
			return ErrMalformedMessage
		}
		return nil
	case KindStoreOk:
		return nil
	case KindStoreErr:
		if m.Code == 0 {
			return ErrMalformedMessage
		}
		return nil
	case KindFindNode, KindFindValue:
		return nil
	case KindNodes:
		return nil
	case KindValue:
		if m.Item == nil {
			return ErrMalformedMessage
		}
		return nil
	case KindError:
		if m.Code == 0 {
			return ErrMalformedMessage
		}
		return nil
	default:
		return ErrMalformedMessage
	}
}
