package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
	"github.com/ntoll/drogulus/limits"
)

// Marshal produces the full wire frame for m (spec.md §4.G "Wire
// format"): the canonical envelope fields followed by the envelope
// signature, which canonicalEnvelope deliberately omits because it is
// what the signature covers.
func Marshal(m *Message) ([]byte, error) {
	payload, err := canonicalEnvelope(m)
	if err != nil {
		return nil, fmt.Errorf("proto: marshal envelope: %w", err)
	}
	buf := appendVarBytes(payload, m.Sig)

	if len(buf) > limits.MaxFrameSize {
		return nil, fmt.Errorf("proto: frame exceeds MaxFrameSize (%d > %d)", len(buf), limits.MaxFrameSize)
	}
	return buf, nil
}

// Unmarshal parses a frame produced by Marshal, validating it against
// Kind's required fields. It does not verify the envelope signature;
// call VerifySignature for that, since the node engine needs to decide
// whether a bad signature is itself cause to drop the message before
// spending cycles on business logic.
func Unmarshal(b []byte) (*Message, error) {
	if len(b) > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: frame exceeds MaxFrameSize", ErrMalformedMessage)
	}
	if len(b) < 1 {
		return nil, ErrMalformedMessage
	}

	m := &Message{Kind: Kind(b[0])}
	rest := b[1:]

	msgID, rest, err := readUUID(rest)
	if err != nil {
		return nil, err
	}
	m.ID = msgID

	inReplyTo, rest, err := readUUID(rest)
	if err != nil {
		return nil, err
	}
	m.InReplyTo = inReplyTo

	senderID, rest, err := readFixed(rest, id.Size)
	if err != nil {
		return nil, err
	}
	copy(m.SenderID[:], senderID)

	pub, rest, err := readVarBytes(rest)
	if err != nil {
		return nil, err
	}
	m.SenderPublicKey = append([]byte(nil), pub...)

	version, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	m.Version = version

	if len(rest) < 1 {
		return nil, ErrMalformedMessage
	}
	hasItem := rest[0]
	rest = rest[1:]
	if hasItem == 1 {
		itemBytes, next, err := readVarBytes(rest)
		if err != nil {
			return nil, err
		}
		rest = next
		it, err := item.Unmarshal(itemBytes)
		if err != nil {
			return nil, fmt.Errorf("proto: unmarshal item: %w", err)
		}
		m.Item = it
	}

	target, rest, err := readFixed(rest, id.Size)
	if err != nil {
		return nil, err
	}
	copy(m.Target[:], target)

	nodeCount, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	if int(nodeCount) > limits.MaxNodesPerResponse {
		return nil, fmt.Errorf("%w: NODES list exceeds MaxNodesPerResponse", ErrMalformedMessage)
	}
	nodes := make([]NodeInfo, 0, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		var nodeID []byte
		nodeID, rest, err = readFixed(rest, id.Size)
		if err != nil {
			return nil, err
		}
		var addrBytes []byte
		addrBytes, rest, err = readVarBytes(rest)
		if err != nil {
			return nil, err
		}
		var info NodeInfo
		copy(info.ID[:], nodeID)
		info.Addr = string(addrBytes)
		nodes = append(nodes, info)
	}
	m.Nodes = nodes

	if len(rest) < 1 {
		return nil, ErrMalformedMessage
	}
	m.Code = ErrorCode(rest[0])
	rest = rest[1:]

	detail, rest, err := readVarBytes(rest)
	if err != nil {
		return nil, err
	}
	m.Detail = string(detail)

	sig, rest, err := readVarBytes(rest)
	if err != nil {
		return nil, err
	}
	m.Sig = append([]byte(nil), sig...)

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformedMessage)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func appendUUID(buf []byte, u uuid.UUID) []byte {
	return append(buf, u[:]...)
}

func readUUID(b []byte) (uuid.UUID, []byte, error) {
	var u uuid.UUID
	if len(b) < len(u) {
		return uuid.UUID{}, nil, fmt.Errorf("%w: truncated uuid", ErrMalformedMessage)
	}
	copy(u[:], b[:len(u)])
	return u, b[len(u):], nil
}

func appendFixed(buf []byte, b []byte) []byte {
	return append(buf, b...)
}

func readFixed(b []byte, n int) ([]byte, []byte, error) {
	if len(b) < n {
		return nil, nil, fmt.Errorf("%w: truncated fixed field", ErrMalformedMessage)
	}
	return b[:n], b[n:], nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated uint32", ErrMalformedMessage)
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func appendVarBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readVarBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(n) > uint64(len(rest)) {
		return nil, nil, fmt.Errorf("%w: truncated variable field", ErrMalformedMessage)
	}
	return rest[:n], rest[n:], nil
}
