package item

import (
	"encoding/binary"
)

// canonicalSignedFields produces the deterministic, length-prefixed byte
// stream the signature covers (spec.md §4.B "Canonicalization"): fixed
// field order, length-prefixed binary encoding, little-endian 64-bit
// timestamps, meta pairs in given order. It deliberately omits the
// signature field itself.
//
// A hand-rolled encoder is used rather than a general-purpose codec
// (gob, json) because the spec requires byte-identical output for equal
// logical values across implementations and versions — a guarantee
// neither of those formats makes (map/struct field ordering and
// whitespace are not part of their contract).
func canonicalSignedFields(it *Item) ([]byte, error) {
	var buf []byte

	buf = appendBytes(buf, it.Value)
	buf = appendInt64LE(buf, it.Timestamp.UnixNano())
	buf = appendInt64LE(buf, expiresToUnixNano(it.Expires))
	buf = appendString(buf, it.Name)
	buf = appendMeta(buf, it.Meta)
	buf = appendUint32LE(buf, it.CreatedWith)
	buf = appendBytes(buf, it.PublicKey)

	return buf, nil
}

// expiresToUnixNano encodes "never expires" as 0, matching spec.md §3:
// "expires (absolute expiration; 0 means never)".
func expiresToUnixNano(t interface {
	IsZero() bool
	UnixNano() int64
}) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func canonBytes(b []byte) []byte {
	return appendBytes(nil, b)
}

func canonString(s string) []byte {
	return appendString(nil, s)
}

func appendMeta(buf []byte, meta []MetaPair) []byte {
	buf = appendUint32LE(buf, uint32(len(meta)))
	for _, p := range meta {
		buf = appendString(buf, p.Key)
		buf = appendString(buf, p.Value)
	}
	return buf
}

// appendBytes writes a 4-byte little-endian length prefix followed by
// the raw bytes.
func appendBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
