package item

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ntoll/drogulus/id"
)

// Marshal produces the full wire encoding of it, including its
// signature — unlike canonicalSignedFields, which deliberately omits
// the signature because it is what the signature covers.
func Marshal(it *Item) ([]byte, error) {
	payload, err := canonicalSignedFields(it)
	if err != nil {
		return nil, err
	}
	return appendBytes(payload, it.Sig), nil
}

// Unmarshal decodes a frame produced by Marshal and recomputes Key, but
// does not check the signature or expiry — call Verify for that.
func Unmarshal(b []byte) (*Item, error) {
	it := &Item{}
	rest := b

	value, rest, err := readBytes(rest)
	if err != nil {
		return nil, err
	}
	it.Value = value

	ts, rest, err := readInt64LE(rest)
	if err != nil {
		return nil, err
	}
	it.Timestamp = time.Unix(0, ts).UTC()

	exp, rest, err := readInt64LE(rest)
	if err != nil {
		return nil, err
	}
	if exp == 0 {
		it.Expires = time.Time{}
	} else {
		it.Expires = time.Unix(0, exp).UTC()
	}

	nameBytes, rest, err := readBytes(rest)
	if err != nil {
		return nil, err
	}
	it.Name = string(nameBytes)

	meta, rest, err := readMeta(rest)
	if err != nil {
		return nil, err
	}
	it.Meta = meta

	version, rest, err := readUint32LE(rest)
	if err != nil {
		return nil, err
	}
	it.CreatedWith = version

	pub, rest, err := readBytes(rest)
	if err != nil {
		return nil, err
	}
	it.PublicKey = pub

	sig, rest, err := readBytes(rest)
	if err != nil {
		return nil, err
	}
	it.Sig = sig

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}

	it.Key = id.Hash(canonBytes(it.PublicKey), canonString(it.Name))
	return it, nil
}

func readBytes(b []byte) (val []byte, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", ErrMalformed)
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: truncated field", ErrMalformed)
	}
	val = b[:n]
	rest = b[n:]
	return val, rest, nil
}

func readInt64LE(b []byte) (int64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated int64", ErrMalformed)
	}
	return int64(binary.LittleEndian.Uint64(b[:8])), b[8:], nil
}

func readUint32LE(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated uint32", ErrMalformed)
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func readMeta(b []byte) ([]MetaPair, []byte, error) {
	count, rest, err := readUint32LE(b)
	if err != nil {
		return nil, nil, err
	}
	meta := make([]MetaPair, 0, count)
	for i := uint32(0); i < count; i++ {
		var key, value []byte
		key, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		value, rest, err = readBytes(rest)
		if err != nil {
			return nil, nil, err
		}
		meta = append(meta, MetaPair{Key: string(key), Value: string(value)})
	}
	return meta, rest, nil
}
