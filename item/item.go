// Package item implements the signed key/value record every piece of
// data in the DHT is wrapped in. An item binds a value to its creator's
// public key through an Ed25519 signature over a canonical encoding of
// the item's fields, so any recipient can verify provenance and
// integrity without trusting the peer it arrived from.
package item

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/limits"
	"github.com/sirupsen/logrus"
)

// MetaPair is one entry of an item's ordered (string,string) metadata
// sequence.
type MetaPair struct {
	Key   string
	Value string
}

// Item is a cryptographically self-verifying key/value record, per
// spec.md §3 "Signed item".
type Item struct {
	Value       []byte
	Timestamp   time.Time
	Expires     time.Time // zero value means "never"
	Name        string
	Meta        []MetaPair
	CreatedWith uint32 // protocol version of the creator
	PublicKey   ed25519.PublicKey
	Sig         []byte

	// Key is SHA512(canon(PublicKey) || canon(Name)). It is derived, not
	// signed: recomputing it is part of Verify.
	Key id.ID
}

// Sentinel verification failures. All are final: an item that fails any
// of these MUST NOT be stored or propagated (spec.md §4.B).
var (
	ErrMalformed       = errors.New("item: malformed field")
	ErrBadKey          = errors.New("item: recomputed key does not match")
	ErrBadSignature    = errors.New("item: signature does not verify")
	ErrExpired         = errors.New("item: expires is in the past")
	ErrFutureTimestamp = errors.New("item: timestamp is too far in the future")
)

// Skew is the tolerance applied when checking an item's timestamp
// against "now" during verification (spec.md §4.B: "timestamp ≤ now +
// small_skew").
const Skew = 5 * time.Minute

// Build constructs and signs a complete item. timestamp is supplied by
// the caller's clock collaborator (spec.md §6: "wall_now() used only in
// item timestamps") rather than read directly from time.Now, so the
// node engine's injected clock is the sole source of truth for it.
func Build(value []byte, name string, expires time.Time, meta []MetaPair, priv ed25519.PrivateKey, version uint32, timestamp time.Time) (*Item, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Build", "package": "item", "name": name})

	if err := limits.ValidateSize(value, limits.MaxItemValue); err != nil {
		logger.WithError(err).Warn("rejected oversized value")
		return nil, err
	}
	if err := limits.ValidateNonEmptySize([]byte(name), limits.MaxItemName); err != nil {
		logger.WithError(err).Warn("rejected invalid name")
		return nil, err
	}
	if err := limits.ValidateCount(len(meta), limits.MaxMetaPairs); err != nil {
		logger.WithError(err).Warn("rejected oversized meta sequence")
		return nil, err
	}
	if err := validateMeta(meta); err != nil {
		logger.WithError(err).Warn("rejected oversized meta field")
		return nil, err
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrMalformed
	}
	if !expires.IsZero() && !expires.After(timestamp) {
		logger.Warn("rejected expires not after timestamp")
		return nil, ErrMalformed
	}

	it := &Item{
		Value:       value,
		Timestamp:   timestamp,
		Expires:     expires,
		Name:        name,
		Meta:        meta,
		CreatedWith: version,
		PublicKey:   priv.Public().(ed25519.PublicKey),
	}

	payload, err := canonicalSignedFields(it)
	if err != nil {
		return nil, err
	}
	it.Sig = ed25519.Sign(priv, payload)
	it.Key = id.Hash(canonBytes(it.PublicKey), canonString(it.Name))

	logger.WithFields(logrus.Fields{"key": it.Key.String()}).Debug("built and signed item")
	return it, nil
}

// validateMeta checks each meta pair's key and value against
// limits.MaxMetaFieldSize (spec.md §4.B meta sequence).
func validateMeta(meta []MetaPair) error {
	for _, m := range meta {
		if err := limits.ValidateSize([]byte(m.Key), limits.MaxMetaFieldSize); err != nil {
			return err
		}
		if err := limits.ValidateSize([]byte(m.Value), limits.MaxMetaFieldSize); err != nil {
			return err
		}
	}
	return nil
}

// ComputeKey derives the key a published item would carry, letting
// callers look one up before fetching it (spec.md §3 "key =
// SHA512(canon(public_key) || canon(name))").
func ComputeKey(pub ed25519.PublicKey, name string) id.ID {
	return id.Hash(canonBytes(pub), canonString(name))
}

// Verify validates an item against every invariant in spec.md §4.B and
// §3: key derivation, signature, expiry, and timestamp skew. now is
// supplied by the caller's clock collaborator.
func Verify(it *Item, now time.Time) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Verify", "package": "item"})

	if it == nil || len(it.PublicKey) != ed25519.PublicKeySize || it.Name == "" {
		logger.Warn("rejected malformed item")
		return ErrMalformed
	}
	if err := limits.ValidateSize(it.Value, limits.MaxItemValue); err != nil {
		logger.WithError(err).Warn("rejected oversized value")
		return ErrMalformed
	}
	if err := limits.ValidateNonEmptySize([]byte(it.Name), limits.MaxItemName); err != nil {
		logger.WithError(err).Warn("rejected invalid name")
		return ErrMalformed
	}
	if err := limits.ValidateCount(len(it.Meta), limits.MaxMetaPairs); err != nil {
		logger.WithError(err).Warn("rejected oversized meta sequence")
		return ErrMalformed
	}
	if err := validateMeta(it.Meta); err != nil {
		logger.WithError(err).Warn("rejected oversized meta field")
		return ErrMalformed
	}

	wantKey := id.Hash(canonBytes(it.PublicKey), canonString(it.Name))
	if wantKey != it.Key {
		logger.Warn("rejected item with mismatched key")
		return ErrBadKey
	}

	payload, err := canonicalSignedFields(it)
	if err != nil {
		logger.WithError(err).Warn("rejected item: could not canonicalize")
		return ErrMalformed
	}
	if !ed25519.Verify(it.PublicKey, payload, it.Sig) {
		logger.Warn("rejected item with invalid signature")
		return ErrBadSignature
	}

	if !it.Expires.IsZero() && it.Expires.Before(now) {
		logger.Debug("rejected expired item")
		return ErrExpired
	}
	if it.Timestamp.After(now.Add(Skew)) {
		logger.Warn("rejected item with future timestamp")
		return ErrFutureTimestamp
	}

	return nil
}

// Newer reports whether a should replace b under the local datastore's
// ordering rule (spec.md §3, §4.F): larger timestamp wins; ties are
// broken by lexicographic comparison of the signature bytes.
func Newer(a, b *Item) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return bytesGreater(a.Sig, b.Sig)
}

func bytesGreater(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}
