// Package keys generates and manages the X25519 key pair a node uses as
// its long-term transport identity. This is distinct from the Ed25519
// signing key an item's publisher uses (package item): a node's routing
// identity and the authorship key behind any particular published item
// are never required to be the same key.
package keys

import (
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Size is the width of a curve25519 key in bytes.
const Size = 32

// ErrZeroKey is returned when a supplied private key is all zeros.
var ErrZeroKey = errors.New("keys: private key is all zeros")

// KeyPair is an X25519 key pair.
type KeyPair struct {
	Public  [Size]byte
	Private [Size]byte
}

// Generate creates a new random key pair using crypto/rand as the
// entropy source.
func Generate() (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Generate", "package": "keys"})

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithError(err).Error("key pair generation failed")
		return nil, err
	}

	logger.Debug("generated new node identity key pair")
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// FromPrivate derives a key pair from an existing private key, clamping
// it to the curve25519 requirements before deriving the public half.
func FromPrivate(private [Size]byte) (*KeyPair, error) {
	if isZero(private) {
		return nil, ErrZeroKey
	}

	var clamped [Size]byte
	copy(clamped[:], private[:])
	clamped[0] &= 248
	clamped[31] &= 127
	clamped[31] |= 64

	var public [Size]byte
	curve25519.ScalarBaseMult(&public, &clamped)
	ZeroBytes(clamped[:])

	return &KeyPair{Public: public, Private: private}, nil
}

func isZero(k [Size]byte) bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// ZeroBytes overwrites b with zeros, best-effort defense against key
// material lingering in memory after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
