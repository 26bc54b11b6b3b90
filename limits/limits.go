// Package limits provides centralized size ceilings for signed items and
// wire frames. This ensures consistent validation across the item,
// proto, and store packages without each one inventing its own bound.
package limits

import "errors"

const (
	// MaxItemValue is the largest opaque value payload a signed item may
	// carry. Kept well under typical UDP-friendly datagram sizes since a
	// single item is expected to travel inside one wire frame.
	MaxItemValue = 8192

	// MaxItemName is the largest byte length of an item's human-meaningful
	// name field, which participates in the item's key derivation.
	MaxItemName = 512

	// MaxMetaPairs bounds the number of (string,string) pairs an item's
	// meta sequence may carry, preventing an unbounded canonical encoding.
	MaxMetaPairs = 64

	// MaxMetaFieldSize bounds the byte length of any single meta key or
	// value string.
	MaxMetaFieldSize = 256

	// MaxFrameSize is the absolute maximum size of a serialized message
	// frame (§4.G), guarding against memory exhaustion from a malformed
	// or hostile peer.
	MaxFrameSize = 1024 * 1024

	// MaxNodesPerResponse bounds how many contacts a NODES response may
	// list, matching the routing table's default K.
	MaxNodesPerResponse = 20
)

// Sentinel errors returned by the Validate* helpers below.
var (
	ErrEmpty    = errors.New("limits: value is empty")
	ErrTooLarge = errors.New("limits: value exceeds the configured maximum size")
	ErrTooMany  = errors.New("limits: collection exceeds the configured maximum count")
)

// ValidateSize checks a byte slice against maxSize. Unlike the other
// Validate helpers, an empty slice is accepted: some fields (e.g. an
// item's value) are legitimately allowed to be empty.
func ValidateSize(b []byte, maxSize int) error {
	if len(b) > maxSize {
		return ErrTooLarge
	}
	return nil
}

// ValidateNonEmptySize checks that b is non-empty and within maxSize.
func ValidateNonEmptySize(b []byte, maxSize int) error {
	if len(b) == 0 {
		return ErrEmpty
	}
	return ValidateSize(b, maxSize)
}

// ValidateCount checks that n does not exceed maxCount.
func ValidateCount(n, maxCount int) error {
	if n > maxCount {
		return ErrTooMany
	}
	return nil
}
