package item

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error: %v", err)
	}
	return pub, priv
}

func TestBuildThenVerify(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()

	it, err := Build([]byte("hello"), "greeting", time.Time{}, nil, priv, 1, now)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if err := Verify(it, now.Add(time.Second)); err != nil {
		t.Fatalf("Verify(Build()) error: %v, want nil", err)
	}
}

func TestVerifyRejectsTamperedValue(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()

	it, err := Build([]byte("hello"), "greeting", time.Time{}, nil, priv, 1, now)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	it.Value = []byte("hellx")
	if err := Verify(it, now); err != ErrBadSignature {
		t.Fatalf("Verify(tampered) error = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsBadKey(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()

	it, err := Build([]byte("hello"), "greeting", time.Time{}, nil, priv, 1, now)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	it.Key[0] ^= 0xFF
	if err := Verify(it, now); err != ErrBadKey {
		t.Fatalf("Verify(bad key) error = %v, want ErrBadKey", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()
	expires := now.Add(time.Hour)

	it, err := Build([]byte("hello"), "greeting", expires, nil, priv, 1, now)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if err := Verify(it, expires.Add(time.Minute)); err != ErrExpired {
		t.Fatalf("Verify(expired) error = %v, want ErrExpired", err)
	}
}

func TestBuildRejectsExpiresNotAfterTimestamp(t *testing.T) {
	// spec.md §3: "if expires != 0 then expires > timestamp" is an
	// item-construction invariant; Build should refuse to produce such
	// an item in the first place when given an expiry at/before now.
	_, priv := genKey(t)
	now := time.Now()

	_, err := Build([]byte("hello"), "greeting", now, nil, priv, 1, now)
	if err == nil {
		t.Fatal("Build() with expires == timestamp should fail construction")
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()
	future := now.Add(Skew + time.Hour)

	it, err := Build([]byte("hello"), "greeting", time.Time{}, nil, priv, 1, future)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if err := Verify(it, now); err != ErrFutureTimestamp {
		t.Fatalf("Verify(future timestamp) error = %v, want ErrFutureTimestamp", err)
	}
}

func TestVerifyToleratesSmallSkew(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()
	nearFuture := now.Add(Skew / 2)

	it, err := Build([]byte("hello"), "greeting", time.Time{}, nil, priv, 1, nearFuture)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if err := Verify(it, now); err != nil {
		t.Fatalf("Verify(within skew) error = %v, want nil", err)
	}
}

func TestCanonicalEncodingIsAFixedPoint(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()

	it, err := Build([]byte("hello"), "greeting", time.Time{}, []MetaPair{{Key: "a", Value: "b"}}, priv, 1, now)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	first, err := canonicalSignedFields(it)
	if err != nil {
		t.Fatalf("canonicalSignedFields() error: %v", err)
	}
	second, err := canonicalSignedFields(it)
	if err != nil {
		t.Fatalf("canonicalSignedFields() error: %v", err)
	}

	if string(first) != string(second) {
		t.Fatal("canonical encoding is not a fixed point across re-serialization")
	}
}

func TestNewerPrefersLargerTimestamp(t *testing.T) {
	_, priv := genKey(t)
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	older, err := Build([]byte("v1"), "k", time.Time{}, nil, priv, 1, t1)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	newer, err := Build([]byte("v2"), "k", time.Time{}, nil, priv, 1, t2)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if !Newer(newer, older) {
		t.Error("Newer() should prefer the item with the larger timestamp")
	}
	if Newer(older, newer) {
		t.Error("Newer() should not prefer the item with the smaller timestamp")
	}
}

func TestNewerTiebreaksOnSignatureBytes(t *testing.T) {
	a := &Item{Timestamp: time.Unix(100, 0), Sig: []byte{0x01}}
	b := &Item{Timestamp: time.Unix(100, 0), Sig: []byte{0x02}}

	if Newer(a, b) {
		t.Error("Newer(a,b) should be false: a's signature byte is lexicographically smaller")
	}
	if !Newer(b, a) {
		t.Error("Newer(b,a) should be true: b's signature byte is lexicographically larger")
	}
}

func TestBuildRejectsOversizedValue(t *testing.T) {
	_, priv := genKey(t)
	big := make([]byte, 1<<20)
	if _, err := Build(big, "k", time.Time{}, nil, priv, 1, time.Now()); err == nil {
		t.Fatal("Build() should reject an oversized value")
	}
}

func TestBuildRejectsEmptyName(t *testing.T) {
	_, priv := genKey(t)
	if _, err := Build([]byte("v"), "", time.Time{}, nil, priv, 1, time.Now()); err == nil {
		t.Fatal("Build() should reject an empty name")
	}
}
