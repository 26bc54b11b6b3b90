package id

import (
	"bytes"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("public-key"), []byte("name"))
	b := Hash([]byte("public-key"), []byte("name"))
	if a != b {
		t.Fatalf("Hash() is not deterministic: %v != %v", a, b)
	}

	c := Hash([]byte("public-key"), []byte("other-name"))
	if a == c {
		t.Fatalf("Hash() collided for different inputs")
	}
}

func TestHashConcatenationBoundary(t *testing.T) {
	// Hash digests the plain concatenation of its parts with no
	// delimiter, so the split between parts is not observable: callers
	// that need unambiguous boundaries canonicalize (length-prefix) each
	// part first.
	a := Hash([]byte("ab"), []byte("c"))
	b := Hash([]byte("a"), []byte("bc"))
	if a != b {
		t.Fatalf("Hash() should digest the plain concatenation of its parts, got different digests")
	}
}

func TestDistanceSymmetric(t *testing.T) {
	var a, b ID
	a[0] = 0xFF
	b[0] = 0x0F

	if Distance(a, b) != Distance(b, a) {
		t.Fatal("Distance() is not symmetric")
	}
}

func TestDistanceIdentity(t *testing.T) {
	var a ID
	a[10] = 0x42
	if Distance(a, a) != Zero {
		t.Fatal("Distance(a, a) must be zero")
	}
}

func TestDistanceTriangleIdentity(t *testing.T) {
	// XOR metric satisfies distance(a,c) == distance(a,b) XOR distance(b,c).
	var a, b, c ID
	a[0], a[5] = 0x12, 0x34
	b[0], b[5] = 0x56, 0x78
	c[0], c[5] = 0x9A, 0xBC

	ab := Distance(a, b)
	bc := Distance(b, c)
	ac := Distance(a, c)

	var combined ID
	for i := range combined {
		combined[i] = ab[i] ^ bc[i]
	}
	if combined != ac {
		t.Fatal("XOR distance does not satisfy the triangle identity")
	}
}

func TestLess(t *testing.T) {
	cases := []struct {
		name     string
		d1, d2   ID
		wantLess bool
	}{
		{name: "equal", d1: ID{1, 2, 3}, d2: ID{1, 2, 3}, wantLess: false},
		{name: "first byte smaller", d1: ID{0x01}, d2: ID{0x02}, wantLess: true},
		{name: "first byte larger", d1: ID{0x02}, d2: ID{0x01}, wantLess: false},
		{name: "tie broken by later byte", d1: ID{1, 2}, d2: ID{1, 3}, wantLess: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Less(tc.d1, tc.d2); got != tc.wantLess {
				t.Errorf("Less(%v, %v) = %v, want %v", tc.d1, tc.d2, got, tc.wantLess)
			}
		})
	}
}

func TestLeadingZeros(t *testing.T) {
	cases := []struct {
		name string
		d    ID
		want int
	}{
		{name: "all zero", d: ID{}, want: Bits},
		{name: "msb set", d: ID{0x80}, want: 0},
		{name: "first bit of second byte", d: ID{0x00, 0x80}, want: 8},
		{name: "low bit of last byte", d: func() ID { var d ID; d[Size-1] = 0x01; return d }(), want: Bits - 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LeadingZeros(tc.d); got != tc.want {
				t.Errorf("LeadingZeros(%v) = %d, want %d", tc.d, got, tc.want)
			}
		})
	}
}

func TestBucketIndexUndefinedForSelf(t *testing.T) {
	var self ID
	self[3] = 0x77
	if got := BucketIndex(self, self); got != -1 {
		t.Errorf("BucketIndex(self, self) = %d, want -1", got)
	}
}

func TestBucketIndexMonotonicWithDistance(t *testing.T) {
	var self ID
	near := self
	near[Size-1] = 0x01 // differs only in the very last bit

	far := self
	far[0] = 0x80 // differs in the very first bit

	nearIdx := BucketIndex(self, near)
	farIdx := BucketIndex(self, far)
	if nearIdx >= farIdx {
		t.Errorf("expected a nearer id to land in a lower bucket index: near=%d far=%d", nearIdx, farIdx)
	}
}

func TestHexRoundTrip(t *testing.T) {
	want := Hash([]byte("round-trip"))
	s := want.String()

	got, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex() error: %v", err)
	}
	if got != want {
		t.Fatalf("FromHex(String()) did not round-trip: got %v want %v", got, want)
	}
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	if _, err := FromHex("deadbeef"); err == nil {
		t.Fatal("FromHex() should reject a short hex string")
	}
}

func TestIsZero(t *testing.T) {
	var z ID
	if !z.IsZero() {
		t.Error("zero-value ID should report IsZero() == true")
	}
	nz := Hash([]byte("x"))
	if nz.IsZero() {
		t.Error("hash of non-empty input should not be zero")
	}
	if !bytes.Equal(Zero[:], z[:]) {
		t.Error("Zero constant should equal the zero value")
	}
}
