package dht

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ntoll/drogulus/id"
)

func idFromByte(b byte) id.ID {
	var x id.ID
	x[0] = b
	return x
}

func addr(s string) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000, Zone: s}
}

func TestSeenAddsNewContact(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())

	c := &Contact{ID: idFromByte(0x80), Addr: addr("a")}
	rt.Seen(c, time.Now())

	if rt.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", rt.Size())
	}
	if _, ok := rt.Find(c.ID); !ok {
		t.Fatal("Find() did not locate the newly seen contact")
	}
}

func TestSeenIgnoresSelf(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())

	rt.Seen(&Contact{ID: self, Addr: addr("self")}, time.Now())

	if rt.Size() != 0 {
		t.Fatalf("Size() = %d, want 0: a node must never appear in its own routing table", rt.Size())
	}
	if _, ok := rt.Find(self); ok {
		t.Fatal("Find() located self; self-insertion should be refused")
	}
}

func TestSeenRefreshesExistingContact(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())
	target := idFromByte(0x80)

	rt.Seen(&Contact{ID: target, Addr: addr("a")}, time.Unix(1, 0))
	rt.Seen(&Contact{ID: target, Addr: addr("a")}, time.Unix(2, 0))

	c, ok := rt.Find(target)
	if !ok {
		t.Fatal("Find() did not locate contact")
	}
	if !c.LastSeen.Equal(time.Unix(2, 0)) {
		t.Errorf("LastSeen = %v, want refreshed timestamp", c.LastSeen)
	}
}

func TestBucketSplitsWhenFullAndCoversSelf(t *testing.T) {
	self := idFromByte(0x00) // self has MSB=0 in byte 0
	cfg := Config{K: 4, B: 1, RefreshInterval: time.Hour}
	rt := New(self, cfg)

	now := time.Now()
	// Fill the root bucket (which covers self's range) beyond capacity
	// with contacts sharing self's top bit, forcing a split.
	for i := 0; i < 6; i++ {
		c := &Contact{ID: idFromByte(byte(i + 1)), Addr: addr(fmt.Sprintf("c%d", i))}
		rt.Seen(c, now)
	}

	if len(rt.Buckets()) < 2 {
		t.Fatalf("expected routing table to split into multiple buckets, got %d", len(rt.Buckets()))
	}
}

func TestBucketDoesNotSplitWhenFullAndFarFromSelf(t *testing.T) {
	self := idFromByte(0x00)
	cfg := Config{K: 2, B: 1, RefreshInterval: time.Hour}
	rt := New(self, cfg)
	now := time.Now()

	// First split once so we get a bucket that does NOT cover self.
	for i := 0; i < 4; i++ {
		rt.Seen(&Contact{ID: idFromByte(byte(0x80 + i)), Addr: addr("x")}, now)
	}
	bucketsAfterFirstSplit := len(rt.Buckets())

	// Continue adding far contacts; the far bucket should fill and then
	// simply stop accepting new live contacts (caching them instead)
	// rather than splitting further, since it doesn't cover self.
	for i := 0; i < 20; i++ {
		rt.Seen(&Contact{ID: idFromByte(byte(0x80 + i)), Addr: addr("y")}, now)
	}

	far := rt.bucketFor(idFromByte(0x80))
	if far.bucket != nil && far.bucket.Len() > cfg.K {
		t.Errorf("far bucket grew beyond capacity: %d > %d", far.bucket.Len(), cfg.K)
	}
	_ = bucketsAfterFirstSplit
}

func TestClosestOrdersByXORDistance(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())
	now := time.Now()

	ids := []byte{0x01, 0x02, 0x10, 0xF0}
	for _, b := range ids {
		rt.Seen(&Contact{ID: idFromByte(b), Addr: addr("x")}, now)
	}

	target := idFromByte(0x00)
	closest := rt.Closest(target, 2)
	if len(closest) != 2 {
		t.Fatalf("Closest() returned %d contacts, want 2", len(closest))
	}
	if closest[0].ID != idFromByte(0x01) {
		t.Errorf("Closest()[0] = %v, want 0x01 (smallest XOR distance)", closest[0].ID)
	}
}

func TestRemovePromotesFromReplacementCache(t *testing.T) {
	self := idFromByte(0x00)
	cfg := Config{K: 2, B: 1, RefreshInterval: time.Hour}
	rt := New(self, cfg)
	now := time.Now()

	// Fill a bucket far from self (won't split) with K contacts, then
	// push one more into its replacement cache.
	a := &Contact{ID: idFromByte(0x81), Addr: addr("a")}
	b := &Contact{ID: idFromByte(0x82), Addr: addr("b")}
	cached := &Contact{ID: idFromByte(0x83), Addr: addr("c")}

	rt.Seen(a, now)
	rt.Seen(b, now)
	rt.Seen(cached, now)

	promoted := rt.Remove(a.ID)
	if promoted == nil {
		t.Fatal("Remove() did not promote a replacement-cache contact")
	}
	if promoted.ID != cached.ID {
		t.Errorf("promoted contact = %v, want %v", promoted.ID, cached.ID)
	}
}

func TestStaleBucketsIncludesNeverRefreshed(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())
	stale := rt.StaleBuckets(time.Now())
	if len(stale) != 1 {
		t.Fatalf("StaleBuckets() = %d, want 1 (the single never-refreshed root bucket)", len(stale))
	}
}

func TestMarkRefreshedClearsStaleness(t *testing.T) {
	self := idFromByte(0x00)
	rt := New(self, DefaultConfig())
	now := time.Now()

	bucket := rt.Buckets()[0]
	rt.MarkRefreshed(bucket, now)

	stale := rt.StaleBuckets(now.Add(time.Minute))
	if len(stale) != 0 {
		t.Errorf("StaleBuckets() = %d, want 0 right after refresh", len(stale))
	}
}
