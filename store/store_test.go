package store

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/ntoll/drogulus/id"
	"github.com/ntoll/drogulus/item"
)

func buildItem(t *testing.T, name string, value string, expires time.Time, ts time.Time) *item.Item {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error: %v", err)
	}
	it, err := item.Build([]byte(value), name, expires, nil, priv, 1, ts)
	if err != nil {
		t.Fatalf("item.Build() error: %v", err)
	}
	return it
}

func TestInsertThenGet(t *testing.T) {
	s, err := New(id.ID{}, 0)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)

	inserted, err := s.Insert(it, now)
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if !inserted {
		t.Fatal("Insert() of a fresh item should report inserted=true")
	}

	got, ok := s.Get(it.Key, now)
	if !ok {
		t.Fatal("Get() did not find the inserted item")
	}
	if string(got.Value) != "v1" {
		t.Errorf("Value = %q, want %q", got.Value, "v1")
	}
}

func TestInsertSameItemTwiceIsIdempotent(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)

	s.Insert(it, now)
	changed, err := s.Insert(it, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if changed {
		t.Error("re-inserting the identical item should not change datastore state (not newer)")
	}
}

func TestInsertRejectsOlderItem(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	// Same (name) but distinct signer would get distinct keys; to
	// collide on the same key we must reuse the same signer. Build
	// both from one key pair directly.
	_, priv, _ := ed25519.GenerateKey(nil)
	older, err := item.Build([]byte("old"), "name", time.Time{}, nil, priv, 1, t1)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	newer, err := item.Build([]byte("new"), "name", time.Time{}, nil, priv, 1, t2)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if _, err := s.Insert(newer, t2); err != nil {
		t.Fatalf("Insert(newer) error: %v", err)
	}
	changed, err := s.Insert(older, t2)
	if err != nil {
		t.Fatalf("Insert(older) error: %v", err)
	}
	if changed {
		t.Error("Insert() of an older item should be silently rejected")
	}

	got, _ := s.Get(newer.Key, t2)
	if string(got.Value) != "new" {
		t.Errorf("datastore holds %q after rejecting the older write, want %q", got.Value, "new")
	}
}

func TestExpireScanRemovesExpiredItems(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", now.Add(time.Hour), now)
	s.Insert(it, now)

	removed := s.ExpireScan(now.Add(2 * time.Hour))
	if removed != 1 {
		t.Fatalf("ExpireScan() removed = %d, want 1", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len() after expiry = %d, want 0", s.Len())
	}
}

func TestExpireScanKeepsNonExpiring(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)
	s.Insert(it, now)

	removed := s.ExpireScan(now.Add(24 * time.Hour))
	if removed != 0 {
		t.Errorf("ExpireScan() removed = %d, want 0 for a never-expiring item", removed)
	}
}

func TestDueForRepublish(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)
	s.Insert(it, now)

	if due := s.DueForRepublish(now.Add(time.Minute), time.Hour); len(due) != 0 {
		t.Errorf("DueForRepublish() before interval elapsed = %d, want 0", len(due))
	}

	due := s.DueForRepublish(now.Add(2*time.Hour), time.Hour)
	if len(due) != 1 {
		t.Fatalf("DueForRepublish() after interval elapsed = %d, want 1", len(due))
	}

	s.MarkRepublished(it.Key, now.Add(2*time.Hour))
	if due := s.DueForRepublish(now.Add(2*time.Hour+time.Minute), time.Hour); len(due) != 0 {
		t.Errorf("DueForRepublish() right after MarkRepublished = %d, want 0", len(due))
	}
}

func TestDueForRepublishSkipsItemReceivedWithinCycle(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)
	s.Insert(it, now)

	// Let the republish interval lapse without anyone else re-storing
	// the item: it should become due.
	due := s.DueForRepublish(now.Add(2*time.Hour), time.Hour)
	if len(due) != 1 {
		t.Fatalf("DueForRepublish() = %d, want 1 before any external receipt", len(due))
	}

	// Someone else's republication pass delivers the same item to us
	// again, right before our own tick would have fired.
	s.Insert(it, now.Add(2*time.Hour))

	if due := s.DueForRepublish(now.Add(2*time.Hour+time.Minute), time.Hour); len(due) != 0 {
		t.Errorf("DueForRepublish() = %d, want 0: a STORE received within the cycle should suppress our own republish", len(due))
	}
}

func TestPruneCachingDropsFarUnrequestedItems(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)
	s.Insert(it, now)

	dropped := s.PruneCaching(now.Add(2*time.Hour), time.Hour, func(id.ID) bool { return true })
	if dropped != 1 {
		t.Fatalf("PruneCaching() dropped = %d, want 1", dropped)
	}
}

func TestPruneCachingKeepsNearItems(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	now := time.Now()
	it := buildItem(t, "name", "v1", time.Time{}, now)
	s.Insert(it, now)

	dropped := s.PruneCaching(now.Add(2*time.Hour), time.Hour, func(id.ID) bool { return false })
	if dropped != 0 {
		t.Errorf("PruneCaching() dropped = %d, want 0 when isFar reports false", dropped)
	}
}

func TestSoftCapEvictsLeastRecentlyTouched(t *testing.T) {
	s, err := New(id.ID{}, 2)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Now()

	a := buildItem(t, "a", "va", time.Time{}, now)
	b := buildItem(t, "b", "vb", time.Time{}, now)
	c := buildItem(t, "c", "vc", time.Time{}, now)

	s.Insert(a, now)
	s.Insert(b, now)
	s.Insert(c, now) // should evict a, the least recently touched

	if s.Len() != 2 {
		t.Fatalf("Len() with soft cap 2 = %d, want 2", s.Len())
	}
	if _, ok := s.Peek(a.Key); ok {
		t.Error("soft-capped store should have evicted the least recently touched item")
	}
}

func TestInsertRejectsInvalidItem(t *testing.T) {
	s, _ := New(id.ID{}, 0)
	it := buildItem(t, "name", "v1", time.Time{}, time.Now())
	it.Value = []byte("tampered")

	if _, err := s.Insert(it, time.Now()); err == nil {
		t.Fatal("Insert() of a tampered item should fail validation")
	}
}
