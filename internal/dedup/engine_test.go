// v1
// internal/dedup/engine_test.go
package dedup

import (
	"errors"
	"testing"
	"time"
)

type memStore struct {
	seen    map[string]int64
	readErr error
}

func newMemStore() *memStore {
	return &memStore{seen: make(map[string]int64)}
}

func (m *memStore) DedupLastSeen(key string) (int64, bool, error) {
	if m.readErr != nil {
		return 0, false, m.readErr
	}
	v, ok := m.seen[key]
	return v, ok, nil
}

func (m *memStore) apply(mut *Mutation) {
	if mut != nil {
		m.seen[mut.Key] = mut.SeenMs
	}
}

func identity(dev string, fCnt int64, at time.Time) Identity {
	return Identity{DevEUI: dev, FCnt: &fCnt, EdgeIngestTime: &at}
}

func TestDecideTTLSequence(t *testing.T) {
	store := newMemStore()
	eng, err := New(store, 30*time.Minute)
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// First sight passes and records.
	d, mut, err := eng.Decide(identity("AA", 5, base))
	if err != nil || d != Pass || mut == nil {
		t.Fatalf("first sight: d=%v mut=%v err=%v", d, mut, err)
	}
	if mut.Key != "AA:5" {
		t.Fatalf("unexpected key %q", mut.Key)
	}
	store.apply(mut)

	// Same identity ten minutes later is a duplicate.
	d, mut, err = eng.Decide(identity("AA", 5, base.Add(10*time.Minute)))
	if err != nil || d != Drop || mut != nil {
		t.Fatalf("within TTL: d=%v mut=%v err=%v", d, mut, err)
	}

	// After the TTL elapses the same identity is a new logical event.
	d, mut, err = eng.Decide(identity("AA", 5, base.Add(31*time.Minute)))
	if err != nil || d != Pass || mut == nil {
		t.Fatalf("after TTL: d=%v mut=%v err=%v", d, mut, err)
	}
	store.apply(mut)

	// And it blocks again from the refreshed instant.
	d, _, err = eng.Decide(identity("AA", 5, base.Add(40*time.Minute)))
	if err != nil || d != Drop {
		t.Fatalf("refreshed window: d=%v err=%v", d, err)
	}
}

func TestDecideExactTTLBoundaryIsDuplicate(t *testing.T) {
	store := newMemStore()
	eng, _ := New(store, 30*time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, mut, _ := eng.Decide(identity("AA", 1, base))
	store.apply(mut)

	// Elapsed == TTL does not exceed the window.
	d, _, err := eng.Decide(identity("AA", 1, base.Add(30*time.Minute)))
	if err != nil || d != Drop {
		t.Fatalf("boundary: d=%v err=%v", d, err)
	}
}

func TestDecideIncompleteIdentityAlwaysPasses(t *testing.T) {
	store := newMemStore()
	eng, _ := New(store, time.Minute)
	at := time.Now().UTC()
	fCnt := int64(9)

	cases := []Identity{
		{DevEUI: "", FCnt: &fCnt, EdgeIngestTime: &at},
		{DevEUI: "AA", FCnt: nil, EdgeIngestTime: &at},
		{DevEUI: "AA", FCnt: &fCnt, EdgeIngestTime: nil},
	}
	for i, id := range cases {
		d, mut, err := eng.Decide(id)
		if err != nil || d != Pass || mut != nil {
			t.Fatalf("case %d: d=%v mut=%v err=%v", i, d, mut, err)
		}
	}
}

func TestDecideDistinctIdentitiesIndependent(t *testing.T) {
	store := newMemStore()
	eng, _ := New(store, 30*time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, mut, _ := eng.Decide(identity("AA", 5, base))
	store.apply(mut)

	// Another counter for the same device is unaffected.
	d, mut, err := eng.Decide(identity("AA", 6, base))
	if err != nil || d != Pass || mut == nil {
		t.Fatalf("distinct fCnt: d=%v mut=%v err=%v", d, mut, err)
	}
	// Another device with the same counter likewise.
	d, mut, err = eng.Decide(identity("BB", 5, base))
	if err != nil || d != Pass || mut == nil {
		t.Fatalf("distinct device: d=%v mut=%v err=%v", d, mut, err)
	}
}

func TestDecideStoreFailureSurfaces(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("disk gone")
	eng, _ := New(store, time.Minute)

	_, _, err := eng.Decide(identity("AA", 5, time.Now()))
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
}
