package catalog

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func chartNamed(name string) ChartRecord {
	return ChartRecord{Name: name, Title: Text("title-" + name)}
}

func TestMirrorInsertFrontKeepsOrder(t *testing.T) {
	mirror := NewMirror(nil)
	mirror.InsertFront(chartNamed("a"))
	mirror.InsertFront(chartNamed("b"))
	mirror.InsertFront(chartNamed("c"))

	snapshot := mirror.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snapshot))
	}
	for i, want := range []string{"c", "b", "a"} {
		if snapshot[i].Name != want {
			t.Fatalf("position %d: got %q, want %q", i, snapshot[i].Name, want)
		}
	}
}

func TestMirrorReplaceInPlace(t *testing.T) {
	mirror := NewMirror([]ChartRecord{chartNamed("a"), chartNamed("b"), chartNamed("c")})

	updated := chartNamed("b")
	updated.Rating = 30
	if !mirror.Replace(updated) {
		t.Fatalf("expected replace to find the record")
	}

	snapshot := mirror.Snapshot()
	if snapshot[1].Name != "b" || snapshot[1].Rating != 30 {
		t.Fatalf("replace should keep position and apply fields: %+v", snapshot[1])
	}
	if mirror.Replace(chartNamed("missing")) {
		t.Fatalf("replace of an absent record should report false")
	}
}

func TestMirrorRemove(t *testing.T) {
	mirror := NewMirror([]ChartRecord{chartNamed("a"), chartNamed("b"), chartNamed("c")})
	if !mirror.Remove("b") {
		t.Fatalf("expected remove to find the record")
	}
	if mirror.Remove("b") {
		t.Fatalf("second remove should report false")
	}
	snapshot := mirror.Snapshot()
	if len(snapshot) != 2 || snapshot[0].Name != "a" || snapshot[1].Name != "c" {
		t.Fatalf("unexpected contents after remove: %+v", snapshot)
	}
}

func TestMirrorSnapshotIsACopy(t *testing.T) {
	mirror := NewMirror([]ChartRecord{chartNamed("a")})
	snapshot := mirror.Snapshot()
	snapshot[0].Name = "mutated"
	if got, _ := mirror.Get("a"); got.Name != "a" {
		t.Fatalf("snapshot mutation must not affect the mirror")
	}
}

func TestMirrorConcurrentMutations(t *testing.T) {
	mirror := NewMirror(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("chart-%d", i)
			mirror.InsertFront(chartNamed(name))
			mirror.Replace(chartNamed(name))
			_ = mirror.Snapshot()
		}(i)
	}
	wg.Wait()
	if mirror.Len() != 32 {
		t.Fatalf("expected 32 records after concurrent inserts, got %d", mirror.Len())
	}
}

func TestViewCacheTTLAndInvalidation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	cache := NewViewCache(5*time.Minute, clock)

	_, generation, ok := cache.Get()
	if ok {
		t.Fatalf("cold cache should miss")
	}

	cache.Set(Projections{Public: []ChartRecord{chartNamed("a")}}, generation)
	if value, _, ok := cache.Get(); !ok || len(value.Public) != 1 {
		t.Fatalf("expected fresh hit, got ok=%v", ok)
	}

	now = now.Add(6 * time.Minute)
	if _, _, ok := cache.Get(); ok {
		t.Fatalf("expired entry should miss")
	}

	now = now.Add(-6 * time.Minute)
	_, generation, _ = cache.Get()
	cache.Set(Projections{Public: []ChartRecord{chartNamed("a")}}, generation)
	cache.Invalidate()
	if _, _, ok := cache.Get(); ok {
		t.Fatalf("invalidated entry should miss before TTL expiry")
	}
}

func TestViewCacheDropsStaleRecompute(t *testing.T) {
	cache := NewViewCache(5*time.Minute, nil)

	// A reader starts recomputing from a pre-mutation snapshot.
	_, generation, ok := cache.Get()
	if ok {
		t.Fatalf("cold cache should miss")
	}
	stale := Projections{Public: []ChartRecord{chartNamed("pre-mutation")}}

	// A writer mutates and invalidates before the reader stores.
	cache.Invalidate()
	cache.Set(stale, generation)

	if _, _, ok := cache.Get(); ok {
		t.Fatal("stale recompute re-seeded the cache past an invalidation")
	}

	// The next recompute runs under the current generation and sticks.
	_, generation, _ = cache.Get()
	cache.Set(Projections{Public: []ChartRecord{chartNamed("post-mutation")}}, generation)
	value, _, ok := cache.Get()
	if !ok || value.Public[0].Name != "post-mutation" {
		t.Fatalf("fresh recompute not cached, ok=%v", ok)
	}
}

func TestViewCacheDisabled(t *testing.T) {
	cache := NewViewCache(0, nil)
	cache.Set(Projections{Public: []ChartRecord{chartNamed("a")}}, 0)
	if _, _, ok := cache.Get(); ok {
		t.Fatalf("disabled cache should always miss")
	}
}

func TestSplitProjections(t *testing.T) {
	public := chartNamed("pub")
	public.Meta.IsPublic = true
	private := chartNamed("priv")

	projections := Split([]ChartRecord{public, private})
	if len(projections.Public) != 1 || projections.Public[0].Name != "pub" {
		t.Fatalf("unexpected public projection: %+v", projections.Public)
	}
	if len(projections.Private) != 1 || projections.Private[0].Name != "priv" {
		t.Fatalf("unexpected private projection: %+v", projections.Private)
	}
}
