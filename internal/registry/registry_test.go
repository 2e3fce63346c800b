package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestFieldsAllocateSmallestUnusedID(t *testing.T) {
	r := NewFields()

	for want := 0; want < 5; want++ {
		f := r.Create()
		if f.ID != want {
			t.Fatalf("create #%d: got id %d", want, f.ID)
		}
	}

	tagged, created := r.GetOrCreate("speed")
	if !created || tagged.ID != 5 {
		t.Fatalf("expected new field with id 5, got id=%d created=%v", tagged.ID, created)
	}
}

func TestFieldsReuseGapAfterRemove(t *testing.T) {
	r := NewFields()
	for i := 0; i < 4; i++ {
		r.Create()
	}

	if !r.Remove(1) {
		t.Fatalf("expected remove of id 1 to succeed")
	}
	if r.Remove(1) {
		t.Fatalf("second remove of id 1 should report false")
	}

	if f := r.Create(); f.ID != 1 {
		t.Fatalf("expected gap id 1 to be reused, got %d", f.ID)
	}
	if f := r.Create(); f.ID != 4 {
		t.Fatalf("expected id 4 after gap filled, got %d", f.ID)
	}
}

func TestFieldsSameTagSameID(t *testing.T) {
	r := NewFields()

	a, created := r.GetOrCreate("voltage")
	if !created {
		t.Fatalf("first lookup should create")
	}
	b, created := r.GetOrCreate("voltage")
	if created {
		t.Fatalf("second lookup should not create")
	}
	if a != b || a.ID != b.ID {
		t.Fatalf("same tag returned different fields: %d vs %d", a.ID, b.ID)
	}

	c, _ := r.GetOrCreate("current")
	if c.ID == a.ID {
		t.Fatalf("different tags aliased id %d", c.ID)
	}
}

func TestFieldsLookupDoesNotCreate(t *testing.T) {
	r := NewFields()

	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("lookup of unknown tag should miss")
	}
	if r.Len() != 0 {
		t.Fatalf("lookup created a field")
	}

	f, _ := r.GetOrCreate("present")
	got, ok := r.Lookup("present")
	if !ok || got != f {
		t.Fatalf("lookup after create: got %+v ok=%v", got, ok)
	}
	if byID, ok := r.Get(f.ID); !ok || byID != f {
		t.Fatalf("get by id mismatch")
	}
	if _, ok := r.Get(42); ok {
		t.Fatalf("get of unknown id should miss")
	}
}

func TestFieldsRemoveDropsTag(t *testing.T) {
	r := NewFields()
	f, _ := r.GetOrCreate("temp")
	r.Remove(f.ID)

	if _, ok := r.Lookup("temp"); ok {
		t.Fatalf("tag survived remove")
	}
	again, created := r.GetOrCreate("temp")
	if !created || again.ID != f.ID {
		t.Fatalf("expected re-created field to reuse id %d, got %d created=%v", f.ID, again.ID, created)
	}
}

func TestFieldsConcurrentSameTagCreatesOnce(t *testing.T) {
	r := NewFields()

	const workers = 64
	var wg sync.WaitGroup
	ids := make([]int, workers)
	createdCount := make([]bool, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			f, created := r.GetOrCreate("shared")
			ids[i] = f.ID
			createdCount[i] = created
		}(i)
	}
	close(start)
	wg.Wait()

	creators := 0
	for i := 0; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got id %d, worker 0 got %d", i, ids[i], ids[0])
		}
		if createdCount[i] {
			creators++
		}
	}
	if creators != 1 {
		t.Fatalf("expected exactly one creator, got %d", creators)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one field, got %d", r.Len())
	}
}

func TestFieldsConcurrentCreateUniqueDenseIDs(t *testing.T) {
	r := NewFields()

	const workers = 32
	const perWorker = 50
	var wg sync.WaitGroup
	results := make(chan int, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if i%2 == 0 {
					results <- r.Create().ID
				} else {
					f, _ := r.GetOrCreate(fmt.Sprintf("w%d-%d", w, i))
					results <- f.ID
				}
			}
		}(w)
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for id := range results {
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	for id := 0; id < workers*perWorker; id++ {
		if !seen[id] {
			t.Fatalf("ids are not dense: %d missing", id)
		}
	}
}

func TestFieldValue(t *testing.T) {
	r := NewFields()
	f := r.Create()
	if f.Value() != nil {
		t.Fatalf("new field should have nil value")
	}
	f.Set(3.5)
	if f.Value() != 3.5 {
		t.Fatalf("unexpected value %v", f.Value())
	}
}

func TestTablesPutAndLookup(t *testing.T) {
	tables := NewTables()

	if _, ok := tables.Lookup("metrics"); ok {
		t.Fatalf("empty cache should miss")
	}

	entry, changed := tables.Put("metrics", 2)
	if !changed || entry.ID != 2 || entry.Name != "metrics" {
		t.Fatalf("unexpected put result %+v changed=%v", entry, changed)
	}
	if _, changed := tables.Put("metrics", 2); changed {
		t.Fatalf("identical put should not change the cache")
	}

	got, ok := tables.Lookup("metrics")
	if !ok || got.ID != 2 {
		t.Fatalf("lookup after put: %+v ok=%v", got, ok)
	}
	if byID, ok := tables.ByID(2); !ok || byID != got {
		t.Fatalf("by id lookup mismatch")
	}
}

func TestTablesPutMovesID(t *testing.T) {
	tables := NewTables()
	tables.Put("config", 1)

	entry, changed := tables.Put("config", 4)
	if !changed || entry.ID != 4 {
		t.Fatalf("expected id to move to 4, got %+v changed=%v", entry, changed)
	}
	if _, ok := tables.ByID(1); ok {
		t.Fatalf("old id still indexed")
	}
	if tables.Len() != 1 {
		t.Fatalf("expected one table, got %d", tables.Len())
	}
}

func TestTablesAliasAndAll(t *testing.T) {
	tables := NewTables()
	b, _ := tables.Put("beta", 5)
	tables.Put("alpha", 1)
	tables.Alias("Beta", b)

	if got, ok := tables.Lookup("Beta"); !ok || got.ID != 5 {
		t.Fatalf("alias lookup failed: %+v ok=%v", got, ok)
	}

	all := tables.All()
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "beta" {
		t.Fatalf("unexpected snapshot %+v", all)
	}
}
