package handle

import "testing"

func TestAllocateLookupRoundTrip(t *testing.T) {
	tbl := NewTable(4)
	locs := []Location{
		{Set: 0, Index: 0},
		{Set: 0, A: 3, Index: 7},
		{Set: 1, A: 1, B: 2, Index: 9},
	}
	handles := make([]Handle, len(locs))
	for i, loc := range locs {
		handles[i] = tbl.Allocate(loc)
		if !handles[i].IsValid() {
			t.Fatalf("Allocate returned the invalid handle for %+v", loc)
		}
	}
	for i, h := range handles {
		got, ok := tbl.Lookup(h)
		if !ok || got != locs[i] {
			t.Fatalf("Lookup(%v) = %+v ok=%v, want %+v", h, got, ok, locs[i])
		}
	}
}

func TestFreedHandleIsStale(t *testing.T) {
	tbl := NewTable(2)
	h := tbl.Allocate(Location{Index: 5})
	tbl.Free(h)
	if _, ok := tbl.Lookup(h); ok {
		t.Fatal("a freed handle must not resolve")
	}
	if tbl.IsLive(h) {
		t.Fatal("IsLive must be false for a freed handle")
	}
	// Freeing twice is a no-op, not a panic.
	tbl.Free(h)
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	tbl := NewTable(2)
	old := tbl.Allocate(Location{Index: 1})
	tbl.Free(old)

	reused := tbl.Allocate(Location{Index: 2})
	if reused.Index() != old.Index() {
		t.Fatalf("freed slot %d should be reused, got slot %d", old.Index(), reused.Index())
	}
	if reused == old {
		t.Fatal("reused slot must carry a different generation")
	}
	if _, ok := tbl.Lookup(old); ok {
		t.Fatal("the stale handle must not alias the new occupant")
	}
	if loc, ok := tbl.Lookup(reused); !ok || loc.Index != 2 {
		t.Fatalf("new handle should resolve to the new location, got %+v ok=%v", loc, ok)
	}
}

func TestUpdateMovesLiveHandleOnly(t *testing.T) {
	tbl := NewTable(2)
	h := tbl.Allocate(Location{Index: 0})
	if !tbl.Update(h, Location{Index: 42}) {
		t.Fatal("Update on a live handle must succeed")
	}
	if loc, _ := tbl.Lookup(h); loc.Index != 42 {
		t.Fatalf("Lookup after Update = %+v, want Index 42", loc)
	}

	tbl.Free(h)
	if tbl.Update(h, Location{Index: 7}) {
		t.Fatal("Update on a stale handle must fail")
	}
}

func TestInvalidHandleNeverResolves(t *testing.T) {
	tbl := NewTable(0)
	// Fill a few slots so index 0 is live; the zero handle still must not
	// resolve, because live generations start at 1.
	for i := 0; i < 3; i++ {
		tbl.Allocate(Location{Index: int32(i)})
	}
	if _, ok := tbl.Lookup(Invalid); ok {
		t.Fatal("the zero handle must never resolve")
	}
}

func TestManyChurnedSlotsStayConsistent(t *testing.T) {
	tbl := NewTable(8)
	live := map[Handle]Location{}
	var order []Handle
	for round := 0; round < 50; round++ {
		loc := Location{A: int32(round), Index: int32(round * 3)}
		h := tbl.Allocate(loc)
		live[h] = loc
		order = append(order, h)
		// Free every third allocation to force slot reuse.
		if round%3 == 2 {
			victim := order[round-2]
			tbl.Free(victim)
			delete(live, victim)
		}
	}
	for h, want := range live {
		got, ok := tbl.Lookup(h)
		if !ok || got != want {
			t.Fatalf("after churn, Lookup(%v) = %+v ok=%v, want %+v", h, got, ok, want)
		}
	}
	for _, h := range order {
		if _, wantLive := live[h]; !wantLive && tbl.IsLive(h) {
			t.Fatalf("freed handle %v still reports live", h)
		}
	}
}
