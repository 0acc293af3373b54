package dispatch

import "testing"

func TestFrontier_PopsByDistance(t *testing.T) {
	f := newFrontier()
	f.push(frontierItem{dist: 3, counter: 0, id: "c"})
	f.push(frontierItem{dist: 1, counter: 1, id: "a"})
	f.push(frontierItem{dist: 2, counter: 2, id: "b"})

	var got []string
	for !f.empty() {
		got = append(got, f.pop().id)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestFrontier_TieBreaksByCounter(t *testing.T) {
	f := newFrontier()
	f.push(frontierItem{dist: 1, counter: 5, id: "later"})
	f.push(frontierItem{dist: 1, counter: 2, id: "earlier"})

	if id := f.pop().id; id != "earlier" {
		t.Errorf("first pop = %q, want the earlier-inserted entry", id)
	}
}

func TestFrontier_StaleEntriesSkipped(t *testing.T) {
	// Lazy decrease-key: improving a node's distance leaves the old entry
	// in the heap; the engine must discard it on pop.
	dist := map[string]float64{"n": 5}
	f := newFrontier()
	f.push(frontierItem{dist: 5, counter: 0, id: "n"})
	dist["n"] = 2
	f.push(frontierItem{dist: 2, counter: 1, id: "n"})

	visited := 0
	for !f.empty() {
		it := f.pop()
		if dist[it.id] != it.dist {
			continue // stale
		}
		visited++
	}
	if visited != 1 {
		t.Errorf("node visited %d times, want 1", visited)
	}
}
