package dispatch

import (
	"context"
	"testing"

	"github.com/gfon/schedula/dispatch/emit"
)

func TestDispatch_EmitsEvents(t *testing.T) {
	buf := emit.NewBufferedEmitter(nil)
	dsp := New(WithEmitter(buf))
	mustFunc(t, dsp, "sum", Summation, []string{"a", "b"}, []string{"c"})
	mustFunc(t, dsp, "guarded", func(...any) (any, error) { return 1, nil },
		[]string{"a"}, []string{"d"},
		WithDomain(func(...any) bool { return false }))

	if _, err := dsp.Dispatch(context.Background(), Inputs{"a": 1, "b": 2}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	byMsg := map[string]int{}
	var runID string
	for _, e := range buf.Drain() {
		byMsg[e.Msg]++
		if runID == "" {
			runID = e.RunID
		} else if e.RunID != runID {
			t.Errorf("events carry mixed run ids: %q vs %q", e.RunID, runID)
		}
	}
	if byMsg["dispatch_start"] != 1 || byMsg["dispatch_complete"] != 1 {
		t.Errorf("lifecycle events = %v", byMsg)
	}
	if byMsg["node_visit"] == 0 {
		t.Error("no node_visit events")
	}
	if byMsg["domain_reject"] != 1 {
		t.Errorf("domain_reject events = %d, want 1", byMsg["domain_reject"])
	}
}
