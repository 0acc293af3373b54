package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gfon/schedula/dispatch"
)

// runStoreContract exercises the Store behavior every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("solution round trip", func(t *testing.T) {
		rec := Record{
			RunID:      "run-1",
			Dispatcher: "model",
			Values:     map[string]any{"c": 1.0},
			Dist:       map[string]float64{"c": 2},
			Order:      []string{"a", "b", "c"},
			Edges:      [][2]string{{"a", "diff"}, {"diff", "c"}},
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
		}
		if err := s.SaveSolution(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := s.LoadSolution(ctx, "run-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Dispatcher != "model" || got.Values["c"] != 1.0 || got.Dist["c"] != 2 {
			t.Errorf("loaded = %+v", got)
		}
		if len(got.Order) != 3 || got.Order[2] != "c" {
			t.Errorf("order = %v", got.Order)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		if _, err := s.LoadSolution(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"old", "mid", "new"} {
			rec := Record{
				RunID:      id,
				Dispatcher: "listed",
				Values:     map[string]any{},
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			}
			if err := s.SaveSolution(ctx, rec); err != nil {
				t.Fatalf("save %s: %v", id, err)
			}
		}
		recs, err := s.ListSolutions(ctx, "listed", 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) != 2 || recs[0].RunID != "new" || recs[1].RunID != "mid" {
			t.Errorf("list = %+v", recs)
		}
	})

	t.Run("layout round trip", func(t *testing.T) {
		blob := []byte(`{"name":"model"}`)
		if err := s.SaveLayout(ctx, "model", blob); err != nil {
			t.Fatalf("save layout: %v", err)
		}
		got, err := s.LoadLayout(ctx, "model")
		if err != nil {
			t.Fatalf("load layout: %v", err)
		}
		if string(got) != string(blob) {
			t.Errorf("layout = %s, want %s", got, blob)
		}
		if _, err := s.LoadLayout(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing layout err = %v, want ErrNotFound", err)
		}
	})
}

func TestRecordSolution(t *testing.T) {
	dsp := dispatch.New(dispatch.WithName("intro"))
	if _, err := dsp.AddFunction("sum", dispatch.Summation, []string{"a", "b"}, []string{"c"}); err != nil {
		t.Fatalf("add function: %v", err)
	}
	sol, err := dsp.Dispatch(context.Background(), dispatch.Inputs{"a": 1, "b": 2},
		dispatch.WithOutputs("c"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	rec := RecordSolution("intro", sol)
	if rec.RunID != sol.RunID {
		t.Errorf("run id = %q, want %q", rec.RunID, sol.RunID)
	}
	if rec.Values["c"] != 3.0 {
		t.Errorf("values = %v", rec.Values)
	}
	if len(rec.Edges) == 0 {
		t.Error("edges missing")
	}
}
