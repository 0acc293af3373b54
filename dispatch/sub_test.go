package dispatch

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func maxFunc(args ...any) (any, error) {
	return math.Max(toF(args[0]), toF(args[1])), nil
}

func TestAddDispatcher_Dispatch(t *testing.T) {
	// S4: the parent routes A, B into the child's a, b; the child's max
	// flows back out as C.
	child := New(WithName("child"))
	mustFunc(t, child, "max", maxFunc, []string{"a", "b"}, []string{"c"})

	dsp := New()
	if _, err := dsp.AddDispatcher("sub", child,
		map[string][]string{"A": {"a"}, "B": {"b"}},
		map[string][]string{"c": {"C"}}); err != nil {
		t.Fatalf("add dispatcher: %v", err)
	}

	sol, err := dsp.Dispatch(context.Background(), Inputs{"A": 2, "B": 5}, WithOutputs("C"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if v, _ := sol.Value("C"); toF(v) != 5 {
		t.Errorf("C = %v, want 5", v)
	}

	sub, ok := sol.Sub["sub"]
	if !ok {
		t.Fatal("sub-solution not retained")
	}
	if v, _ := sub.Value("c"); toF(v) != 5 {
		t.Errorf("child c = %v, want 5", v)
	}
}

func TestAddDispatcher_MapDomain(t *testing.T) {
	child := New(WithName("child"))
	mustFunc(t, child, "max", maxFunc, []string{"a", "b"}, []string{"c"})

	dsp := New()
	if _, err := dsp.AddDispatcher("sub", child,
		map[string][]string{"A": {"a"}, "B": {"b"}},
		map[string][]string{"c": {"C"}},
		WithMapDomain(func(in map[string]any) bool { return toF(in["A"]) > 0 })); err != nil {
		t.Fatalf("add dispatcher: %v", err)
	}

	sol, err := dsp.Dispatch(context.Background(), Inputs{"A": -2, "B": 5})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sol.Has("C") {
		t.Error("domain-rejected sub-dispatcher wrote its output")
	}
	if !sol.Suppressed("sub") {
		t.Error("sub node not marked suppressed")
	}
}

func TestAddDispatcher_FanOut(t *testing.T) {
	// One parent id fans into two child ids, one child id fans out to two
	// parent ids.
	child := New(WithName("child"))
	mustFunc(t, child, "sum", func(args ...any) (any, error) {
		return toF(args[0]) + toF(args[1]), nil
	}, []string{"x", "y"}, []string{"z"})

	dsp := New()
	if _, err := dsp.AddDispatcher("sub", child,
		map[string][]string{"A": {"x", "y"}},
		map[string][]string{"z": {"Z1", "Z2"}}); err != nil {
		t.Fatalf("add dispatcher: %v", err)
	}

	sol, err := dsp.Dispatch(context.Background(), Inputs{"A": 3}, WithOutputs("Z1", "Z2"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, id := range []string{"Z1", "Z2"} {
		if v, _ := sol.Value(id); toF(v) != 6 {
			t.Errorf("%s = %v, want 6", id, v)
		}
	}
}

func TestSubDispatch(t *testing.T) {
	sub := New(WithName("plusminus"))
	mustFunc(t, sub, "fun", func(args ...any) (any, error) {
		a := toF(args[0])
		return []any{a + 1, a - 1}, nil
	}, []string{"a"}, []string{"b", "c"})

	t.Run("dict output as a function node", func(t *testing.T) {
		sd := NewSubDispatch(sub, []string{"a", "b", "c"}, OutputDict)
		dsp := New()
		mustFunc(t, dsp, "nested", sd.Func, []string{"d"}, []string{"e"})

		sol, err := dsp.Dispatch(context.Background(),
			Inputs{"d": map[string]any{"a": 3.0}}, WithOutputs("e"))
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		v, _ := sol.Value("e")
		got, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("e = %T, want map", v)
		}
		want := map[string]any{"a": 3.0, "b": 4.0, "c": 2.0}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("e = %v, want %v", got, want)
		}
	})

	t.Run("list output", func(t *testing.T) {
		sd := NewSubDispatch(sub, []string{"b", "c"}, OutputList)
		out, err := sd.Call(context.Background(), map[string]any{"a": 3.0})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if !reflect.DeepEqual(out, []any{4.0, 2.0}) {
			t.Errorf("out = %v, want [4 2]", out)
		}
	})

	t.Run("single value output", func(t *testing.T) {
		sd := NewSubDispatch(sub, []string{"b"}, OutputValues)
		out, err := sd.Call(context.Background(), map[string]any{"a": 3.0})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if toF(out) != 4.0 {
			t.Errorf("out = %v, want 4", out)
		}
	})

	t.Run("missing outputs raise with partial solution", func(t *testing.T) {
		sd := NewSubDispatch(sub, []string{"nope"}, OutputList)
		_, err := sd.Call(context.Background(), map[string]any{"a": 3.0})
		var de *DispatcherError
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, want *DispatcherError", err)
		}
		if de.Sol == nil {
			t.Error("partial solution missing")
		}
	})
}

// cycleDsp builds max(a, b) -> c -> log(c-1) -> a with log's domain c > 1.
func cycleDsp(t *testing.T) *Dispatcher {
	dsp := New(WithName("cycle"))
	mustFunc(t, dsp, "max", maxFunc, []string{"a", "b"}, []string{"c"})
	mustFunc(t, dsp, "log(x - 1)", func(args ...any) (any, error) {
		return math.Log(toF(args[0]) - 1), nil
	}, []string{"c"}, []string{"a"},
		WithDomain(func(args ...any) bool { return toF(args[0]) > 1 }))
	return dsp
}

func TestSubDispatchFunction(t *testing.T) {
	fun, err := NewSubDispatchFunction(cycleDsp(t), "myF", []string{"a", "b"}, []string{"a"})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	t.Run("resolves the cycle through the wildcard", func(t *testing.T) {
		out, err := fun.Call(context.Background(), 2.0, 1.0)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if toF(out) != 0.0 {
			t.Errorf("myF(2, 1) = %v, want 0", out)
		}
	})

	t.Run("domain rejection makes the output unreachable", func(t *testing.T) {
		_, err := fun.Call(context.Background(), 1.0, 0.0)
		var de *DispatcherError
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, want *DispatcherError", err)
		}
	})

	t.Run("duplicate keyword", func(t *testing.T) {
		_, err := fun.CallKW(context.Background(), []any{2.0, 1.0}, map[string]any{"a": 9.0})
		if err == nil || !strings.Contains(err.Error(), "multiple values") {
			t.Fatalf("err = %v, want duplicate-argument rejection", err)
		}
	})

	t.Run("unknown keyword", func(t *testing.T) {
		_, err := fun.CallKW(context.Background(), []any{2.0, 1.0}, map[string]any{"zz": 9.0})
		if err == nil || !strings.Contains(err.Error(), "unexpected keyword") {
			t.Fatalf("err = %v, want unknown-keyword rejection", err)
		}
	})

	t.Run("unreachable outputs at construction", func(t *testing.T) {
		_, err := NewSubDispatchFunction(cycleDsp(t), "bad", []string{"a", "b"}, []string{"zz"})
		if err == nil {
			t.Fatal("constructing over an unknown output must fail")
		}
	})
}

func TestSubDispatchPipe(t *testing.T) {
	// Same cycle without the domain: max(a, b) -> c -> (c - 1) -> a.
	build := func(t *testing.T) *Dispatcher {
		dsp := New(WithName("cycle"))
		mustFunc(t, dsp, "max", maxFunc, []string{"a", "b"}, []string{"c"})
		mustFunc(t, dsp, "x - 1", func(args ...any) (any, error) {
			return toF(args[0]) - 1, nil
		}, []string{"c"}, []string{"a"})
		return dsp
	}

	t.Run("replays the recorded order", func(t *testing.T) {
		pipe, err := NewSubDispatchPipe(build(t), "myF", []string{"a", "b"}, []string{"a"})
		if err != nil {
			t.Fatalf("construct: %v", err)
		}
		out, err := pipe.Call(context.Background(), 2.0, 1.0)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if toF(out) != 1.0 {
			t.Errorf("myF(2, 1) = %v, want 1", out)
		}
	})

	t.Run("matches SubDispatchFunction", func(t *testing.T) {
		// Pipe and function renditions of the same frozen I/O must agree.
		pipe, err := NewSubDispatchPipe(build(t), "p", []string{"a", "b"}, []string{"a"})
		if err != nil {
			t.Fatalf("construct pipe: %v", err)
		}
		fun, err := NewSubDispatchFunction(build(t), "f", []string{"a", "b"}, []string{"a"})
		if err != nil {
			t.Fatalf("construct function: %v", err)
		}
		for _, args := range [][]any{{2.0, 1.0}, {5.0, 3.0}, {10.0, 2.0}} {
			pv, err := pipe.Call(context.Background(), args...)
			if err != nil {
				t.Fatalf("pipe(%v): %v", args, err)
			}
			fv, err := fun.Call(context.Background(), args...)
			if err != nil {
				t.Fatalf("fun(%v): %v", args, err)
			}
			if toF(pv) != toF(fv) {
				t.Errorf("pipe(%v) = %v, fun(%v) = %v; want equal", args, pv, args, fv)
			}
		}
	})

	t.Run("replays nested dispatchers", func(t *testing.T) {
		child := New(WithName("child"))
		mustFunc(t, child, "max", maxFunc, []string{"a", "b"}, []string{"c"})
		dsp := New()
		if _, err := dsp.AddDispatcher("sub", child,
			map[string][]string{"A": {"a"}, "B": {"b"}},
			map[string][]string{"c": {"C"}}); err != nil {
			t.Fatalf("add dispatcher: %v", err)
		}

		pipe, err := NewSubDispatchPipe(dsp, "nested", []string{"A", "B"}, []string{"C"})
		if err != nil {
			t.Fatalf("construct: %v", err)
		}
		out, err := pipe.Call(context.Background(), 2.0, 5.0)
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if toF(out) != 5.0 {
			t.Errorf("nested(2, 5) = %v, want 5", out)
		}
	})

	t.Run("stopper aborts the replay", func(t *testing.T) {
		st := NewStopper()
		dsp := New(WithStopper(st))
		mustFunc(t, dsp, "f", func(args ...any) (any, error) { return toF(args[0]) + 1, nil },
			[]string{"a"}, []string{"b"})
		pipe, err := NewSubDispatchPipe(dsp, "p", []string{"a"}, []string{"b"})
		if err != nil {
			t.Fatalf("construct: %v", err)
		}
		st.Set()
		defer st.Clear()
		_, err = pipe.Call(context.Background(), 1.0)
		var da *DispatcherAbort
		if !errors.As(err, &da) {
			t.Fatalf("err = %v, want *DispatcherAbort", err)
		}
	})
}
