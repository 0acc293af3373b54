package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	dsp := New(WithMetrics(m))
	mustFunc(t, dsp, "ok", func(args ...any) (any, error) { return toF(args[0]) + 1, nil },
		[]string{"a"}, []string{"b"})
	mustFunc(t, dsp, "bad", func(...any) (any, error) { return nil, errors.New("nope") },
		[]string{"a"}, []string{"c"})
	mustFunc(t, dsp, "guarded", func(...any) (any, error) { return 1, nil },
		[]string{"a"}, []string{"d"},
		WithDomain(func(...any) bool { return false }))

	if _, err := dsp.Dispatch(context.Background(), Inputs{"a": 1}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := gatherValue(t, reg, "schedula_dispatches_total"); got != 1 {
		t.Errorf("dispatches_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "schedula_node_visits_total"); got == 0 {
		t.Error("node_visits_total never incremented")
	}
	if got := gatherValue(t, reg, "schedula_function_errors_total"); got != 1 {
		t.Errorf("function_errors_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "schedula_domain_rejections_total"); got != 1 {
		t.Errorf("domain_rejections_total = %v, want 1", got)
	}
}
