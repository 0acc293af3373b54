package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DispatchOption configures one Dispatch call.
type DispatchOption func(*dispatchConfig)

// WithOutputs names the requested output data nodes. The search stops as
// soon as every one of them has been seen.
func WithOutputs(ids ...string) DispatchOption {
	return func(c *dispatchConfig) { c.outputs = append(c.outputs, ids...) }
}

// WithCutoff bounds the search: nodes beyond the given distance are
// ignored.
func WithCutoff(distance float64) DispatchOption {
	return func(c *dispatchConfig) { c.cutoff, c.hasCutoff = distance, true }
}

// WithInputDists sets the initial distances of input data nodes (default
// zero).
func WithInputDists(dists map[string]float64) DispatchOption {
	return func(c *dispatchConfig) { c.inputDists = dists }
}

// WithWildcard makes every input that is also a requested output behave as
// a wildcard: its value feeds the connected functions but is not emitted
// as an output, so cycles can re-enter through it.
func WithWildcard() DispatchOption {
	return func(c *dispatchConfig) { c.wildcard = true }
}

// NoCall propagates structure only: user functions are not invoked and
// data values are not produced. Used by shrink and pipe pre-computation.
func NoCall() DispatchOption {
	return func(c *dispatchConfig) { c.noCall = true }
}

// WithShrink pre-shrinks the dispatcher to the input/output-relevant
// subgraph before dispatching.
func WithShrink() DispatchOption {
	return func(c *dispatchConfig) { c.shrink = true }
}

// RemoveUnused prunes function and sub-dispatcher nodes whose outputs were
// never consumed from the resulting workflow.
func RemoveUnused() DispatchOption {
	return func(c *dispatchConfig) { c.rmUnused = true }
}

// AllowNegative disables the negative edge length check. Negative lengths
// void the shortest-workflow guarantee; enable at your own risk.
func AllowNegative() DispatchOption {
	return func(c *dispatchConfig) { c.allowNegative = true }
}

// WithDispatchStopper overrides the dispatcher's cancellation signal for
// this call only.
func WithDispatchStopper(st *Stopper) DispatchOption {
	return func(c *dispatchConfig) { c.stopper = st }
}

// Dispatch evaluates the minimum workflow and the data outputs of the
// model from the given inputs. The returned Solution holds the committed
// values in commit order, the distances, the traversed workflow and the
// visit pipe; it is also retained on the dispatcher for introspection.
//
// Dispatch returns a *DispatcherAbort when the stopper or ctx fires, and a
// *DispatcherError when a requested output is unreachable, a user function
// fails with raises enabled, or a negative edge length is met. Both carry
// the partial solution.
func (d *Dispatcher) Dispatch(ctx context.Context, inputs Inputs, opts ...DispatchOption) (*Solution, error) {
	var cfg dispatchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	dsp := d
	if !cfg.noCall {
		if cfg.shrink {
			dsp = d.ShrinkDsp(sortedKeys(inputs), cfg.outputs, opts...)
		} else if len(cfg.outputs) > 0 {
			dsp = d.ShrinkDsp(nil, cfg.outputs)
		}
	}

	if inputs == nil {
		inputs = Inputs{}
	}
	sol := newSolution(dsp, inputs, cfg)
	d.last = sol

	started := time.Now()
	d.emitDispatch("dispatch_start", sol, nil)

	err := sol.run(ctx)
	if err == nil && cfg.rmUnused {
		sol.removeUnused()
	}

	status := "success"
	switch err.(type) {
	case *DispatcherAbort:
		status = "abort"
	case *DispatcherError:
		status = "error"
	}
	if err == nil {
		if missing := sol.unreachedTargets(); len(missing) > 0 && !cfg.noCall {
			status = "error"
			err = &DispatcherError{
				Sol: sol,
				Msg: fmt.Sprintf("unreachable output-targets: %s", strings.Join(missing, ", ")),
			}
		}
	}

	if d.metrics != nil {
		d.metrics.dispatches.WithLabelValues(status).Inc()
		d.metrics.duration.Observe(time.Since(started).Seconds())
	}
	d.emitDispatch("dispatch_"+statusEvent(status), sol, map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
		"visited":     len(sol.order),
	})
	return sol, err
}

func statusEvent(status string) string {
	if status == "success" {
		return "complete"
	}
	return status
}

func (d *Dispatcher) emitDispatch(msg string, sol *Solution, meta map[string]any) {
	if d.emitter == nil {
		return
	}
	sol.emit(msg, "", meta)
}
