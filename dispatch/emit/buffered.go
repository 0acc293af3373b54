package emit

import (
	"context"
	"sync"
)

// BufferedEmitter collects events in memory and forwards them to a wrapped
// emitter on Flush. With a nil target it is a capture buffer, which is how
// the tests observe what a dispatch emitted.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
	target Emitter
}

// NewBufferedEmitter creates a BufferedEmitter forwarding to target on
// Flush. A nil target keeps events until Drain.
func NewBufferedEmitter(target Emitter) *BufferedEmitter {
	return &BufferedEmitter{target: target}
}

// Emit appends the event to the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// EmitBatch appends the events to the buffer.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

// Flush forwards the buffered events to the target and clears the buffer.
// Without a target the buffer is left in place.
func (b *BufferedEmitter) Flush(ctx context.Context) error {
	b.mu.Lock()
	events := b.events
	if b.target != nil {
		b.events = nil
	}
	b.mu.Unlock()

	if b.target == nil || len(events) == 0 {
		return nil
	}
	if err := b.target.EmitBatch(ctx, events); err != nil {
		return err
	}
	return b.target.Flush(ctx)
}

// Drain returns the buffered events and clears the buffer.
func (b *BufferedEmitter) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

// Len returns the number of buffered events.
func (b *BufferedEmitter) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
