package emit

import "context"

// NullEmitter discards every event. It is the zero-overhead choice when
// observability is not wanted.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that does nothing.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}

// EmitBatch discards the events.
func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(context.Context) error { return nil }
