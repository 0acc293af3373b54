package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, either as human-readable text
//
//	[node_visit] run=5d41b2c8 step=3 node=c meta={"dist":2,"kind":"data"}
//
// or as JSONL, one event per line, when jsonMode is set. Writes are
// serialized, so a LogEmitter is safe to share.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to w (os.Stdout when nil).
// jsonMode switches from text to JSONL output.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

// Emit writes one event.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(event)
}

// EmitBatch writes the events in order under a single lock.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		l.write(e)
	}
	return nil
}

// Flush is a no-op: writes go straight to the writer. Wrap the writer in a
// bufio.Writer and flush that if buffering is wanted.
func (l *LogEmitter) Flush(context.Context) error { return nil }

func (l *LogEmitter) write(event Event) {
	if l.jsonMode {
		data, err := json.Marshal(struct {
			RunID  string         `json:"run_id"`
			Step   int            `json:"step"`
			NodeID string         `json:"node_id"`
			Msg    string         `json:"msg"`
			Meta   map[string]any `json:"meta,omitempty"`
		}{event.RunID, event.Step, event.NodeID, event.Msg, event.Meta})
		if err != nil {
			_, _ = fmt.Fprintf(l.writer, "{\"error\":%q}\n", err.Error())
			return
		}
		_, _ = fmt.Fprintf(l.writer, "%s\n", data)
		return
	}

	_, _ = fmt.Fprintf(l.writer, "[%s] run=%s step=%d", event.Msg, short(event.RunID), event.Step)
	if event.NodeID != "" {
		_, _ = fmt.Fprintf(l.writer, " node=%s", event.NodeID)
	}
	if len(event.Meta) > 0 {
		if meta, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", meta)
		}
	}
	_, _ = fmt.Fprintln(l.writer)
}

func short(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
