package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "0123456789", Step: 3, NodeID: "c", Msg: "node_visit",
		Meta: map[string]any{"dist": 2.0}})

	out := buf.String()
	for _, want := range []string{"[node_visit]", "run=01234567", "step=3", "node=c", `"dist":2`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q misses %q", out, want)
		}
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "run-1", Step: 1, NodeID: "a", Msg: "node_visit"})

	var got struct {
		RunID  string `json:"run_id"`
		Step   int    `json:"step"`
		NodeID string `json:"node_id"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not one JSON line: %v (%q)", err, buf.String())
	}
	if got.RunID != "run-1" || got.Step != 1 || got.NodeID != "a" || got.Msg != "node_visit" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestLogEmitter_Batch(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	events := []Event{
		{RunID: "r", Step: 1, Msg: "a"},
		{RunID: "r", Step: 2, Msg: "b"},
	}
	if err := l.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("batch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}
	if err := l.Flush(context.Background()); err != nil {
		t.Errorf("flush: %v", err)
	}
}
