// Package store persists dispatch results and dispatcher layouts.
//
// The engine itself keeps no state between runs; this package is the
// opaque persistence bolted on the side: a Record captures what one
// dispatch produced (values, distances, commit order, traversed edges)
// and a layout blob captures the shape of a model. Backends: in-memory
// (testing, single process), SQLite (zero-setup single file) and MySQL
// (shared server).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gfon/schedula/dispatch"
)

// ErrNotFound is returned when a run id or layout name does not exist.
var ErrNotFound = errors.New("not found")

// Record is the persisted result of one dispatch. Values must be
// JSON-serializable for the SQL backends.
type Record struct {
	// RunID identifies the dispatch.
	RunID string `json:"run_id"`

	// Dispatcher names the model the dispatch ran on.
	Dispatcher string `json:"dispatcher"`

	// Values are the committed data values.
	Values map[string]any `json:"values"`

	// Dist are the node distances.
	Dist map[string]float64 `json:"dist"`

	// Order is the data commit order.
	Order []string `json:"order"`

	// Edges are the traversed workflow edges.
	Edges [][2]string `json:"edges"`

	// CreatedAt is when the record was saved.
	CreatedAt time.Time `json:"created_at"`
}

// RecordSolution captures a solution into a Record under the given model
// name.
func RecordSolution(name string, sol *dispatch.Solution) Record {
	return Record{
		RunID:      sol.RunID,
		Dispatcher: name,
		Values:     sol.Values(),
		Dist:       sol.Dist,
		Order:      sol.Order(),
		Edges:      sol.Workflow.Edges(),
	}
}

// Store persists dispatch records and dispatcher layouts.
type Store interface {
	// SaveSolution persists a dispatch record. Saving the same run id
	// twice overwrites.
	SaveSolution(ctx context.Context, rec Record) error

	// LoadSolution retrieves a record by run id. ErrNotFound when absent.
	LoadSolution(ctx context.Context, runID string) (Record, error)

	// ListSolutions returns the most recent records of a model, newest
	// first, up to limit (unlimited when limit <= 0).
	ListSolutions(ctx context.Context, dispatcher string, limit int) ([]Record, error)

	// SaveLayout persists a serialized dispatcher layout under a name.
	SaveLayout(ctx context.Context, name string, layout []byte) error

	// LoadLayout retrieves a layout blob. ErrNotFound when absent.
	LoadLayout(ctx context.Context, name string) ([]byte, error)

	// Close releases the backend resources.
	Close() error
}
