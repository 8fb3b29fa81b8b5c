package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"
)

// Float is a float64 that survives JSON: non-finite values are written as
// the strings "+Inf", "-Inf" and "NaN" and read back from them.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"NaN"`:
		*f = Float(math.NaN())
		return nil
	case `"+Inf"`, `"Inf"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("metrics: invalid float %s", b)
	}
	*f = Float(v)
	return nil
}

// Trace entry kinds.
const (
	KindOperation = "operation"
	KindTest      = "test"
)

// TraceEntry is one observation: a block operation span or a self-test result.
type TraceEntry struct {
	Kind       string    `json:"kind"`
	Block      string    `json:"block"`
	Operation  string    `json:"operation,omitempty"`
	Test       string    `json:"test,omitempty"`
	Status     string    `json:"status"`
	Statistic  *Float    `json:"statistic,omitempty"`
	DurationMS float64   `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTracer writes observations as JSON lines and keeps them for inspection.
// It also satisfies Recorder so it can be combined with Prometheus through Multi.
// The first write failure is kept and reported by Err; later entries are still
// retained in memory.
type JSONTracer struct {
	mu      sync.Mutex
	entries []TraceEntry
	enc     *json.Encoder
	err     error
}

// NewJSONTracer returns a tracer writing to w. A nil writer only retains entries.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// ObserveOperation records a span ending now.
func (t *JSONTracer) ObserveOperation(blockName, operation string, err error, elapsed time.Duration) {
	entry := TraceEntry{
		Kind:       KindOperation,
		Block:      blockName,
		Operation:  operation,
		Status:     Status(err),
		DurationMS: float64(elapsed) / float64(time.Millisecond),
		StartedAt:  time.Now().UTC().Add(-elapsed),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	t.record(entry)
}

// ObserveTest records a self-test result.
func (t *JSONTracer) ObserveTest(blockName, test, status string, statistic float64) {
	stat := Float(statistic)
	t.record(TraceEntry{
		Kind:      KindTest,
		Block:     blockName,
		Test:      test,
		Status:    status,
		Statistic: &stat,
		StartedAt: time.Now().UTC(),
	})
}

func (t *JSONTracer) record(entry TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.enc == nil || t.err != nil {
		return
	}
	if err := t.enc.Encode(entry); err != nil {
		t.err = fmt.Errorf("trace %s %s: %w", entry.Kind, entry.Block, err)
	}
}

// Err returns the first error writing the trace, if any.
func (t *JSONTracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Entries returns a copy of the recorded spans.
func (t *JSONTracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Multi fans out to several recorders.
type Multi []Recorder

func (m Multi) ObserveOperation(blockName, operation string, err error, elapsed time.Duration) {
	for _, r := range m {
		r.ObserveOperation(blockName, operation, err, elapsed)
	}
}

func (m Multi) ObserveTest(blockName, test, status string, statistic float64) {
	for _, r := range m {
		r.ObserveTest(blockName, test, status, statistic)
	}
}
