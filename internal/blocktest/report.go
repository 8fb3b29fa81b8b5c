package blocktest

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"opchain/internal/metrics"
)

// Kind names a self-test.
type Kind string

const (
	KindAdjoint        Kind = "adjoint"
	KindInverse        Kind = "inverse"
	KindInverseAdjoint Kind = "inverse-adjoint"
)

// Status is the outcome of one self-test.
type Status string

const (
	StatusPassed         Status = "passed"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusNotImplemented Status = "not-implemented"
	StatusError          Status = "error"
)

// Result is the outcome of one test of one operator.
type Result struct {
	Block     string  `json:"block"`
	Test      Kind    `json:"test"`
	Status    Status  `json:"status"`
	Statistic float64 `json:"statistic"`
	Tolerance float64 `json:"tolerance"`
	Trials    int     `json:"trials"`
	Detail    string  `json:"detail,omitempty"`
}

// MarshalJSON writes a non-finite statistic, the signature of a broken
// adjoint, as "+Inf", "-Inf" or "NaN".
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Statistic metrics.Float `json:"statistic"`
	}{plain(r), metrics.Float(r.Statistic)})
}

func (r *Result) UnmarshalJSON(b []byte) error {
	type plain Result
	aux := struct {
		*plain
		Statistic metrics.Float `json:"statistic"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Statistic = float64(aux.Statistic)
	return nil
}

// Report collects the results of a harness run.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
}

// Failed reports whether any enabled test failed or errored.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusError {
			return true
		}
	}
	return false
}

// Counts tallies results by status.
func (r Report) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}

// Find returns the first result for the given operator and test.
func (r Report) Find(blockName string, test Kind) (Result, bool) {
	for _, res := range r.Results {
		if res.Block == blockName && res.Test == test {
			return res, true
		}
	}
	return Result{}, false
}

// WriteText renders a human-readable table.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "BLOCK\tTEST\tSTATUS\tSTATISTIC\tTOLERANCE\tDETAIL\n")
	for _, res := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3e\t%.1e\t%s\n", res.Block, res.Test, res.Status, res.Statistic, res.Tolerance, res.Detail)
	}
	c := r.Counts()
	fmt.Fprintf(tw, "\nrun %s: %d passed, %d failed, %d skipped, %d not implemented, %d errors\n", r.RunID,
		c[StatusPassed], c[StatusFailed], c[StatusSkipped], c[StatusNotImplemented], c[StatusError])
	return tw.Flush()
}

// WriteJSON renders the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
