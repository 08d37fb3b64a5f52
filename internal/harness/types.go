package harness

import "github.com/roach88/varkeep/internal/persist"

// TraceEvent records one executed step and what the engine answered.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	Identity string `json:"identity,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`

	// Result is the returned value; nil for operations that return none.
	Result *string `json:"result,omitempty"`

	// Error is the engine error code, empty on success.
	Error string `json:"error,omitempty"`

	// Flush summarises flush and depart steps.
	Flush *FlushSummary `json:"flush,omitempty"`
}

// FlushSummary is the deterministic part of a persist.FlushReport.
type FlushSummary struct {
	Records int `json:"records"`
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

func summarize(r persist.FlushReport) *FlushSummary {
	return &FlushSummary{Records: r.Records, Written: r.Written, Failed: r.Failed}
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
