package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// TraceEvent is one invocation or completion in the trace.
type TraceEvent struct {
	Type       string         `json:"type"`
	Action     string         `json:"action,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	OutputCase string         `json:"output_case,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Seq        int64          `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State maps each live stream ("tenant/ls") to its final record.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(action string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventInvocation,
		Action: action,
		Args:   args,
		Seq:    seq,
	})
}

// AddCompletionTrace adds a completion to the trace.
func (r *Result) AddCompletionTrace(outputCase string, result map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:       EventCompletion,
		OutputCase: outputCase,
		Result:     result,
		Seq:        seq,
	})
}
