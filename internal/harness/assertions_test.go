package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventInvocation, Action: "create", Args: map[string]any{"create_scn": 100}, Seq: 1},
		{Type: EventCompletion, OutputCase: CaseOK, Seq: 2},
		{Type: EventInvocation, Action: "set_gc_state", Args: map[string]any{"state": "WAIT_GC"}, Seq: 3},
		{Type: EventCompletion, OutputCase: CaseOK, Seq: 4},
		{Type: EventInvocation, Action: "set_gc_state", Args: map[string]any{"state": "IN_GC"}, Seq: 5},
		{Type: EventCompletion, OutputCase: CaseOK, Seq: 6},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "set_gc_state", Args: map[string]any{"state": "IN_GC"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "create"}))

	err := assertTraceContains(trace, Assertion{Action: "set_gc_state", Args: map[string]any{"state": "NORMAL"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "Full trace")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"create", "set_gc_state"}}))
	assert.ErrorContains(t, assertTraceOrder(trace, Assertion{Actions: []string{"set_gc_state", "create"}}), "should be before")
	assert.ErrorContains(t, assertTraceOrder(trace, Assertion{Actions: []string{"create", "remove"}}), "missing action: remove")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "set_gc_state", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "remove", Count: 0}))
	assert.ErrorContains(t, assertTraceCount(trace, Assertion{Action: "create", Count: 2}), "1 occurrences")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(uint64(5), 5))
	assert.True(t, valuesEqual(int64(-1), -1))
	assert.False(t, valuesEqual(int64(5), "5"))
	assert.True(t, valuesEqual("NONE", "NONE"))
	assert.True(t, valuesEqual(
		map[string]any{"DAS": map[string]any{"limited_id": int64(3), "latest_log_ts": int64(1)}},
		map[string]any{"DAS": map[string]any{"limited_id": 3}},
	))
	assert.False(t, valuesEqual(map[string]any{"a": 1}, map[string]any{"b": 1}))
}

func TestEvaluateAssertions_StateNeedsContext(t *testing.T) {
	msgs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Expect: map[string]any{"ls_id": 1}},
		{Type: AssertSlogCount},
	}, nil)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "requires a service context")
}

func TestFinalState_MissingStream(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_stream",
		Description: "Assertions on absent streams fail",
		Stream:      Stream{Tenant: 1, LS: 1},
		Flow:        []Step{{Invoke: "create", Args: map[string]any{"create_scn": 1}}},
		Assertions: []Assertion{
			{Type: AssertFinalState, Stream: &Stream{Tenant: 1, LS: 2}, Expect: map[string]any{"ls_id": 2}},
			{Type: AssertFinalState, Expect: map[string]any{"no_such_field": 1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "record not found")
	assert.Contains(t, result.Errors[1], `field "no_such_field" to exist`)
}
