package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventInvocation {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, event.Action, event.Args)
			}
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final service state.
type AssertionContext struct {
	Ctx     context.Context
	Service *lsservice.Service
	Backend lsservice.Backend
	// Stream is the default stream for state assertions.
	Stream Stream
}

func (a *AssertionContext) stream(assertion Assertion) Stream {
	if assertion.Stream != nil {
		return *assertion.Stream
	}
	return a.Stream
}

func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == assertion.Action &&
			matchSubset(event.Args, assertion.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks the first invocation of each action appears in
// the given order. Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		for _, expected := range assertion.Actions {
			if event.Action == expected && positions[expected] == 0 {
				positions[expected] = i + 1
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == assertion.Action {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState matches the live record of a stream against the
// expected fields, descending into id_meta and saved_info.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	stream := actx.stream(assertion)
	m, err := actx.Service.Get(stream.Key())
	if err != nil {
		if errors.Is(err, lsmeta.ErrNotFound) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("live record for ls %s", stream.Key()),
				Actual:   "record not found",
			}
		}
		return err
	}

	actual := lsmeta.RecordMap(m.Snapshot())
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

func assertSlogCount(actx *AssertionContext, assertion Assertion) error {
	stream := actx.stream(assertion)
	entries, err := actx.Backend.History(actx.Ctx, stream.Key())
	if err != nil {
		return fmt.Errorf("read history of ls %s: %w", stream.Key(), err)
	}
	if len(entries) != assertion.Count {
		return &AssertionError{
			Type:     AssertSlogCount,
			Expected: fmt.Sprintf("%d slog entries for ls %s", assertion.Count, stream.Key()),
			Actual:   fmt.Sprintf("%d entries", len(entries)),
		}
	}
	return nil
}

// matchSubset reports whether every key of expected is present in actual
// with an equal value. Extra keys in actual are ignored.
func matchSubset(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a record or argument value with a YAML value. Maps
// are compared as subsets and integers by value whatever their Go type.
func valuesEqual(actual, expected any) bool {
	if em, ok := expected.(map[string]any); ok {
		am, ok := actual.(map[string]any)
		return ok && matchSubset(am, em)
	}
	if a, ok := asInt(actual); ok {
		e, ok := asInt(expected)
		return ok && a == e
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// EvaluateAssertions evaluates every assertion and returns the messages of
// those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertSlogCount:
			if actx == nil || actx.Service == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a service context", i, assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(actx, assertion)
			} else {
				err = assertSlogCount(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
