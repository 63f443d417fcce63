package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Create one stream",
		Stream:      Stream{Tenant: 1, LS: 1},
		Flow: []Step{
			{Invoke: "create", Args: map[string]any{"create_scn": 1}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: "create"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventInvocation, result.Trace[0].Type)
	assert.Equal(t, EventCompletion, result.Trace[1].Type)
	assert.Equal(t, CaseOK, result.Trace[1].OutputCase)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, int64(2), result.Trace[1].Seq)

	require.Contains(t, result.State, "1/1")
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Wrong expectations are reported",
		Stream:      Stream{Tenant: 1, LS: 1},
		Setup: []Step{
			{Invoke: "create", Args: map[string]any{"create_scn": 10}},
		},
		Flow: []Step{
			{
				Invoke: "update_replayable_scn",
				Args:   map[string]any{"scn": 5},
				Expect: &ExpectClause{Case: "invalid_state"},
			},
			{
				Invoke: "get",
				Expect: &ExpectClause{Case: CaseOK, Result: map[string]any{"replayable_scn": 6}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertSlogCount, Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected case invalid_state, got ok")
	assert.Contains(t, result.Errors[1], "expected result")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_setup",
		Description: "Setup steps must succeed",
		Stream:      Stream{Tenant: 1, LS: 1},
		Setup: []Step{
			{Invoke: "set_offline_scn", Args: map[string]any{"scn": 1}},
		},
		Flow:       []Step{{Invoke: "get"}},
		Assertions: []Assertion{{Type: AssertSlogCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set_offline_scn failed with not_found")
}

func TestRun_MissingArgumentAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_arg",
		Description: "A step without its required argument cannot run",
		Stream:      Stream{Tenant: 1, LS: 1},
		Flow:        []Step{{Invoke: "create"}},
		Assertions:  []Assertion{{Type: AssertSlogCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create_scn")
}

func TestRun_FailNextWriteNeedsMemory(t *testing.T) {
	scenario := &Scenario{
		Name:        "fail_sqlite",
		Description: "Write failures are only injectable in memory",
		Backend:     BackendSQLite,
		Stream:      Stream{Tenant: 1, LS: 1},
		Flow:        []Step{{Invoke: "fail_next_write"}},
		Assertions:  []Assertion{{Type: AssertSlogCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the memory backend")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/id_meta_advance.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
