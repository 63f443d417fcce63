package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// Backends a scenario can run against.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Scenario is one executable record lifecycle.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Backend selects the durable log; empty means memory.
	Backend string `yaml:"backend,omitempty"`

	// Stream is the default target of every step.
	Stream Stream `yaml:"stream"`

	// IDServices are registered with every record built by the run.
	IDServices []IDServiceSpec `yaml:"id_services,omitempty"`

	// Setup steps run before the flow and must all succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps run in order; each may carry an expect clause.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Stream identifies one log stream.
type Stream struct {
	Tenant uint64 `yaml:"tenant"`
	LS     int64  `yaml:"ls"`
}

// Key converts s to a share.StreamKey.
func (s Stream) Key() share.StreamKey {
	return share.StreamKey{TenantID: share.TenantID(s.Tenant), LSID: share.LSID(s.LS)}
}

// IDServiceSpec registers an idmeta.Preallocator.
type IDServiceSpec struct {
	Service string `yaml:"service"`
	Batch   int64  `yaml:"batch"`
}

// Step invokes one operation.
type Step struct {
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Expect, if set, is checked against the completion.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected completion.
type ExpectClause struct {
	// Case is "ok" or an error kind such as "invalid_state".
	Case string `yaml:"case"`

	// Result is a subset match over the operation's result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args is a subset match used by trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Count is used by trace_count and slog_count.
	Count int `yaml:"count,omitempty"`

	// Stream overrides the scenario stream for final_state and slog_count.
	Stream *Stream `yaml:"stream,omitempty"`

	// Expect is a subset match over the record for final_state.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSlogCount     = "slog_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface early.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Backend {
	case "", BackendMemory, BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if !s.Stream.Key().TenantID.IsValid() || !s.Stream.Key().LSID.IsValid() {
		return fmt.Errorf("stream: tenant and ls are required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, spec := range s.IDServices {
		if _, err := idmeta.ParseServiceType(spec.Service); err != nil {
			return fmt.Errorf("id_services[%d]: %w", i, err)
		}
		if spec.Batch <= 0 {
			return fmt.Errorf("id_services[%d]: batch must be positive", i)
		}
	}
	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Invoke == "" {
		return fmt.Errorf("invoke is required")
	}
	if _, ok := operations[step.Invoke]; !ok {
		return fmt.Errorf("unknown operation %q", step.Invoke)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertSlogCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for slog_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
