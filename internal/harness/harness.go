package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/TOMATOFGY/oceanbase/internal/idmeta"
	"github.com/TOMATOFGY/oceanbase/internal/kvstore"
	"github.com/TOMATOFGY/oceanbase/internal/lsmeta"
	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
	"github.com/TOMATOFGY/oceanbase/internal/memlog"
	"github.com/TOMATOFGY/oceanbase/internal/store"
	"github.com/TOMATOFGY/oceanbase/internal/testutil"
)

// Completion cases that are not error kinds.
const (
	CaseOK = "ok"
	// CaseError covers failures that carry no lsmeta error kind.
	CaseError = "error"
)

// Harness executes the steps of one scenario.
type Harness struct {
	ctx      context.Context
	scenario *Scenario
	backend  lsservice.Backend
	svc      *lsservice.Service
	metaOpts []lsmeta.Option
	timeline *testutil.Timeline
	idClock  *testutil.SCNClock
	seq      *testutil.SCNClock

	// allocators are rebuilt on every restart, one per declared service
	// and shared by every stream of the run.
	allocators map[idmeta.ServiceType]*idmeta.Preallocator
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh in-memory backend. A setup step that fails, or an
// operation the harness cannot execute, is returned as an error; expect and
// assertion mismatches are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	backend, err := openBackend(scenario.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", scenario.Backend, err)
	}
	defer backend.Close()

	timeline := testutil.NewTimeline()
	h := &Harness{
		ctx:      context.Background(),
		scenario: scenario,
		backend:  backend,
		metaOpts: []lsmeta.Option{lsmeta.WithPositionClock(timeline)},
		timeline: timeline,
		idClock:  testutil.NewSCNClock(1000, 10),
		seq:      testutil.NewSCNClock(0, 1),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.restart(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		outcome, _, err := h.execute(step, result)
		if err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
		if outcome != CaseOK {
			return nil, fmt.Errorf("setup step %d: %s failed with %s", i, step.Invoke, outcome)
		}
	}

	for i, step := range scenario.Flow {
		outcome, res, err := h.execute(step, result)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		if step.Expect == nil {
			continue
		}
		if outcome != step.Expect.Case {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s",
				i, step.Invoke, step.Expect.Case, outcome))
			continue
		}
		if !matchSubset(res, step.Expect.Result) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v",
				i, step.Invoke, step.Expect.Result, res))
		}
	}

	actx := &AssertionContext{
		Ctx:     h.ctx,
		Service: h.svc,
		Backend: h.backend,
		Stream:  scenario.Stream,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	recs, err := h.svc.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		result.State[rec.Key().String()] = lsmeta.RecordMap(rec)
	}
	return result, nil
}

func openBackend(name string) (lsservice.Backend, error) {
	switch name {
	case "", BackendMemory:
		return memlog.New(), nil
	case BackendSQLite:
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendBadger:
		kv, err := kvstore.Open("")
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// restart replaces the service with a fresh one recovered from the backend,
// as a process restart would. ID allocators start empty and are fenced at
// the recovered watermarks.
func (h *Harness) restart() error {
	h.allocators = make(map[idmeta.ServiceType]*idmeta.Preallocator, len(h.scenario.IDServices))
	opts := slices.Clone(h.metaOpts)
	for _, spec := range h.scenario.IDServices {
		svc, err := idmeta.ParseServiceType(spec.Service)
		if err != nil {
			return err
		}
		p := idmeta.NewPreallocator(svc, 0, spec.Batch, h.idClock.Next)
		h.allocators[svc] = p
		opts = append(opts, lsmeta.WithIDServices(p))
	}

	svc := lsservice.New(h.backend, lsservice.Config{
		Logger:      h.logger,
		MetaOptions: opts,
	})
	if err := svc.Recover(h.ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	h.svc = svc
	return nil
}

// execute runs one step, records it in the trace and returns its outcome
// case and result. err is set only when the step could not be run at all.
func (h *Harness) execute(step Step, result *Result) (string, map[string]any, error) {
	op, ok := operations[step.Invoke]
	if !ok {
		return "", nil, fmt.Errorf("unknown operation %q", step.Invoke)
	}
	args := step.Args
	if args == nil {
		args = map[string]any{}
	}

	result.AddInvocationTrace(step.Invoke, step.Args, int64(h.seq.Next()))
	res, opErr := op(h, args)
	outcome := outcomeOf(opErr)
	var harnessErr *harnessError
	if errors.As(opErr, &harnessErr) {
		return "", nil, harnessErr
	}
	result.AddCompletionTrace(outcome, res, int64(h.seq.Next()))

	h.logger.Info("step completed", "action", step.Invoke, "output_case", outcome)
	return outcome, res, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return CaseOK
	case errors.Is(err, lsservice.ErrNotRecovered):
		return "not_recovered"
	}
	if kind := lsmeta.KindName(err); kind != "unknown" {
		return kind
	}
	return CaseError
}

// harnessError marks a step the harness itself cannot run, such as a
// missing argument. It aborts the scenario instead of becoming a case.
type harnessError struct {
	op  string
	err error
}

func (e *harnessError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *harnessError) Unwrap() error { return e.err }
