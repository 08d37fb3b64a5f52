package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/varkeep/internal/engine"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/persist"
	"github.com/roach88/varkeep/internal/store"
	"github.com/roach88/varkeep/internal/testutil"
)

// epoch is the frozen wall clock every scenario starts from.
var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and flush IDs.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	defs     []ir.Definition
	clock    *testutil.DeterministicClock
	now      *testutil.FakeTime
	flushIDs *testutil.SequenceIDs
	logger   *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes engine logs. Scenarios are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Compile the inline variables and start an engine
// 3. Execute steps, checking each expectation
// 4. Shut the engine down, flushing everything
// 5. Evaluate assertions against the trace and the store
//
// The returned error reports infrastructure failures only; unmet
// expectations are recorded in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	defs, err := scenario.Definitions()
	if err != nil {
		return nil, fmt.Errorf("failed to compile variables: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		defs:     defs,
		clock:    testutil.NewDeterministicClock(),
		now:      testutil.NewFakeTime(epoch),
		flushIDs: testutil.NewSequenceIDs("flush"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx := context.Background()
	if err := h.startEngine(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.executeStep(ctx, step)
		if err != nil {
			h.engine.Shutdown(ctx)
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.AddTrace(ev)
		checkExpectation(result, i, step, ev)
	}

	if err := h.engine.Shutdown(ctx); err != nil {
		result.AddError(fmt.Sprintf("final shutdown: %v", err))
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// startEngine builds an engine over the harness store and loads the
// persisted globals. Periodic flushing is effectively disabled so that
// only flush, depart, restart and the final shutdown write.
func (h *Harness) startEngine(ctx context.Context) error {
	eng, err := engine.New(h.defs, h.store,
		engine.WithLogger(h.logger),
		engine.WithNow(h.now.Now),
		engine.WithFlushIDs(h.flushIDs),
		engine.WithPersistConfig(persist.Config{
			Interval:     24 * time.Hour,
			Workers:      1,
			RetryCount:   1,
			RetryInitial: time.Millisecond,
			RetryMax:     time.Millisecond,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	h.engine = eng
	return nil
}

// executeStep runs one step. Engine errors land in the event; only a
// failed restart is returned.
func (h *Harness) executeStep(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{
		Seq:      h.clock.Next(),
		Op:       step.Op,
		Identity: step.Identity,
		Key:      step.Key,
		Value:    step.Value,
	}
	h.now.Advance(time.Second)

	var (
		value  string
		err    error
		report persist.FlushReport
	)
	returnsValue := true
	switch step.Op {
	case OpGet:
		value, err = h.engine.Get(ctx, step.Identity, step.Key)
	case OpSet:
		value, err = h.engine.Set(ctx, step.Identity, step.Key, step.Value)
	case OpAdd:
		value, err = h.engine.Add(ctx, step.Identity, step.Key, step.Value)
	case OpRemove:
		value, err = h.engine.Remove(ctx, step.Identity, step.Key, step.Value)
	case OpReset:
		value, err = h.engine.Reset(ctx, step.Identity, step.Key)
	case OpFlush:
		returnsValue = false
		report, err = h.engine.SaveAll(ctx, true).Wait(ctx)
		ev.Flush = summarize(report)
	case OpDepart:
		returnsValue = false
		report, err = h.engine.OnIdentityDeparture(ctx, step.Identity).Wait(ctx)
		if err == nil {
			ev.Flush = summarize(report)
		}
	case OpArrive:
		returnsValue = false
		err = h.engine.OnIdentityArrival(ctx, step.Identity)
	case OpRestart:
		returnsValue = false
		if err = h.engine.Shutdown(ctx); err == nil {
			if serr := h.startEngine(ctx); serr != nil {
				return ev, serr
			}
		}
	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if err != nil {
		ev.Error = string(engine.CodeOf(err))
		if ev.Error == "" {
			return ev, err
		}
		h.logger.Debug("step failed", "seq", ev.Seq, "op", step.Op, "error", err)
		return ev, nil
	}
	if returnsValue {
		ev.Result = &value
	}
	return ev, nil
}

// checkExpectation compares a step's outcome with its expect clauses.
func checkExpectation(result *Result, index int, step Step, ev TraceEvent) {
	label := fmt.Sprintf("step %d (%s %s)", index, step.Op, step.Key)

	switch {
	case step.ExpectError != "":
		if ev.Error != step.ExpectError {
			result.AddError(fmt.Sprintf("%s: expected error %s, got %q", label, step.ExpectError, ev.Error))
		}
		return
	case ev.Error != "":
		result.AddError(fmt.Sprintf("%s: unexpected error %s", label, ev.Error))
		return
	}

	if step.Expect == nil {
		return
	}
	got := ""
	if ev.Result != nil {
		got = *ev.Result
	}
	if got != *step.Expect {
		result.AddError(fmt.Sprintf("%s: expected %q, got %q", label, *step.Expect, got))
	}
}
