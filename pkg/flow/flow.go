// Package flow implements archflow's Flow Engine: it
// drives a workflow graph to a terminal FlowResult, generalizing the
// pkg/workflow/executor.go step-execution model (condition
// evaluation, per-step timeout/retry defaults, parallel semaphore)
// from single-shot CLI workflow runs into an always-on engine with
// suspend/resume and pause/stop RunControl.
package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/flow/expression"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/archflow/archflow/pkg/retry"
)

// StepStatus is a StepResult's terminal (or suspended) classification.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
	StepSuspended StepStatus = "suspended"
)

// FlowStatus is a FlowResult's terminal classification.
type FlowStatus string

const (
	FlowCompleted FlowStatus = "completed"
	FlowFailed FlowStatus = "failed"
	FlowSuspended FlowStatus = "suspended"
	FlowStopped FlowStatus = "stopped"
)

// StepError pairs a step id with the error it raised.
type StepError struct {
	StepID string
	Err error
}

// StepMetrics records one step's execution cost.
type StepMetrics struct {
	Duration time.Duration
	TokensUsed int64
	RetryCount int
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID string
	Status StepStatus
	Output any
	Errors []StepError
	Metrics StepMetrics
	ResumeToken string // set when Status == StepSuspended
}

// ExecutionError is one failure recorded against a FlowResult.
type ExecutionError struct {
	StepID string
	Err error
}

// FlowResult is a run's terminal (or suspended) outcome.
type FlowResult struct {
	Status FlowStatus
	Output any
	Metrics flowctx.ExecutionMetrics
	Errors []ExecutionError
	ResumeToken string
}

// StepExecutor runs one step's work and returns its StepResult. The
// engine wraps every call with the step's timeout and retry
// configuration; StepExecutor implementations do their own tool
// dispatch (typically via pkg/invoker) and must return StepSuspended
// with a ResumeToken when the step needs external input instead of
// blocking.
type StepExecutor func(ctx context.Context, step Step, flowCtx *flowctx.Context) (StepResult, error)

// RunControl is the mutable control surface for one in-flight run
// ("the engine maintains per-run a RunControl with flags
// paused, stopped, completedSteps, failedSteps").
type RunControl struct {
	mu sync.Mutex
	paused bool
	stopped bool
	completedSteps map[string]bool
	failedSteps map[string]bool
	cancel context.CancelFunc
}

func newRunControl(cancel context.CancelFunc) *RunControl {
	return &RunControl{
		completedSteps: make(map[string]bool),
		failedSteps: make(map[string]bool),
		cancel: cancel,
	}
}

// Pause flips the paused flag; the next scheduling tick will block
// before dispatching new steps. In-flight steps complete.
func (rc *RunControl) Pause() {
	rc.mu.Lock()
	rc.paused = true
	rc.mu.Unlock()
}

// Resume clears the paused flag.
func (rc *RunControl) Resume() {
	rc.mu.Lock()
	rc.paused = false
	rc.mu.Unlock()
}

// Stop cancels in-flight steps (best-effort) and marks the run
// stopped.
func (rc *RunControl) Stop() {
	rc.mu.Lock()
	rc.stopped = true
	rc.mu.Unlock()
	if rc.cancel != nil {
		rc.cancel()
	}
}

func (rc *RunControl) isPaused() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.paused
}

func (rc *RunControl) isStopped() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stopped
}

func (rc *RunControl) markCompleted(id string) {
	rc.mu.Lock()
	rc.completedSteps[id] = true
	rc.mu.Unlock()
}

func (rc *RunControl) markFailed(id string) {
	rc.mu.Lock()
	rc.failedSteps[id] = true
	rc.mu.Unlock()
}

// CompletedSteps returns the ids of every step that has completed so
// far in this run, for status reporting (GET
// /api/runs/{runId}/status returns completedSteps[]/failedSteps[]).
func (rc *RunControl) CompletedSteps() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.completedSteps))
	for id := range rc.completedSteps {
		out = append(out, id)
	}
	return out
}

// FailedSteps returns the ids of every step that has failed so far in
// this run.
func (rc *RunControl) FailedSteps() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.failedSteps))
	for id := range rc.failedSteps {
		out = append(out, id)
	}
	return out
}

// suspension is a resume waiter registered when a step suspends.
type suspension struct {
	flowID string
	stepID string
	flowCtx *flowctx.Context
}

// Config tunes an Engine. Parallelism sizes the one shared semaphore
// used for parallel step dispatch; NewEngine sets it to 4 when it is
// zero or negative, whatever the host's CPU count.
type Config struct {
	Parallelism int
	DefaultTimeoutSec int
	Logger Logger
}

// Logger is the minimal structured-logging surface the engine needs,
// satisfied by internal/archlog's logger without importing it
// directly (mirrors the narrow-interface decoupling used by
// pkg/interceptor.MeterRecorder).
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Engine drives workflow graphs to completion, grounded
// on the Executor (pkg/workflow/executor.go): a shared
// parallelSem-style semaphore channel for parallel step dispatch, and
// per-step timeout/retry wiring reused from pkg/retry.
type Engine struct {
	sem chan struct{}
	eval *expression.Evaluator
	logger Logger
	defaultTimeout time.Duration

	mu sync.Mutex
	controls map[string]*RunControl
	suspensions map[string]*suspension // resumeToken -> suspension
}

// NewEngine constructs an Engine. A zero-valued Config applies
// reasonable defaults (parallelism 4, no step timeout).
func NewEngine(cfg Config) *Engine {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		sem: make(chan struct{}, cfg.Parallelism),
		eval: expression.New(),
		logger: logger,
		defaultTimeout: time.Duration(cfg.DefaultTimeoutSec) * time.Second,
		controls: make(map[string]*RunControl),
		suspensions: make(map[string]*suspension),
	}
}

// Run drives def to a terminal FlowResult, dispatching step execution
// through exec. flowID identifies the run for Pause/Stop/Resume.
func (e *Engine) Run(ctx context.Context, flowID string, def Definition, flowCtx *flowctx.Context, exec StepExecutor) (FlowResult, error) {
	if err := validateGraph(def); err != nil {
		return FlowResult{Status: FlowFailed, Errors: []ExecutionError{{Err: err}}}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rc := newRunControl(cancel)
	e.mu.Lock()
	e.controls[flowID] = rc
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.controls, flowID)
		e.mu.Unlock()
	}()

	flowCtx.SetStatus("running")
	result := e.schedule(runCtx, flowID, def, flowCtx, exec, rc, []string{def.Entry})
	return result, resultErr(result)
}

// Control returns the RunControl for an in-flight flowID, if any.
func (e *Engine) Control(flowID string) (*RunControl, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rc, ok := e.controls[flowID]
	return rc, ok
}

// Pause is a convenience wrapper over Control(flowID).Pause.
func (e *Engine) Pause(flowID string) error {
	rc, ok := e.Control(flowID)
	if !ok {
		return fmt.Errorf("flow: run %q is not active", flowID)
	}
	rc.Pause()
	return nil
}

// Stop is a convenience wrapper over Control(flowID).Stop().
func (e *Engine) Stop(flowID string) error {
	rc, ok := e.Control(flowID)
	if !ok {
		return fmt.Errorf("flow: run %q is not active", flowID)
	}
	rc.Stop()
	return nil
}

// Resume delivers userInput to the suspended step identified by
// resumeToken and resumes scheduling from its successors.
func (e *Engine) Resume(ctx context.Context, resumeToken string, userInput any, def Definition, exec StepExecutor) (FlowResult, error) {
	e.mu.Lock()
	s, ok := e.suspensions[resumeToken]
	if ok {
		delete(e.suspensions, resumeToken)
	}
	e.mu.Unlock()
	if !ok {
		return FlowResult{}, fmt.Errorf("flow: unknown resume token %q", resumeToken)
	}

	s.flowCtx.SetStepOutput(s.stepID, userInput)
	runCtx, cancel := context.WithCancel(ctx)
	rc := newRunControl(cancel)
	e.mu.Lock()
	e.controls[s.flowID] = rc
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.controls, s.flowID)
		e.mu.Unlock()
	}()

	next := e.successorsOf(def, s.stepID, false, s.flowCtx)
	result := e.schedule(runCtx, s.flowID, def, s.flowCtx, exec, rc, next)
	return result, resultErr(result)
}

func resultErr(r FlowResult) error {
	if r.Status != FlowFailed {
		return nil
	}
	if len(r.Errors) == 0 {
		return fmt.Errorf("flow: run failed")
	}
	return r.Errors[len(r.Errors)-1].Err
}

// schedule drives the work list to completion (or suspension/stop),
// the documented handleResult traversal rule.
func (e *Engine) schedule(ctx context.Context, flowID string, def Definition, flowCtx *flowctx.Context, exec StepExecutor, rc *RunControl, work []string) FlowResult {
	var errs []ExecutionError
	var lastOutput any

	for len(work) > 0 {
		if rc.isStopped() {
			return FlowResult{Status: FlowStopped, Metrics: flowCtx.Metrics.Snapshot(), Errors: errs}
		}
		for rc.isPaused() && !rc.isStopped() {
			time.Sleep(10 * time.Millisecond)
		}

		// Dedupe only within this batch: a step converged on by more
		// than one just-completed predecessor in the same round must
		// not run twice. Across rounds a step may legitimately run
		// again — that's how a guarded back-edge loop revisits a step
		// (detectCycles only forbids unconditional re-entry).
		batch := dedupeBatch(work)
		work = nil
		if len(batch) == 0 {
			continue
		}

		results := e.dispatchBatch(ctx, flowID, def, flowCtx, exec, rc, batch)

		for _, sr := range results {
			switch sr.result.Status {
			case StepSuspended:
				token := e.registerSuspension(flowID, sr.stepID, flowCtx)
				return FlowResult{Status: FlowSuspended, Metrics: flowCtx.Metrics.Snapshot(), Errors: errs, ResumeToken: token}
			case StepCompleted, StepSkipped:
				rc.markCompleted(sr.stepID)
				flowCtx.SetStepOutput(sr.stepID, sr.result.Output)
				flowCtx.Metrics.IncrStep()
				flowCtx.Metrics.AddTokens(sr.result.Metrics.TokensUsed)
				lastOutput = sr.result.Output
				work = append(work, e.successorsOf(def, sr.stepID, false, flowCtx)...)
			case StepFailed:
				rc.markFailed(sr.stepID)
				var stepErr error
				if len(sr.result.Errors) > 0 {
					stepErr = sr.result.Errors[len(sr.result.Errors)-1].Err
				}
				flowCtx.SetStepError(sr.stepID, stepErr)
				errs = append(errs, ExecutionError{StepID: sr.stepID, Err: stepErr})
				nextOnError := e.successorsOf(def, sr.stepID, true, flowCtx)
				if len(nextOnError) == 0 {
					return FlowResult{Status: FlowFailed, Metrics: flowCtx.Metrics.Snapshot(), Errors: errs}
				}
				work = append(work, nextOnError...)
			}
		}
	}

	status := FlowCompleted
	if len(errs) > 0 {
		status = FlowFailed
	}
	flowCtx.SetStatus(string(status))
	return FlowResult{Status: status, Output: lastOutput, Metrics: flowCtx.Metrics.Snapshot(), Errors: errs}
}

func dedupeBatch(ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type dispatchResult struct {
	stepID string
	result StepResult
}

// dispatchBatch runs the given step ids. A single pending step runs
// directly; when more than one is pending they always run concurrently
// through the shared semaphore. No setting makes a multi-step batch
// run sequentially.
func (e *Engine) dispatchBatch(ctx context.Context, flowID string, def Definition, flowCtx *flowctx.Context, exec StepExecutor, rc *RunControl, ids []string) []dispatchResult {
	if len(ids) == 1 {
		return []dispatchResult{{ids[0], e.runStep(ctx, flowID, def, flowCtx, exec, rc, ids[0])}}
	}

	out := make([]dispatchResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				out[i] = dispatchResult{id, StepResult{StepID: id, Status: StepFailed, Errors: []StepError{{StepID: id, Err: ctx.Err()}}}}
				return
			}
			out[i] = dispatchResult{id, e.runStep(ctx, flowID, def, flowCtx, exec, rc, id)}
		}(i, id)
	}
	wg.Wait()
	return out
}

// runStep executes one step under its timeout/retry configuration
// ("each step's configuration may carry a RetryConfig;
// on step failure the engine re-executes the step via §4.G with that
// configuration before declaring it failed").
func (e *Engine) runStep(ctx context.Context, flowID string, def Definition, flowCtx *flowctx.Context, exec StepExecutor, rc *RunControl, stepID string) StepResult {
	step, ok := def.Steps[stepID]
	if !ok {
		return StepResult{StepID: stepID, Status: StepFailed, Errors: []StepError{{StepID: stepID, Err: &archerr.BrokenGraphError{StepID: stepID, Target: stepID}}}}
	}

	policy := retryPolicyFor(step)
	start := time.Now()

	thunk := func(tctx context.Context) (any, error) {
		return e.executeOnce(tctx, flowID, step, flowCtx, exec)
	}

	timeout := time.Duration(step.Timeout) * time.Second
	if step.Timeout == 0 {
		timeout = e.defaultTimeout
	}
	runCall := func(tctx context.Context) (any, error) {
		return retry.StepTimeout(tctx, stepID, timeout, thunk)
	}

	if policy.MaxAttempts <= 1 {
		v, err := runCall(ctx)
		return e.finish(stepID, v, err, start, 0)
	}

	res, err := retry.Run(ctx, policy, runCall, retry.Listener{})
	if err != nil {
		return StepResult{
			StepID: stepID,
			Status: StepFailed,
			Errors: []StepError{{StepID: stepID, Err: err}},
			Metrics: StepMetrics{Duration: time.Since(start), RetryCount: len(res.Attempts)},
		}
	}
	return e.finish(stepID, res.Value, nil, start, len(res.Attempts)-1)
}

func (e *Engine) executeOnce(ctx context.Context, flowID string, step Step, flowCtx *flowctx.Context, exec StepExecutor) (any, error) {
	sr, err := exec(ctx, step, flowCtx)
	if err != nil {
		return nil, err
	}
	if sr.Status == StepFailed {
		var stepErr error
		if len(sr.Errors) > 0 {
			stepErr = sr.Errors[len(sr.Errors)-1].Err
		} else {
			stepErr = fmt.Errorf("flow: step %q failed", step.ID)
		}
		return nil, stepErr
	}
	return sr, nil
}

func (e *Engine) finish(stepID string, v any, err error, start time.Time, retryCount int) StepResult {
	if err != nil {
		return StepResult{
			StepID: stepID,
			Status: StepFailed,
			Errors: []StepError{{StepID: stepID, Err: err}},
			Metrics: StepMetrics{Duration: time.Since(start), RetryCount: retryCount},
		}
	}
	sr, ok := v.(StepResult)
	if !ok {
		return StepResult{StepID: stepID, Status: StepCompleted, Output: v, Metrics: StepMetrics{Duration: time.Since(start), RetryCount: retryCount}}
	}
	sr.Metrics.Duration = time.Since(start)
	sr.Metrics.RetryCount = retryCount
	return sr
}

func retryPolicyFor(step Step) retry.Policy {
	if step.Retry == nil {
		return retry.DefaultPolicy()
	}
	return retry.Policy{
		MaxAttempts: step.Retry.MaxAttempts,
		InitialDelay: time.Duration(step.Retry.InitialDelayMS) * time.Millisecond,
		BackoffMultiplier: step.Retry.BackoffMultiplier,
		FailOnValidationError: true,
	}
}

// guardEnv exposes flowCtx's flat path-keyed store to the expression
// evaluator as a single "ctx" map variable, since archflow's
// ExecutionContext keys are already dotted strings ("step.id.output")
// rather than the nested inputs/steps maps. A guard
// expression indexes it directly, e.g. ctx["step.fetch.output"] == "ok".
func guardEnv(flowCtx *flowctx.Context) map[string]any {
	return map[string]any{
		"ctx": flowCtx.Snapshot(),
		"flow": flowCtx.State,
	}
}

// successorsOf computes the next steps from stepID: connections whose
// is-error-path matches errorPath and whose guard is absent or
// evaluates true. A malformed guard is logged at warn and treated as
// false, never aborting the run.
func (e *Engine) successorsOf(def Definition, stepID string, errorPath bool, flowCtx *flowctx.Context) []string {
	var next []string
	for _, c := range def.outgoing(stepID) {
		if c.IsErrorPath != errorPath {
			continue
		}
		if c.Guard == "" {
			next = append(next, c.Target)
			continue
		}
		ok, err := e.eval.Evaluate(c.Guard, guardEnv(flowCtx))
		if err != nil {
			e.logger.Warn("malformed guard expression, treating as false", "step", stepID, "target", c.Target, "error", err)
			continue
		}
		if ok {
			next = append(next, c.Target)
		}
	}
	return next
}

// registerSuspension records a resume waiter so a later Resume call
// can find it by token.
func (e *Engine) registerSuspension(flowID, stepID string, flowCtx *flowctx.Context) string {
	token := fmt.Sprintf("resume_%s_%s_%d", flowID, stepID, time.Now().UTC().UnixNano())
	e.mu.Lock()
	e.suspensions[token] = &suspension{flowID: flowID, stepID: stepID, flowCtx: flowCtx}
	e.mu.Unlock()
	return token
}
