// Package orchestrator runs a job's steps in registry order, gating each on
// its declared inputs and stopping at the first error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/gate"
	"github.com/kingrea/contenta/internal/job"
	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/logbook"
	"github.com/kingrea/contenta/internal/metrics"
	"github.com/kingrea/contenta/internal/step"
	"github.com/kingrea/contenta/internal/steps"
)

// State is the run loop phase.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Run modes as recorded in the ledger.
const (
	ModeSingle = "single"
	ModeAll    = "all"
)

// Refresher renews credentials out of band before a step that needs them.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Registry *step.Registry
	Config   *config.Config
	Jobs     *job.Store
	Log      *logbook.Logbook
	// JobsDir is the parent of every per-job workspace.
	JobsDir string
	// LogDir receives the metrics textfile. Empty disables metrics output.
	LogDir string
	// RequiredConfig is validated before any step runs.
	RequiredConfig []string
	Ledger         *ledger.Ledger
	Refresher      Refresher
	Tracer         trace.Tracer
	Clock          func() time.Time
}

// Orchestrator executes run requests one at a time.
type Orchestrator struct {
	opts Options

	mu    sync.Mutex
	state State
}

// New validates opts and returns an idle orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Registry.Len() == 0 {
		return nil, fmt.Errorf("orchestrator: step registry is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("orchestrator: job store is required")
	}
	if strings.TrimSpace(opts.JobsDir) == "" {
		return nil, fmt.Errorf("orchestrator: jobs dir is required")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("contenta/orchestrator")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Orchestrator{opts: opts, state: StateIdle}, nil
}

// Request selects what to run.
type Request struct {
	JobID string
	// StartStep defaults to the first registered step.
	StartStep string
	// All runs from StartStep to the end; otherwise only StartStep runs.
	All bool
	// Fresh forces a workspace reset even when not starting at the first step.
	Fresh bool
}

// Mode renders the request mode.
func (r Request) Mode() string {
	if r.All {
		return ModeAll
	}
	return ModeSingle
}

// StepRecord is one entry in the run report.
type StepRecord struct {
	Step      step.Descriptor
	Result    step.Result
	StartedAt time.Time
}

// Report summarizes a run.
type Report struct {
	RunID     string
	JobID     string
	StartStep string
	Mode      string
	Workspace string
	Steps     []StepRecord
	Elapsed   time.Duration
	State     State
	SiteURL   string
	Fresh     bool
}

// Count returns how many recorded steps ended with status.
func (r Report) Count(status step.Status) int {
	n := 0
	for _, rec := range r.Steps {
		if rec.Result.Status == status {
			n++
		}
	}
	return n
}

// Ran reports whether step id executed or was skipped in this run.
func (r Report) Ran(id string) (step.Result, bool) {
	for _, rec := range r.Steps {
		if rec.Step.ID == id {
			return rec.Result, true
		}
	}
	return step.Result{}, false
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.opts.Log.Debug("orchestrator state: %s", s)
}

type run struct {
	req     Request
	report  *Report
	job     *job.Job
	ws      *artifact.Workspace
	sc      *step.Context
	metrics *metrics.Recorder
	started time.Time
}

// Run executes req. Startup failures return *StartupError before any step
// runs; an error result aborts the remaining run-list and returns *StepError.
// Skipped steps never abort.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	o.setState(StateResolving)
	started := o.opts.Clock()
	if req.StartStep == "" {
		req.StartStep = o.opts.Registry.First()
	}
	report := Report{JobID: req.JobID, StartStep: req.StartStep, Mode: req.Mode()}

	r, runList, err := o.prepare(req, &report)
	if err != nil {
		o.setState(StateAborted)
		report.State = StateAborted
		o.opts.Log.Error("deployment failed: %v", err)
		return report, err
	}
	r.started = started

	ctx, span := o.opts.Tracer.Start(ctx, "contenta.run", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("run.id", report.RunID),
		attribute.String("run.start_step", req.StartStep),
		attribute.String("run.mode", report.Mode),
		attribute.Int("run.steps", len(runList)),
	))
	defer span.End()

	o.beginLedger(ctx, r)
	o.setState(StateRunning)
	o.opts.Log.Info("deployment started: job %s (%s), start step %s, mode %s, %d step(s)",
		r.job.ID, r.job.Domain(), req.StartStep, report.Mode, len(runList))

	for _, desc := range runList {
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, span, r, &StepError{ID: desc.ID, Label: desc.Label, Err: err})
		}
		res, err := o.runStep(ctx, r, desc)
		if err != nil {
			return o.abort(ctx, span, r, &StepError{ID: desc.ID, Label: desc.Label, Err: err})
		}
		if res.Status == step.StatusError {
			return o.abort(ctx, span, r, &StepError{ID: desc.ID, Label: desc.Label, Err: res.Err})
		}
	}
	return o.complete(ctx, span, r)
}

// prepare performs every startup check and sets up the workspace and job log.
func (o *Orchestrator) prepare(req Request, report *Report) (*run, []step.Descriptor, error) {
	if err := ValidateJobID(req.JobID); err != nil {
		return nil, nil, err
	}
	if err := ValidateStartStep(o.opts.Registry, req.StartStep); err != nil {
		return nil, nil, err
	}
	runList, err := Resolve(o.opts.Registry, req.StartStep, !req.All)
	if err != nil {
		return nil, nil, &StartupError{Stage: "resolve", Err: err}
	}
	if err := o.opts.Config.Validate(o.opts.RequiredConfig); err != nil {
		return nil, nil, &StartupError{Stage: "config", Err: err}
	}
	j, err := o.opts.Jobs.Load(req.JobID)
	if err != nil {
		return nil, nil, &StartupError{Stage: "job", Err: err}
	}
	if err := job.Validate(j); err != nil {
		return nil, nil, &StartupError{Stage: "job", Err: err}
	}
	if j.Defaulted {
		o.opts.Log.Warn("no job file at %s; using the default stub", o.opts.Jobs.Path(req.JobID))
	}
	if j.ID != req.JobID {
		o.opts.Log.Warn("job file %s declares job_id %s", o.opts.Jobs.Path(req.JobID), j.ID)
	}

	ws, err := artifact.NewWorkspace(o.opts.JobsDir, req.JobID)
	if err != nil {
		return nil, nil, &StartupError{Stage: "workspace", Err: err}
	}
	fresh := req.Fresh || req.StartStep == o.opts.Registry.First()
	if fresh {
		err = ws.Reset()
	} else {
		err = ws.Ensure()
	}
	if err != nil {
		return nil, nil, &StartupError{Stage: "workspace", Err: err}
	}
	if err := o.opts.Log.AttachJob(ws.JobLogPath(), fresh); err != nil {
		return nil, nil, &StartupError{Stage: "workspace", Err: err}
	}
	if fresh {
		o.opts.Log.Info("workspace reset: %s", ws.Root())
	} else {
		o.opts.Log.Info("resuming in existing workspace: %s", ws.Root())
	}

	report.RunID = uuid.NewString()
	report.Workspace = ws.Root()
	report.Fresh = fresh
	return &run{
		req:     req,
		report:  report,
		job:     j,
		ws:      ws,
		metrics: metrics.New(j.ID),
		sc: &step.Context{
			Job:       j,
			Config:    o.opts.Config,
			Log:       o.opts.Log,
			Workspace: ws,
		},
	}, runList, nil
}

// runStep gates, refreshes, resolves and invokes one step. A returned error is
// fatal; an error result is returned as a result.
func (o *Orchestrator) runStep(ctx context.Context, r *run, desc step.Descriptor) (step.Result, error) {
	ctx, span := o.opts.Tracer.Start(ctx, "contenta.step", trace.WithAttributes(
		attribute.String("step.id", desc.ID),
		attribute.String("step.label", desc.Label),
		attribute.String("step.kind", desc.Kind),
	))
	defer span.End()

	startedAt := o.opts.Clock()
	o.opts.Log.Info("step %s: started", desc.Name())

	res, err := o.invoke(ctx, r, desc)
	if err != nil {
		res = step.Failed(err)
	}
	res.Elapsed = o.opts.Clock().Sub(startedAt)
	o.record(ctx, r, desc, res, startedAt)

	span.SetAttributes(attribute.String("step.status", string(res.Status)))
	switch res.Status {
	case step.StatusSkipped:
		o.opts.Log.Warn("step %s: skipped after %s: %s", desc.Name(), round(res.Elapsed), res.Reason)
	case step.StatusError:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Reason)
		o.opts.Log.Error("step %s: failed after %s: %s", desc.Name(), round(res.Elapsed), res.Reason)
	default:
		o.opts.Log.Info("step %s: %s in %s", desc.Name(), res.Status, round(res.Elapsed))
	}
	return res, err
}

func (o *Orchestrator) invoke(ctx context.Context, r *run, desc step.Descriptor) (step.Result, error) {
	decision, err := gate.Check(r.ws, o.opts.Config, desc)
	if err != nil {
		return step.Result{}, err
	}
	if !decision.Pass {
		return decision.Result(), nil
	}
	if err := o.freshenConfig(ctx, desc); err != nil {
		return step.Result{}, err
	}
	exec, err := o.opts.Registry.Executable(desc.ID)
	if err != nil {
		return step.Result{}, err
	}
	res, err := exec.Run(ctx, r.sc.WithStep(desc))
	if err != nil {
		return step.Result{}, err
	}
	if res.Status == step.StatusError && res.Err == nil {
		res.Err = errors.New(res.Reason)
	}
	return res, nil
}

// freshenConfig runs the credential refresher for steps that ask for it and
// reloads the config; other steps reload only when the watcher saw a rewrite.
func (o *Orchestrator) freshenConfig(ctx context.Context, desc step.Descriptor) error {
	if !desc.RefreshCredentials {
		reloaded, err := o.opts.Config.ReloadIfStale()
		if err != nil {
			return err
		}
		if reloaded {
			o.opts.Log.Info("config changed on disk; reloaded before step %s", desc.ID)
		}
		return nil
	}
	if o.opts.Refresher != nil {
		if err := o.opts.Refresher.Refresh(ctx); err != nil {
			return err
		}
	}
	if err := o.opts.Config.Reload(); err != nil {
		return err
	}
	o.opts.Log.Info("credentials refreshed; config reloaded before step %s", desc.ID)
	return nil
}

func (o *Orchestrator) record(ctx context.Context, r *run, desc step.Descriptor, res step.Result, startedAt time.Time) {
	r.report.Steps = append(r.report.Steps, StepRecord{Step: desc, Result: res, StartedAt: startedAt})
	r.metrics.ObserveStep(desc.ID, res)
	if o.opts.Ledger == nil {
		return
	}
	err := o.opts.Ledger.RecordStep(context.WithoutCancel(ctx), r.report.RunID, ledger.StepOutcome{
		StepID:     desc.ID,
		Label:      desc.Label,
		Status:     res.Status,
		Reason:     res.Reason,
		Elapsed:    res.Elapsed,
		FinishedAt: o.opts.Clock(),
	})
	if err != nil {
		o.opts.Log.Warn("ledger: %v", err)
	}
}

func (o *Orchestrator) beginLedger(ctx context.Context, r *run) {
	if o.opts.Ledger == nil {
		return
	}
	err := o.opts.Ledger.BeginRun(ctx, ledger.Run{
		ID:        r.report.RunID,
		JobID:     r.job.ID,
		StartStep: r.req.StartStep,
		Mode:      r.report.Mode,
		StartedAt: r.started,
	})
	if err != nil {
		o.opts.Log.Warn("ledger: %v", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, status string, runErr error) {
	r.report.Elapsed = o.opts.Clock().Sub(r.started)
	r.metrics.ObserveRun(r.report.Elapsed, runErr != nil)
	if o.opts.LogDir != "" {
		if err := r.metrics.WriteTextfile(metrics.TextfilePath(o.opts.LogDir, r.job.ID)); err != nil {
			o.opts.Log.Warn("%v", err)
		}
	}
	if o.opts.Ledger == nil {
		return
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := o.opts.Ledger.FinishRun(context.WithoutCancel(ctx), r.report.RunID, status, errText, o.opts.Clock()); err != nil {
		o.opts.Log.Warn("ledger: %v", err)
	}
}

func (o *Orchestrator) complete(ctx context.Context, span trace.Span, r *run) (Report, error) {
	o.finish(ctx, r, ledger.RunCompleted, nil)
	r.report.SiteURL = steps.SiteURL(r.sc)
	r.report.State = StateCompleted
	o.setState(StateCompleted)
	span.SetStatus(codes.Ok, "")
	o.opts.Log.Info("deployment completed in %s: %d succeeded, %d skipped",
		round(r.report.Elapsed), r.report.Count(step.StatusSuccess), r.report.Count(step.StatusSkipped))
	o.opts.Log.Info("site ready: %s", r.report.SiteURL)
	return *r.report, nil
}

func (o *Orchestrator) abort(ctx context.Context, span trace.Span, r *run, err *StepError) (Report, error) {
	o.finish(ctx, r, ledger.RunAborted, err)
	r.report.State = StateAborted
	o.setState(StateAborted)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.opts.Log.Error("deployment failed after %s: %v", round(r.report.Elapsed), err)
	return *r.report, err
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
