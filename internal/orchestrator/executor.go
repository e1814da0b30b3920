package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// DefaultMaxSteps bounds worker invocations per run.
const DefaultMaxSteps = 20

// ExecutorOptions configures an Executor. Zero values select defaults.
type ExecutorOptions struct {
	Gates    []InputGate
	Audit    AuditSink
	Router   *Router
	Profiles map[Node]Profile

	MaxSteps      int
	RunTimeout    time.Duration
	WorkerTimeout time.Duration

	Logger  *logging.Logger
	Tracer  trace.Tracer
	Metrics *Metrics
}

// Executor runs threads through the pipeline. It is safe for concurrent
// use; runs for the same thread id are serialized.
type Executor struct {
	store   transcript.Store
	workers map[Node]Worker
	opts    ExecutorOptions
	locks   transcript.KeyedMutex
	now     func() time.Time
}

// NewExecutor creates an executor over store with one worker per node.
func NewExecutor(store transcript.Store, workers map[Node]Worker, opts ExecutorOptions) *Executor {
	if opts.Router == nil {
		opts.Router = NewRouter(RouterOptions{})
	}
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("fleetd/orchestrator")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Executor{
		store:   store,
		workers: workers,
		opts:    opts,
		now:     time.Now,
	}
}

// SubmitTurn runs the pipeline for one human message.
func (e *Executor) SubmitTurn(ctx context.Context, threadID, text string) (*RunResult, error) {
	return e.Run(ctx, RunInput{
		ThreadID: threadID,
		Turns:    []transcript.Turn{transcript.HumanTurn(text)},
	})
}

// SubmitSyntheticAlert runs the pipeline autonomously from pre-built seed
// turns, typically a human alert, an agent tool call and its tool result.
func (e *Executor) SubmitSyntheticAlert(ctx context.Context, threadID string, seed []transcript.Turn) (*RunResult, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: synthetic alert needs seed turns", transcript.ErrInvalidTurn)
	}
	return e.Run(ctx, RunInput{ThreadID: threadID, Turns: seed, Proactive: true})
}

// Run appends the new turns, gates them, then routes and invokes workers
// until the router returns NodeTerminal or the step bound is exceeded.
func (e *Executor) Run(ctx context.Context, in RunInput) (res *RunResult, err error) {
	if err := transcript.ValidateThreadID(in.ThreadID); err != nil {
		return nil, err
	}
	for i, t := range in.Turns {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}

	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}
	ctx = logging.WithThreadID(ctx, in.ThreadID)
	ctx, span := e.opts.Tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("thread.id", in.ThreadID),
		attribute.Bool("proactive", in.Proactive),
	))
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = ErrorKind(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Blocked:
			outcome = "blocked"
		}
		if res != nil {
			span.SetAttributes(attribute.Int("steps", res.Steps))
			e.opts.Metrics.RunSteps.Observe(float64(res.Steps))
		}
		e.opts.Metrics.RunsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	if err := e.locks.Lock(ctx, in.ThreadID); err != nil {
		return nil, err
	}
	defer e.locks.Unlock(in.ThreadID)

	th, err := transcript.LoadOrCreate(ctx, e.store, in.ThreadID)
	if err != nil {
		return nil, err
	}
	flags := th.Flags
	flags.Proactive = in.Proactive

	res = &RunResult{ThreadID: in.ThreadID}
	if len(in.Turns) > 0 {
		if th, err = e.store.Append(ctx, in.ThreadID, in.Turns...); err != nil {
			return nil, err
		}
		if human, ok := transcript.LastOfRole(in.Turns, transcript.RoleHuman); ok {
			blocked, err := e.gate(ctx, in.ThreadID, human)
			if err != nil {
				e.saveFlags(ctx, in.ThreadID, flags)
				return nil, err
			}
			if blocked {
				if th, err = e.store.Append(ctx, in.ThreadID, transcript.AgentTurn(RefusalMessage)); err != nil {
					return nil, err
				}
				flags.SecurityRisk = true
				res.Blocked = true
			}
		}
	}

	for {
		dec := e.opts.Router.Route(th.Turns, flags)
		e.opts.Metrics.RoutesTotal.WithLabelValues(string(dec.Node), dec.Rule).Inc()
		e.opts.Logger.Debug(ctx, "routed",
			zap.String("node", string(dec.Node)),
			zap.String("rule", dec.Rule),
			zap.Int("step", res.Steps))
		if dec.Node == NodeTerminal {
			break
		}
		if res.Steps >= e.opts.MaxSteps {
			e.saveFlags(ctx, in.ThreadID, flags)
			return res, fmt.Errorf("%w: %d steps, last route %s (%s)", ErrRoutingExhausted, res.Steps, dec.Node, dec.Rule)
		}

		turns, err := e.invoke(ctx, th, dec.Node)
		if err != nil {
			e.saveFlags(ctx, in.ThreadID, flags)
			return res, err
		}
		if th, err = e.store.Append(ctx, in.ThreadID, turns...); err != nil {
			return res, err
		}
		res.Steps++
		res.Visited = append(res.Visited, dec.Node)
	}

	if err := e.store.SaveFlags(ctx, in.ThreadID, flags); err != nil {
		return res, err
	}
	if last, ok := transcript.LastOfRole(th.Turns, transcript.RoleAgent); ok {
		res.Response = last.Content
	}
	e.opts.Logger.Info(ctx, "run complete",
		zap.Int("steps", res.Steps),
		zap.Bool("blocked", res.Blocked),
		zap.Bool("proactive", in.Proactive))
	return res, nil
}

// gate runs every input gate against turn and audits each decision. It
// stops at the first block.
func (e *Executor) gate(ctx context.Context, threadID string, turn transcript.Turn) (bool, error) {
	for _, g := range e.opts.Gates {
		dec, err := g.Check(ctx, threadID, turn)
		if err != nil {
			return false, fmt.Errorf("gate %s check failed: %w", g.Name(), err)
		}
		if dec.Gate == "" {
			dec.Gate = g.Name()
		}
		e.opts.Metrics.GateTotal.WithLabelValues(dec.Gate, dec.Decision()).Inc()
		e.audit(ctx, AuditRecord{
			ID:        uuid.NewString(),
			Timestamp: e.now().UTC(),
			ThreadID:  threadID,
			Gate:      dec.Gate,
			Decision:  dec.Decision(),
			Reason:    dec.Reason,
		})
		if dec.Blocked {
			e.opts.Logger.Warn(ctx, "input blocked",
				zap.String("gate", dec.Gate),
				zap.String("reason", dec.Reason))
			return true, nil
		}
	}
	return false, nil
}

func (e *Executor) audit(ctx context.Context, rec AuditRecord) {
	if e.opts.Audit == nil {
		return
	}
	if err := e.opts.Audit.Record(ctx, rec); err != nil {
		e.opts.Metrics.AuditFailures.Inc()
		e.opts.Logger.Error(ctx, "audit record failed",
			zap.String("audit.id", rec.ID),
			zap.Error(err))
	}
}

// invoke runs the worker bound to node under the worker timeout and
// validates its output.
func (e *Executor) invoke(ctx context.Context, th *transcript.Thread, node Node) ([]transcript.Turn, error) {
	w, ok := e.workers[node]
	if !ok || w == nil {
		return nil, &WorkerError{Node: node, Err: ErrNoWorker}
	}
	profile, ok := e.opts.Profiles[node]
	if !ok {
		profile = Profile{Node: node}
	}

	if e.opts.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.WorkerTimeout)
		defer cancel()
	}
	ctx = logging.WithNode(ctx, string(node))
	ctx, span := e.opts.Tracer.Start(ctx, "orchestrator.worker", trace.WithAttributes(
		attribute.String("node", string(node)),
	))
	defer span.End()

	start := time.Now()
	turns, err := w.Run(ctx, WorkerRequest{
		ThreadID:   th.ID,
		Node:       node,
		Transcript: th.Clone().Turns,
		Profile:    profile,
	})
	e.opts.Metrics.WorkerSeconds.WithLabelValues(string(node)).Observe(time.Since(start).Seconds())
	if err == nil {
		err = ValidateWorkerOutput(turns)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.opts.Logger.Error(ctx, "worker failed", zap.Error(err))
		return nil, &WorkerError{Node: node, Err: err}
	}
	span.SetAttributes(attribute.Int("turns", len(turns)))
	return turns, nil
}

// saveFlags persists flags on an error path. The run's context may
// already be done, so the write is detached from its cancellation.
func (e *Executor) saveFlags(ctx context.Context, threadID string, flags transcript.Flags) {
	if err := e.store.SaveFlags(context.WithoutCancel(ctx), threadID, flags); err != nil && !errors.Is(err, transcript.ErrNotFound) {
		e.opts.Logger.Error(ctx, "saving flags failed", zap.Error(err))
	}
}
