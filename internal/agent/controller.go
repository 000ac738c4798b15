package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sqlagent/sqlagent/internal/llm"
	"github.com/sqlagent/sqlagent/internal/observability"
	"github.com/sqlagent/sqlagent/internal/query"
)

type Status string

const (
	StatusAnswered  Status = "answered"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

var (
	ErrBudgetExhausted = errors.New("agent stopped due to iteration limit or time limit")
	ErrCancelled       = errors.New("invocation cancelled")
	ErrEmptyQuestion   = errors.New("question is required")
)

// Result is the outcome of one invocation. Exhausted and failed results keep
// the partial transcript.
type Result struct {
	InvocationID string
	Question     string
	Status       Status
	Text         string
	Reason       string
	Err          error
	Transcript   Transcript
	Iterations   int
	ModelCalls   int
	StartedAt    time.Time
	Elapsed      time.Duration
}

type Config struct {
	Budget Budget
	// ObservationRowLimit caps the rows shown to the model per observation.
	ObservationRowLimit int
}

type Agent struct {
	model   llm.Client
	gateway query.Gateway
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer
}

type Option func(*Agent)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock replaces the clock used for wall-time accounting.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func New(model llm.Client, gateway query.Gateway, cfg Config, opts ...Option) (*Agent, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("database gateway is required")
	}
	if cfg.Budget.IsZero() {
		cfg.Budget = DefaultBudget()
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}
	a := &Agent{
		model:   model,
		gateway: gateway,
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		tracer:  otel.Tracer("github.com/sqlagent/sqlagent/internal/agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Budget() Budget {
	return a.cfg.Budget
}

type invocation struct {
	id         string
	question   string
	meter      *meter
	transcript Transcript
	modelCalls int
}

// Run answers one question. It never returns an error: every failure ends up
// in the Result. budget can only lower the agent's configured limits; unset
// fields keep the configured value.
func (a *Agent) Run(ctx context.Context, question string, budget Budget) Result {
	budget = a.cfg.Budget.Tighten(budget)
	inv := &invocation{
		id:       uuid.NewString(),
		question: question,
		meter:    newMeter(budget, a.now),
	}

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("invocation.id", inv.id),
		attribute.Int("budget.max_iterations", budget.MaxIterations),
		attribute.String("budget.max_wall_time", budget.MaxWallTime.String()),
	))
	defer span.End()

	result := a.run(ctx, inv)

	span.SetAttributes(
		attribute.String("invocation.status", string(result.Status)),
		attribute.Int("invocation.iterations", result.Iterations),
	)
	if result.Status == StatusFailed {
		span.SetStatus(codes.Error, result.Reason)
	}
	observability.ObserveInvocation(string(result.Status), result.Iterations)

	attrs := []any{
		slog.String("invocation_id", result.InvocationID),
		slog.String("status", string(result.Status)),
		slog.Int("iterations", result.Iterations),
		slog.Int("model_calls", result.ModelCalls),
		slog.String("elapsed", result.Elapsed.String()),
	}
	if result.Reason != "" {
		attrs = append(attrs, slog.String("reason", result.Reason))
	}
	if result.Status == StatusFailed {
		a.logger.WarnContext(ctx, "invocation finished", attrs...)
	} else {
		a.logger.InfoContext(ctx, "invocation finished", attrs...)
	}
	return result
}

func (a *Agent) run(ctx context.Context, inv *invocation) Result {
	if strings.TrimSpace(inv.question) == "" {
		return a.fail(inv, ErrEmptyQuestion)
	}
	if ctx.Err() != nil {
		return a.fail(inv, ErrCancelled)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, inv.meter.remaining())
	schema, err := a.gateway.DescribeSchema(schemaCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return a.fail(inv, ErrCancelled)
		}
		return a.fail(inv, fmt.Errorf("describe schema: %w", err))
	}
	seed := BuildSeedPrompt(inv.question, schema, a.cfg.ObservationRowLimit)

	for {
		if ctx.Err() != nil {
			return a.fail(inv, ErrCancelled)
		}
		if inv.meter.wallExceeded() || inv.meter.iterationsExceeded() {
			return a.exhaust(inv)
		}

		completion, err := a.complete(ctx, inv, buildPrompt(seed, inv.transcript))
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return a.fail(inv, ErrCancelled)
			case errors.Is(err, errWallTime):
				return a.exhaust(inv)
			default:
				return a.fail(inv, err)
			}
		}

		parsed := ParseCompletion(completion)
		a.logger.DebugContext(ctx, "model completion parsed",
			slog.String("invocation_id", inv.id),
			slog.Int("iteration", inv.meter.iterations),
			slog.String("action", parsed.Action.actionVariant()),
		)
		if _, final := parsed.Action.(FinalAnswer); !final && parsed.Thought != "" {
			inv.transcript.appendThought(parsed.Thought)
		}

		switch action := parsed.Action.(type) {
		case FinalAnswer:
			inv.transcript.appendAnswer(parsed.Thought, action)
			return a.answer(inv, action.Text)
		case RunQuery:
			inv.transcript.appendAction(action)
			inv.transcript.appendObservation(a.execute(ctx, inv, action.SQL))
			inv.meter.charge()
			if ctx.Err() != nil {
				return a.fail(inv, ErrCancelled)
			}
		case Malformed:
			observability.IncrementMalformedAction()
			a.logger.DebugContext(ctx, "malformed completion",
				slog.String("invocation_id", inv.id),
				slog.String("reason", action.Reason),
			)
			inv.transcript.appendAction(action)
			inv.transcript.appendObservation(ParseError{Message: FormatHint})
			inv.meter.charge()
		}
	}
}

var errWallTime = errors.New("wall time budget reached during model call")

func (a *Agent) complete(ctx context.Context, inv *invocation, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, inv.meter.remaining())
	defer cancel()
	callCtx, span := a.tracer.Start(callCtx, "agent.model_call", trace.WithAttributes(
		attribute.String("invocation.id", inv.id),
		attribute.Int("prompt.bytes", len(prompt)),
	))
	defer span.End()

	inv.modelCalls++
	start := time.Now()
	completion, err := a.model.Complete(callCtx, prompt)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil && (callCtx.Err() != nil || errors.Is(err, llm.ErrWaitPastDeadline)) {
			observability.ObserveModelCall("wall_time", time.Since(start))
			return "", fmt.Errorf("%w: %w", errWallTime, err)
		}
		observability.ObserveModelCall("unavailable", time.Since(start))
		if !errors.Is(err, llm.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %w", llm.ErrModelUnavailable, err)
		}
		return "", err
	}
	observability.ObserveModelCall("ok", time.Since(start))
	return completion, nil
}

func (a *Agent) execute(ctx context.Context, inv *invocation, sqlText string) Observation {
	callCtx, cancel := context.WithTimeout(ctx, inv.meter.remaining())
	defer cancel()
	callCtx, span := a.tracer.Start(callCtx, "agent.query", trace.WithAttributes(
		attribute.String("invocation.id", inv.id),
		attribute.String("db.statement", sqlText),
	))
	defer span.End()

	start := time.Now()
	rows, err := a.gateway.Execute(callCtx, sqlText)
	if err == nil {
		observability.ObserveQuery("ok", time.Since(start))
		span.SetAttributes(attribute.Int("db.rows", len(rows.Values)))
		return newRowsObservation(rows, a.cfg.ObservationRowLimit)
	}

	span.RecordError(err)
	a.logger.DebugContext(ctx, "query failed",
		slog.String("invocation_id", inv.id),
		slog.String("error", err.Error()),
	)
	var execErr *query.ExecutionError
	switch {
	case errors.As(err, &execErr):
		outcome := "error"
		if execErr.Timeout {
			outcome = "timeout"
		}
		observability.ObserveQuery(outcome, time.Since(start))
		return ExecutionError{Message: execErr.Message, Timeout: execErr.Timeout}
	case ctx.Err() != nil:
		observability.ObserveQuery("cancelled", time.Since(start))
		return ExecutionError{Message: "query cancelled"}
	case callCtx.Err() != nil:
		observability.ObserveQuery("timeout", time.Since(start))
		return ExecutionError{Message: "query timed out", Timeout: true}
	default:
		observability.ObserveQuery("error", time.Since(start))
		return ExecutionError{Message: err.Error()}
	}
}

func (a *Agent) answer(inv *invocation, text string) Result {
	result := inv.result(StatusAnswered)
	result.Text = text
	return result
}

func (a *Agent) exhaust(inv *invocation) Result {
	result := inv.result(StatusExhausted)
	result.Text = ErrBudgetExhausted.Error()
	result.Reason = ErrBudgetExhausted.Error()
	result.Err = ErrBudgetExhausted
	return result
}

func (a *Agent) fail(inv *invocation, err error) Result {
	result := inv.result(StatusFailed)
	result.Reason = err.Error()
	result.Err = err
	return result
}

func (inv *invocation) result(status Status) Result {
	return Result{
		InvocationID: inv.id,
		Question:     inv.question,
		Status:       status,
		Transcript:   inv.transcript,
		Iterations:   inv.meter.iterations,
		ModelCalls:   inv.modelCalls,
		StartedAt:    inv.meter.startedAt,
		Elapsed:      inv.meter.elapsed(),
	}
}
