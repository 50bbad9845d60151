// Package orchestrator routes a task request to the best available backend
// and walks the fallback chain when that backend fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/model-orchestrator/internal/auth"
	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/billing"
	"github.com/vnmchuo/model-orchestrator/internal/health"
	"github.com/vnmchuo/model-orchestrator/internal/ledger"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
	"github.com/vnmchuo/model-orchestrator/internal/provider/local"
	"github.com/vnmchuo/model-orchestrator/internal/selector"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

// Invoker sends a call to a backend. provider.Table satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, b *backend.Config, call *provider.Call) (*provider.Result, error)
}

// UsageLogger receives one usage row per Execute.
type UsageLogger interface {
	LogUsage(ctx context.Context, log *billing.UsageLog) error
}

// callerGoneError marks a failed call whose caller context ended first.
// It keeps the outcome out of the breaker counts and the ledger.
type callerGoneError struct {
	err error
}

func (e *callerGoneError) Error() string { return e.err.Error() }
func (e *callerGoneError) Unwrap() error { return e.err }

type Orchestrator struct {
	registry *backend.Registry
	ledger   *ledger.Ledger
	health   *health.Checker
	invoker  Invoker
	selector *selector.Selector
	breakers map[string]*gobreaker.CircuitBreaker

	localBackend *backend.Config
	localAdapter *local.LocalProvider

	usage   UsageLogger
	pending sync.WaitGroup
	tracer  trace.Tracer
	log     zerolog.Logger

	breakerThreshold uint32
	breakerTimeout   time.Duration
}

type Option func(*Orchestrator)

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithUsageLogger enables per-request usage rows. Writes are asynchronous
// and never affect the response.
func WithUsageLogger(u UsageLogger) Option {
	return func(o *Orchestrator) { o.usage = u }
}

// WithBreaker sets how many consecutive failures open a backend's circuit
// and how long it stays open.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) Option {
	return func(o *Orchestrator) {
		o.breakerThreshold = consecutiveFailures
		o.breakerTimeout = openFor
	}
}

func New(registry *backend.Registry, l *ledger.Ledger, hc *health.Checker, invoker Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:         registry,
		ledger:           l,
		health:           hc,
		invoker:          invoker,
		localBackend:     backend.LocalFallback(),
		localAdapter:     local.New(),
		tracer:           noop.NewTracerProvider().Tracer("orchestrator"),
		log:              zerolog.Nop(),
		breakerThreshold: 3,
		breakerTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.breakers = make(map[string]*gobreaker.CircuitBreaker, registry.Len())
	for _, b := range registry.List() {
		o.breakers[b.ID] = o.newBreaker(b.ID)
	}
	o.selector = selector.New(registry, selector.AvailabilityFunc(o.available), l)
	return o
}

func (o *Orchestrator) newBreaker(id string) *gobreaker.CircuitBreaker {
	threshold := o.breakerThreshold
	log := o.log
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     o.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a caller hanging up says nothing about the backend
		IsSuccessful: func(err error) bool {
			var gone *callerGoneError
			return err == nil || errors.As(err, &gone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// available is the selector's view of a backend: healthy per the checker
// and not behind an open circuit.
func (o *Orchestrator) available(ctx context.Context, b *backend.Config) bool {
	if cb, ok := o.breakers[b.ID]; ok && cb.State() == gobreaker.StateOpen {
		return false
	}
	return o.health.IsHealthy(ctx, b)
}

// Selector exposes the ranking used by Execute.
func (o *Orchestrator) Selector() *selector.Selector { return o.selector }

func (o *Orchestrator) Registry() *backend.Registry { return o.registry }

// Execute serves one request. The only error it returns is a wrapped
// task.ErrInvalidRequest; every backend failure is reported in the
// Response.
func (o *Orchestrator) Execute(ctx context.Context, req task.Request) (*task.Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("task_type", string(req.TaskType)),
		attribute.String("priority", string(req.Priority)),
		attribute.Bool("fallback_required", req.FallbackRequired),
	))
	defer span.End()

	resp := &task.Response{
		RequestID: req.RequestID,
		TaskType:  req.TaskType,
	}

	primary, ok := o.selector.Select(ctx, &req)
	switch {
	case !ok:
		o.log.Warn().Str("request_id", req.RequestID).Str("task_type", string(req.TaskType)).
			Msg("no backend available, using local fallback")
		o.runLocal(ctx, &req, resp)
	default:
		res, err := o.attempt(ctx, primary, &req, resp)
		switch {
		case err == nil:
			fill(resp, primary, res)
		case req.FallbackRequired:
			o.walkFallback(ctx, &req, resp, primary, err)
		default:
			resp.BackendUsed = primary.ID
			resp.ErrorMessage = err.Error()
		}
	}

	resp.Latency = time.Since(start)
	span.SetAttributes(
		attribute.String("backend_used", resp.BackendUsed),
		attribute.Bool("success", resp.Success),
		attribute.Bool("used_fallback", resp.UsedFallback),
		attribute.Int("attempts", len(resp.Attempts)),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, resp.ErrorMessage)
	}

	o.log.Info().
		Str("request_id", resp.RequestID).
		Str("task_type", string(resp.TaskType)).
		Str("backend", resp.BackendUsed).
		Bool("success", resp.Success).
		Bool("used_fallback", resp.UsedFallback).
		Int("tokens", resp.TokensUsed).
		Dur("latency", resp.Latency).
		Msg("request executed")

	o.logUsage(ctx, resp)
	return resp, nil
}

// walkFallback tries each backend of the fixed fallback order once,
// skipping the primary and anything currently unavailable.
func (o *Orchestrator) walkFallback(ctx context.Context, req *task.Request, resp *task.Response, primary *backend.Config, lastErr error) {
	tried := map[string]bool{primary.ID: true}
	last := primary

	for _, id := range o.registry.FallbackOrder() {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if tried[id] {
			continue
		}
		tried[id] = true

		b, ok := o.registry.Get(id)
		if !ok || !o.available(ctx, b) {
			continue
		}

		res, err := o.attempt(ctx, b, req, resp)
		last = b
		if err == nil {
			fill(resp, b, res)
			resp.UsedFallback = true
			resp.OriginalBackend = primary.ID
			return
		}
		lastErr = err
	}

	resp.Success = false
	resp.BackendUsed = last.ID
	resp.ErrorMessage = lastErr.Error()
	if last.ID != primary.ID {
		resp.UsedFallback = true
		resp.OriginalBackend = primary.ID
	}
}

// attempt performs one guarded backend call and records its outcome.
func (o *Orchestrator) attempt(ctx context.Context, b *backend.Config, req *task.Request, resp *task.Response) (*provider.Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.attempt", trace.WithAttributes(
		attribute.String("backend", b.ID),
		attribute.String("provider", string(b.Provider)),
		attribute.String("task_type", string(req.TaskType)),
		attribute.Bool("fallback", len(resp.Attempts) > 0),
	))
	defer span.End()

	timeout := b.Timeout
	if req.Overrides.Timeout != nil {
		timeout = *req.Overrides.Timeout
	}
	if timeout <= 0 {
		timeout = backend.DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := buildCall(b, req)
	started := time.Now()

	invoke := func() (*provider.Result, error) {
		res, err := o.invoker.Invoke(actx, b, call)
		if err == nil && res == nil {
			return nil, provider.ErrEmptyResponse
		}
		if err != nil && ctx.Err() != nil {
			return nil, &callerGoneError{err: err}
		}
		return res, err
	}

	var res *provider.Result
	var err error
	if cb, ok := o.breakers[b.ID]; ok {
		var v interface{}
		v, err = cb.Execute(func() (interface{}, error) {
			return invoke()
		})
		if err == nil {
			res = v.(*provider.Result)
		}
	} else {
		res, err = invoke()
	}
	latency := time.Since(started)

	// the backend never saw a breaker rejection or a caller hang-up
	var gone *callerGoneError
	rejected := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	if errors.As(err, &gone) {
		err = gone.err
	} else if !rejected {
		o.ledger.Record(b.ID, req.TaskType, latency, err == nil)
	}

	a := task.Attempt{Backend: b.ID, Latency: latency, Success: err == nil}
	if err != nil {
		err = fmt.Errorf("%s: %w", b.ID, err)
		a.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Warn().Err(err).Str("request_id", req.RequestID).Str("backend", b.ID).Dur("latency", latency).Msg("backend attempt failed")
	}
	resp.Attempts = append(resp.Attempts, a)
	span.SetAttributes(attribute.Bool("success", err == nil))
	return res, err
}

func (o *Orchestrator) runLocal(ctx context.Context, req *task.Request, resp *task.Response) {
	b := o.localBackend
	started := time.Now()
	res, err := o.localAdapter.Invoke(ctx, b, buildCall(b, req))
	if err != nil || res == nil {
		res = &provider.Result{Text: local.Placeholder(req.TaskType), Model: b.Model}
	}
	latency := time.Since(started)

	o.ledger.Record(b.ID, req.TaskType, latency, true)
	resp.Attempts = append(resp.Attempts, task.Attempt{Backend: b.ID, Latency: latency, Success: true})
	fill(resp, b, res)
	resp.UsedFallback = true
}

func buildCall(b *backend.Config, req *task.Request) *provider.Call {
	call := &provider.Call{
		System:      req.System,
		Prompt:      req.Prompt,
		TaskType:    req.TaskType,
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
	}
	if call.MaxTokens <= 0 {
		call.MaxTokens = backend.DefaultMaxTokens
	}
	if v := req.Overrides.MaxTokens; v != nil {
		call.MaxTokens = *v
	}
	if v := req.Overrides.Temperature; v != nil {
		call.Temperature = *v
	}
	return call
}

func fill(resp *task.Response, b *backend.Config, res *provider.Result) {
	resp.Success = true
	resp.ErrorMessage = ""
	resp.BackendUsed = b.ID
	resp.Content = res.Text
	resp.TokensUsed = res.TokensUsed()
	resp.Cost = b.CostFor(resp.TokensUsed)
}

func (o *Orchestrator) logUsage(ctx context.Context, resp *task.Response) {
	if o.usage == nil {
		return
	}
	entry := &billing.UsageLog{
		TenantID:     auth.GetTenantID(ctx),
		RequestID:    resp.RequestID,
		BackendID:    resp.BackendUsed,
		TaskType:     string(resp.TaskType),
		TokensUsed:   resp.TokensUsed,
		CostUSD:      resp.Cost,
		LatencyMs:    resp.Latency.Milliseconds(),
		Success:      resp.Success,
		UsedFallback: resp.UsedFallback,
	}
	if b, ok := o.backend(resp.BackendUsed); ok {
		entry.Provider = string(b.Provider)
		entry.Model = b.Model
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.usage.LogUsage(ctx, entry); err != nil {
			o.log.Warn().Err(err).Str("request_id", entry.RequestID).Msg("usage log failed")
		}
	}()
}

// Close waits for in-flight usage writes and ledger persistence.
func (o *Orchestrator) Close() {
	o.pending.Wait()
	o.ledger.Flush()
}

func (o *Orchestrator) backend(id string) (*backend.Config, bool) {
	if id == o.localBackend.ID {
		return o.localBackend, true
	}
	return o.registry.Get(id)
}
