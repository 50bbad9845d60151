package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/model-orchestrator/internal/auth"
	"github.com/vnmchuo/model-orchestrator/internal/billing"
	"github.com/vnmchuo/model-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/model-orchestrator/internal/selector"
	"github.com/vnmchuo/model-orchestrator/internal/task"
	"github.com/vnmchuo/model-orchestrator/pkg/ratelimit"
)

type Handler struct {
	orch    *orchestrator.Orchestrator
	billing billing.Store
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	log     zerolog.Logger
}

// NewHandler wires the HTTP API. billing and limiter may be nil, which
// disables /v1/usage and rate limiting respectively.
func NewHandler(orch *orchestrator.Orchestrator, billing billing.Store, limiter *ratelimit.Limiter, tracer trace.Tracer, log zerolog.Logger) *Handler {
	return &Handler{
		orch:    orch,
		billing: billing,
		limiter: limiter,
		tracer:  tracer,
		log:     log,
	}
}

type executeRequest struct {
	Prompt           string   `json:"prompt"`
	System           string   `json:"system,omitempty"`
	TaskType         string   `json:"task_type"`
	Priority         string   `json:"priority,omitempty"`
	FallbackRequired *bool    `json:"fallback_required,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TimeoutSeconds   *float64 `json:"timeout_seconds,omitempty"`
}

// toTask maps the wire form onto a task.Request. Omitted fallback_required
// means fallback is allowed.
func (r *executeRequest) toTask(requestID string) task.Request {
	req := task.Request{
		RequestID:        requestID,
		Prompt:           r.Prompt,
		System:           r.System,
		TaskType:         task.Type(r.TaskType),
		Priority:         task.Priority(r.Priority),
		FallbackRequired: r.FallbackRequired == nil || *r.FallbackRequired,
		Overrides: task.Overrides{
			MaxTokens:   r.MaxTokens,
			Temperature: r.Temperature,
		},
	}
	if r.TimeoutSeconds != nil {
		d := time.Duration(*r.TimeoutSeconds * float64(time.Second))
		req.Overrides.Timeout = &d
	}
	return req
}

type attemptJSON struct {
	Backend   string `json:"backend"`
	LatencyMs int64  `json:"latency_ms"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type executeResponse struct {
	RequestID       string        `json:"request_id"`
	Content         string        `json:"content"`
	BackendUsed     string        `json:"backend_used"`
	TaskType        task.Type     `json:"task_type"`
	TokensUsed      int           `json:"tokens_used"`
	LatencyMs       int64         `json:"latency_ms"`
	CostUSD         float64       `json:"cost_usd"`
	Success         bool          `json:"success"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	UsedFallback    bool          `json:"used_fallback"`
	OriginalBackend string        `json:"original_backend,omitempty"`
	Attempts        []attemptJSON `json:"attempts"`
}

func fromTask(resp *task.Response) executeResponse {
	out := executeResponse{
		RequestID:       resp.RequestID,
		Content:         resp.Content,
		BackendUsed:     resp.BackendUsed,
		TaskType:        resp.TaskType,
		TokensUsed:      resp.TokensUsed,
		LatencyMs:       resp.Latency.Milliseconds(),
		CostUSD:         resp.Cost,
		Success:         resp.Success,
		ErrorMessage:    resp.ErrorMessage,
		UsedFallback:    resp.UsedFallback,
		OriginalBackend: resp.OriginalBackend,
		Attempts:        make([]attemptJSON, 0, len(resp.Attempts)),
	}
	for _, a := range resp.Attempts {
		out.Attempts = append(out.Attempts, attemptJSON{
			Backend:   a.Backend,
			LatencyMs: a.Latency.Milliseconds(),
			Success:   a.Success,
			Error:     a.Error,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "model-orchestrator"})
}

// HandleExecute answers 200 with the Response even when every backend
// failed; success=false carries that. Only malformed input is a 4xx.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := body.toTask(requestID)

	ctx, span := h.tracer.Start(ctx, "proxy.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("task_type", body.TaskType),
	)

	if !h.allow(ctx, w, &req) {
		return
	}

	resp, err := h.orch.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, task.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("request_id", requestID).Msg("execute failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, fromTask(resp))
}

// allow applies the tenant's token budget. Requests without a tenant (no
// auth configured) are not limited.
func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, req *task.Request) bool {
	tenantID := auth.GetTenantID(ctx)
	if h.limiter == nil || tenantID == "" {
		return true
	}

	maxTokens := 0
	if req.Overrides.MaxTokens != nil {
		maxTokens = *req.Overrides.MaxTokens
	}
	var tpm int64
	if k := auth.GetAPIKey(ctx); k != nil {
		tpm = k.RateLimit
	}

	allowed, err := h.limiter.Allow(ctx, tenantID, tpm, ratelimit.Estimate(req.Prompt, maxTokens))
	if err != nil {
		h.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("rate limiter unavailable")
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return false
	}
	return true
}

// HandleReport serves cached state; ?refresh=true probes stale backends
// first.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		h.orch.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, h.orch.Report(r.Context()))
}

type backendJSON struct {
	ID          string   `json:"id"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Local       bool     `json:"local"`
	CostPer1K   float64  `json:"cost_per_1k_tokens"`
	Reliability float64  `json:"reliability"`
	Speed       float64  `json:"speed"`
	Quality     float64  `json:"quality"`
	Tasks       []string `json:"tasks"`
}

type rankedJSON struct {
	Backend string             `json:"backend"`
	Score   selector.Breakdown `json:"score"`
}

// HandleBackends lists the registry. With ?task= it also returns the
// current ranking for that task (optionally ?priority=).
func (h *Handler) HandleBackends(w http.ResponseWriter, r *http.Request) {
	reg := h.orch.Registry()
	out := map[string]any{}

	list := make([]backendJSON, 0, reg.Len())
	for _, b := range reg.List() {
		bj := backendJSON{
			ID:          b.ID,
			Provider:    string(b.Provider),
			Model:       b.Model,
			Local:       b.IsLocal(),
			CostPer1K:   b.CostPer1K,
			Reliability: b.Reliability,
			Speed:       b.Speed,
			Quality:     b.Quality,
		}
		for _, t := range b.Tasks {
			bj.Tasks = append(bj.Tasks, string(t))
		}
		list = append(list, bj)
	}
	out["backends"] = list
	out["fallback_order"] = reg.FallbackOrder()

	if q := r.URL.Query().Get("task"); q != "" {
		t, err := task.ParseType(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := task.ParsePriority(r.URL.Query().Get("priority"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ranked := []rankedJSON{}
		for _, c := range h.orch.Selector().Rank(r.Context(), &task.Request{TaskType: t, Priority: p}) {
			ranked = append(ranked, rankedJSON{Backend: c.Backend.ID, Score: c.Score})
		}
		out["task_type"] = t
		out["ranking"] = ranked
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		writeError(w, http.StatusNotImplemented, "usage tracking requires POSTGRES_DSN")
		return
	}
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	logs, err := h.billing.GetUsageByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalCost, err := h.billing.GetTotalCostByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byBackend, err := h.billing.SummarizeByBackend(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := map[string]any{
		"tenant_id":      tenantID,
		"total_requests": len(logs),
		"total_cost_usd": totalCost,
		"by_backend":     byBackend,
		"logs":           logs,
		"from":           from,
		"to":             to,
	}
	if limit := h.rateLimitStatus(ctx, tenantID); limit != nil {
		out["rate_limit"] = limit
	}
	writeJSON(w, http.StatusOK, out)
}

type rateLimitJSON struct {
	LimitTPM          int     `json:"limit_tpm"`
	Remaining         int64   `json:"remaining"`
	ResetAfterSeconds float64 `json:"reset_after_seconds"`
}

// rateLimitStatus reads the tenant's current window without charging it.
func (h *Handler) rateLimitStatus(ctx context.Context, tenantID string) *rateLimitJSON {
	if h.limiter == nil {
		return nil
	}
	var tpm int64
	if k := auth.GetAPIKey(ctx); k != nil {
		tpm = k.RateLimit
	}
	res, err := h.limiter.Status(ctx, tenantID, tpm)
	if err != nil {
		h.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("rate limit status unavailable")
		return nil
	}
	return &rateLimitJSON{
		LimitTPM:          res.Limit,
		Remaining:         res.Remaining,
		ResetAfterSeconds: res.ResetAfter.Seconds(),
	}
}
