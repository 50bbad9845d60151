// Package task defines the request and response types exchanged with the
// orchestrator.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRequest = errors.New("invalid request")

// Type is the caller-declared category of work. It biases backend
// selection and decides which backends are eligible.
type Type string

const (
	CodeGeneration Type = "code_generation"
	AppPlanning    Type = "app_planning"
	Analysis       Type = "analysis"
	Scoring        Type = "scoring"
	Documentation  Type = "documentation"
	General        Type = "general"
	Creative       Type = "creative"
	Research       Type = "research"
)

var allTypes = []Type{
	CodeGeneration, AppPlanning, Analysis, Scoring,
	Documentation, General, Creative, Research,
}

// AllTypes returns every task type in declaration order.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t Type) Valid() bool {
	for _, v := range allTypes {
		if v == t {
			return true
		}
	}
	return false
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown task type %q", ErrInvalidRequest, s)
	}
	return t, nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority treats an empty string as normal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
	}
	return p, nil
}

// Overrides replace the backend defaults for a single request.
type Overrides struct {
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`
}

type Request struct {
	RequestID        string    `json:"request_id,omitempty"`
	Prompt           string    `json:"prompt"`
	System           string    `json:"system,omitempty"`
	TaskType         Type      `json:"task_type"`
	Priority         Priority  `json:"priority,omitempty"`
	FallbackRequired bool      `json:"fallback_required"`
	Overrides        Overrides `json:"overrides,omitempty"`
}

// Validate rejects requests that violate the caller contract. It also
// fills in the default priority.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	if !r.TaskType.Valid() {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidRequest, r.TaskType)
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, r.Priority)
	}
	if o := r.Overrides.MaxTokens; o != nil && *o <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidRequest)
	}
	if o := r.Overrides.Temperature; o != nil && (*o < 0 || *o > 2) {
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidRequest)
	}
	if o := r.Overrides.Timeout; o != nil && *o <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	return nil
}

// Attempt describes one backend invocation made while serving a request.
type Attempt struct {
	Backend string        `json:"backend"`
	Latency time.Duration `json:"latency"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}

type Response struct {
	RequestID       string        `json:"request_id"`
	Content         string        `json:"content"`
	BackendUsed     string        `json:"backend_used"`
	TaskType        Type          `json:"task_type"`
	TokensUsed      int           `json:"tokens_used"`
	Latency         time.Duration `json:"latency"`
	Cost            float64       `json:"cost"`
	Success         bool          `json:"success"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	UsedFallback    bool          `json:"used_fallback"`
	OriginalBackend string        `json:"original_backend,omitempty"`
	Attempts        []Attempt     `json:"attempts,omitempty"`
}
