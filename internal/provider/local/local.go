// Package local is the zero-cost adapter behind the built-in fallback
// backend. It never touches the network.
package local

import (
	"context"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

var placeholders = map[task.Type]string{
	task.CodeGeneration: "// No model backend was available to generate code for this request.\n// Re-run once a backend is reachable.",
	task.AppPlanning:    `{"plan":"unavailable","features":[],"note":"no model backend was reachable"}`,
	task.Analysis:       "Analysis unavailable: no model backend was reachable.",
	task.Scoring:        `{"score":null,"note":"no model backend was reachable"}`,
	task.Documentation:  "# Documentation pending\n\nNo model backend was reachable to draft this document.",
	task.General:        "No model backend is currently available. Please retry later.",
	task.Creative:       "No model backend is currently available for creative writing.",
	task.Research:       "Research unavailable: no model backend was reachable.",
}

type LocalProvider struct{}

func New() *LocalProvider {
	return &LocalProvider{}
}

// Placeholder returns the canned text for t.
func Placeholder(t task.Type) string {
	if s, ok := placeholders[t]; ok {
		return s
	}
	return placeholders[task.General]
}

// Invoke ignores cancellation so the fallback path always yields a response.
func (p *LocalProvider) Invoke(ctx context.Context, b *backend.Config, call *provider.Call) (*provider.Result, error) {
	return &provider.Result{
		Text:  Placeholder(call.TaskType),
		Model: b.Model,
	}, nil
}

func (p *LocalProvider) Probe(ctx context.Context, b *backend.Config) error {
	return nil
}
