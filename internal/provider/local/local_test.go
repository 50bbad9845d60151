package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/model-orchestrator/internal/backend"
	"github.com/vnmchuo/model-orchestrator/internal/provider"
	"github.com/vnmchuo/model-orchestrator/internal/task"
)

func TestInvoke_PlaceholderPerTask(t *testing.T) {
	p := New()
	b := backend.LocalFallback()

	for _, tt := range task.AllTypes() {
		res, err := p.Invoke(context.Background(), b, &provider.Call{Prompt: "anything", TaskType: tt})
		require.NoError(t, err)
		assert.NotEmpty(t, res.Text, tt)
		assert.Equal(t, Placeholder(tt), res.Text)
		assert.Zero(t, res.TokensUsed())
	}
}

func TestInvoke_Deterministic(t *testing.T) {
	p := New()
	b := backend.LocalFallback()
	call := &provider.Call{Prompt: "x", TaskType: task.Scoring}

	first, err := p.Invoke(context.Background(), b, call)
	require.NoError(t, err)
	second, err := p.Invoke(context.Background(), b, call)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlaceholder_UnknownTaskFallsBackToGeneral(t *testing.T) {
	assert.Equal(t, Placeholder(task.General), Placeholder(task.Type("nope")))
}

func TestProbe_AlwaysHealthy(t *testing.T) {
	assert.NoError(t, New().Probe(context.Background(), backend.LocalFallback()))
}
