package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/model-orchestrator/config"
)

func TestInitTracer_None(t *testing.T) {
	tracer, shutdown, err := InitTracer("test", &config.Config{OTELExporterType: "none"})
	require.NoError(t, err)
	defer shutdown()

	_, span := tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitTracer_Stdout(t *testing.T) {
	tracer, shutdown, err := InitTracer("test", &config.Config{OTELExporterType: "stdout"})
	require.NoError(t, err)
	defer shutdown()

	_, span := tracer.Start(context.Background(), "recorded")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitTracer_Unknown(t *testing.T) {
	_, _, err := InitTracer("test", &config.Config{OTELExporterType: "zipkin"})
	assert.Error(t, err)
}
