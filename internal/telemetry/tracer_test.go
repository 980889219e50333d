package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("disabled", func(t *testing.T) {
		tracer, shutdown, err := InitTracer(Options{ServiceName: "xyzhub"}, logger)
		require.NoError(t, err)
		_, span := tracer.Start(context.Background(), "step")
		assert.False(t, span.SpanContext().IsValid())
		span.End()
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("exports to the writer", func(t *testing.T) {
		var buf bytes.Buffer
		tracer, shutdown, err := InitTracer(Options{Enabled: true, ServiceName: "xyzhub", Output: &buf}, logger)
		require.NoError(t, err)
		_, span := tracer.Start(context.Background(), "load_objects")
		span.End()
		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "load_objects")
	})
}
