package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestEngine_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, WithTracerProvider(tp))
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "C1", []domain.RequestedLine{line("P1", 1)})
	require.NoError(t, err)
	_, err = f.engine.UpdateOrder(ctx, order.ID, "C1", []domain.RequestedLine{line("P1", 50)})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, "reconcile.create", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)

	require.Equal(t, "reconcile.update", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	found := false
	for _, attr := range spans[1].Attributes() {
		if string(attr.Key) == "reconcile.result" {
			found = true
			require.Equal(t, "validation", attr.Value.AsString())
		}
	}
	require.True(t, found, "expected reconcile.result attribute")
}
