package tracer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func newRecordingClient(t *testing.T) (*TracerClient, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewClientWithProvider(tp), sr
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestNewClient_NoExport(t *testing.T) {
	client, err := NewClient(Config{ServiceName: "test-service", AppEnv: "test"})

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NotNil(t, client.tracer)
	assert.NoError(t, client.Shutdown(context.Background()))
}

func TestNewClient_SampleRatio(t *testing.T) {
	client, err := NewClient(Config{ServiceName: "sampled", SampleRatio: 0.25})

	require.NoError(t, err)
	assert.NoError(t, client.Shutdown(context.Background()))
}

func TestShutdown_NilClient(t *testing.T) {
	var client *TracerClient
	assert.NoError(t, client.Shutdown(context.Background()))
	assert.NoError(t, (&TracerClient{}).Shutdown(context.Background()))
}

func TestStartSpan_ChildInheritsParent(t *testing.T) {
	t.Parallel()
	client, sr := newRecordingClient(t)

	ctx, parent := client.StartSpan(context.Background(), "transaction")
	_, child := client.StartSpan(ctx, "pool.acquire")
	child.End()
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pool.acquire", spans[0].Name())
	assert.Equal(t, "transaction", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestSetAttributes_Types(t *testing.T) {
	t.Parallel()
	client, sr := newRecordingClient(t)

	_, span := client.StartSpan(context.Background(), "attrs")
	span.SetAttributes(map[string]interface{}{
		"pool.shard":   "eu",
		"pool.size":    4,
		"pool.created": int64(7),
		"ratio":        0.5,
		"sharded":      true,
		"wait":         1500 * time.Millisecond,
		"servers":      []string{"default", "eu"},
		"other":        struct{ N int }{N: 1},
	})
	span.SetAttributes(nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "eu", attrs["pool.shard"].AsString())
	assert.Equal(t, int64(4), attrs["pool.size"].AsInt64())
	assert.Equal(t, int64(7), attrs["pool.created"].AsInt64())
	assert.Equal(t, 0.5, attrs["ratio"].AsFloat64())
	assert.True(t, attrs["sharded"].AsBool())
	assert.Equal(t, int64(1500), attrs["wait_ms"].AsInt64())
	assert.Equal(t, []string{"default", "eu"}, attrs["servers"].AsStringSlice())
	assert.Equal(t, "{1}", attrs["other"].AsString())
}

func TestRecordError(t *testing.T) {
	t.Parallel()
	client, sr := newRecordingClient(t)

	_, span := client.StartSpan(context.Background(), "failing")
	span.RecordError(nil)
	span.RecordError(errors.New("pool timeout"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "pool timeout", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestFXModule_ProvidesTracer(t *testing.T) {
	var client *TracerClient
	var tr Tracer

	app := fxtest.New(t,
		FXModule,
		fx.Provide(func() Config {
			return Config{ServiceName: "fx-test", AppEnv: "test"}
		}),
		fx.Populate(&client, &tr),
	)

	app.RequireStart()
	defer app.RequireStop()

	assert.NotNil(t, client)
	assert.NotNil(t, tr)
}

func TestRegisterTracerLifecycle_NilProvider(t *testing.T) {
	app := fxtest.New(t,
		fx.Provide(func() *TracerClient { return &TracerClient{} }),
		fx.Invoke(RegisterTracerLifecycle),
	)

	app.RequireStart()
	assert.NotPanics(t, func() { app.RequireStop() })
}
