package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestStdBackendDevIsText(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: EnvDev, Service: "chat", Version: "v1"}, &buf)
	l.Info("hello", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "service=chat")
	assert.Contains(t, out, "k=v")
}

func TestStdBackendProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: EnvProd, Backend: BackendStd, Service: "chat"}, &buf)
	l.Warn("careful")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "careful", rec["msg"])
	assert.Equal(t, "prod", rec["env"])
	assert.NotEmpty(t, rec["instance_id"])
}

func TestZapBackend(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: EnvProd, Service: "chat"}, &buf)
	l.Info("zapped", "id", "m1")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "zapped", rec["msg"])
	assert.Equal(t, "m1", rec["id"])
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Env: EnvDev}, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	New(Config{Env: EnvDev, Debug: true}, &buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	New(Config{Env: EnvDev, Level: slog.LevelError}, &buf).Warn("dropped")
	assert.Empty(t, buf.String())
}

func TestParseEnv(t *testing.T) {
	assert.Equal(t, EnvProd, ParseEnv("Production"))
	assert.Equal(t, EnvStage, ParseEnv("staging"))
	assert.Equal(t, EnvDev, ParseEnv(""))
}

func TestAttrsFromCtx(t *testing.T) {
	assert.Nil(t, AttrsFromCtx(context.Background()))

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	attrs := AttrsFromCtx(ctx)
	require.Len(t, attrs, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", attrs[0].Value.String())

	var buf bytes.Buffer
	New(Config{Env: EnvDev}, &buf).InfoContext(ctx, "traced")
	assert.Contains(t, buf.String(), "trace_id=4bf92f3577b34da6a3ce929d0e0e4736")
}
