package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(buf.String(), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &payload); err != nil {
			t.Fatalf("failed to decode log line: %v", err)
		}
		return payload
	}
	t.Fatal("no log lines found")
	return nil
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatalf("trace id: %v", err)
	}
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatalf("span id: %v", err)
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestNewInjectsServiceAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := New("orchestrator", "info", &buf)

	log.Info().Str("transaction_id", "t-1").Msg("saga started")

	payload := decodeLastLogLine(t, &buf)
	if payload["service"] != "orchestrator" {
		t.Fatalf("expected service field, got %v", payload["service"])
	}
	if payload["timestamp"] == nil {
		t.Fatal("expected timestamp field")
	}
	if payload["message"] != "saga started" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("orchestrator", "warn", &buf)

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	log.Warn().Msg("shown")
	if payload := decodeLastLogLine(t, &buf); payload["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", payload["level"])
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("orchestrator", "loud", &buf)

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if payload := decodeLastLogLine(t, &buf); payload["message"] != "shown" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestWithContextAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := WithContext(spanContext(t), New("orchestrator", "info", &buf))

	log.Info().Msg("event handled")

	payload := decodeLastLogLine(t, &buf)
	if payload["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace_id %v", payload["trace_id"])
	}
	if payload["span_id"] != "00f067aa0ba902b7" {
		t.Fatalf("unexpected span_id %v", payload["span_id"])
	}
}

func TestWithContextWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	log := WithContext(context.Background(), New("orchestrator", "info", &buf))

	log.Info().Msg("no span")

	if _, ok := decodeLastLogLine(t, &buf)["trace_id"]; ok {
		t.Fatal("expected no trace_id without span context")
	}
}
