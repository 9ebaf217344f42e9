package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestWithContext_CarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New("waf-test", "info", "json")
	l.SetOutput(&buf)

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	ctx = context.WithValue(ctx, VhostIDKey, "example-com")
	l.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
	if entry["vhost_id"] != "example-com" {
		t.Errorf("vhost_id = %v", entry["vhost_id"])
	}
	if entry["service"] != "waf-test" {
		t.Errorf("service = %v", entry["service"])
	}
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	l := New("waf-test", "not-a-level", "text")
	if l.GetLevel().String() != "info" {
		t.Errorf("level = %v, want info", l.GetLevel())
	}
}

func TestWarnOncePer_Suppresses(t *testing.T) {
	var buf bytes.Buffer
	l := New("waf-test", "warn", "json")
	l.SetOutput(&buf)

	l.WarnOncePer("k1", time.Minute, "noisy")
	l.WarnOncePer("k1", time.Minute, "noisy")
	l.WarnOncePer("k2", time.Minute, "noisy")

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", lines, buf.String())
	}
}

func TestContextWithTraceID_GeneratesWhenEmpty(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "")
	if TraceIDFromContext(ctx) == "" {
		t.Error("expected a generated trace id")
	}

	ctx = ContextWithTraceID(context.Background(), "fixed")
	if got := TraceIDFromContext(ctx); got != "fixed" {
		t.Errorf("trace id = %q, want fixed", got)
	}
}
