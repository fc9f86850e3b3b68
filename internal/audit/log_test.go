package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLogOutput(&buf, slog.LevelInfo)
	defer restore()

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{ID: "user-42"})

	if err := LogEvent(ctx, "project.created", "project", "p-1", map[string]any{"name": "Apollo"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.Bytes()
	if len(line) == 0 {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "project.created" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["resource_type"] != "project" || entry["resource_id"] != "p-1" {
		t.Fatalf("unexpected resource: %v %v", entry["resource_type"], entry["resource_id"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["principal_id"] != "user-42" {
		t.Fatalf("unexpected principal id: %v", entry["principal_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["name"] != "Apollo" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", "", "", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}
