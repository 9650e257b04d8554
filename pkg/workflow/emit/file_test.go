package emit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileEmitterWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	fe, err := NewFileEmitter(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fe.Close()

	fe.Emit(Event{InstanceID: "inst-1", EventType: "WORK_SUBMITTED"})
	if err := fe.EmitBatch(context.Background(), []Event{{InstanceID: "inst-1", EventType: "WORK_FAILED"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fe.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "WORK_SUBMITTED") || !strings.Contains(content, "WORK_FAILED") {
		t.Errorf("expected both events written, got %q", content)
	}
	if strings.Count(content, "\n") != 2 {
		t.Errorf("expected 2 lines, got %q", content)
	}
}

func TestFileEmitterAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	fe1, err := NewFileEmitter(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fe1.Emit(Event{EventType: "FIRST"})
	if err := fe1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	fe2, err := NewFileEmitter(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fe2.Close()
	fe2.Emit(Event{EventType: "SECOND"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "FIRST") || !strings.Contains(content, "SECOND") {
		t.Errorf("expected both events preserved across reopen, got %q", content)
	}
}
