package logging

import "testing"

func TestNewLoggerWithService(t *testing.T) {
	l := NewLoggerWithService("svc-a")
	entry := l.WithField("k", "v")
	if entry == nil {
		t.Fatalf("expected non-nil entry")
	}
}

func TestWithRun(t *testing.T) {
	l := NewLogger()
	entry := WithRun(l, "run-123")
	if entry.Data["run_id"] != "run-123" {
		t.Fatalf("expected run_id field, got %v", entry.Data)
	}
}
