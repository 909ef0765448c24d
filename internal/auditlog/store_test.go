package auditlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Options{StateDir: t.TempDir(), MaxBytes: maxBytes})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	for i := 0; i < 3; i++ {
		s.Append(Entry{TaskID: fmt.Sprintf("t-%d", i), SubAgentID: "code-assist", Status: "completed", Success: true})
	}

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].TaskID != "t-2" || entries[2].TaskID != "t-0" {
		t.Fatalf("order = %q..%q, want newest first", entries[0].TaskID, entries[2].TaskID)
	}
	if entries[0].CreatedAt == "" {
		t.Fatalf("created_at not stamped")
	}
}

func TestRecordOutcomeAdaptsTaskRecords(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	err := s.RecordOutcome(context.Background(), ai.TaskRecord{
		TaskID:     "t-9",
		SubAgentID: "custom:fixer",
		Status:     ai.TaskStatusFailed,
		Error:      "turn budget exhausted after 3 turns",
		TurnsUsed:  3,
	})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	entries, err := s.List(1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	got := entries[0]
	if got.TaskID != "t-9" || got.Status != string(ai.TaskStatusFailed) || got.Success {
		t.Fatalf("entry = %+v", got)
	}
	if got.Error == "" || got.TurnsUsed != 3 {
		t.Fatalf("detail lost: %+v", got)
	}
}

func TestRotationKeepsRecentEntriesReadable(t *testing.T) {
	t.Parallel()

	// Tiny threshold: every append rotates.
	s := newTestStore(t, 64)
	for i := 0; i < 6; i++ {
		s.Append(Entry{TaskID: fmt.Sprintf("t-%d", i), SubAgentID: "code-assist", Status: "completed"})
	}

	entries, err := s.List(100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no entries readable after rotation")
	}
	if entries[0].TaskID != "t-5" {
		t.Fatalf("newest entry = %q, want t-5", entries[0].TaskID)
	}
}
