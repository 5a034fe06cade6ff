package logstore

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

func newRun(jobID uuid.UUID) model.JobRun {
	runID, _ := uuid.NewV7()
	return model.JobRun{
		RunID:     runID,
		JobID:     jobID,
		StartedAt: time.Now().UTC(),
		Status:    model.RunRunning,
	}
}

func TestAppendAndReadLog(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())
	jobID, _ := uuid.NewV7()
	run := newRun(jobID)

	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.AppendLog(jobID, run.RunID, []byte("hello\n")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := s.AppendLog(jobID, run.RunID, []byte("world\n")); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	got, err := s.ReadLog(jobID, run.RunID, -1)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if got != "hello\nworld\n" {
		t.Fatalf("ReadLog(tail=-1) = %q", got)
	}
}

func TestReadLog_MissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())
	jobID, _ := uuid.NewV7()
	runID, _ := uuid.NewV7()

	got, err := s.ReadLog(jobID, runID, -1)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if got != "" {
		t.Fatalf("ReadLog on missing file = %q, want empty", got)
	}
}

func TestReadLog_Tail(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())
	jobID, _ := uuid.NewV7()
	run := newRun(jobID)
	_ = s.CreateRun(run)

	for i := 1; i <= 5; i++ {
		line := []byte{byte('0' + i), '\n'}
		if err := s.AppendLog(jobID, run.RunID, line); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	got, err := s.ReadLog(jobID, run.RunID, 2)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if got != "4\n5\n" {
		t.Fatalf("ReadLog(tail=2) = %q, want %q", got, "4\n5\n")
	}

	full, err := s.ReadLog(jobID, run.RunID, -1)
	if err != nil {
		t.Fatalf("ReadLog(tail=-1): %v", err)
	}
	if full != "1\n2\n3\n4\n5\n" {
		t.Fatalf("ReadLog(tail=-1) = %q", full)
	}

	empty, err := s.ReadLog(jobID, run.RunID, 0)
	if err != nil {
		t.Fatalf("ReadLog(tail=0): %v", err)
	}
	if empty != "" {
		t.Fatalf("ReadLog(tail=0) = %q, want empty", empty)
	}
}

func TestListRuns_SortAndPaginate(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())
	jobID, _ := uuid.NewV7()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		run := newRun(jobID)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRun(run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		ids = append(ids, run.RunID)
	}

	list, err := s.ListRuns(jobID, 2, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if list.Total != 5 {
		t.Fatalf("Total = %d, want 5", list.Total)
	}
	if len(list.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(list.Runs))
	}
	// Sorted started_at descending: newest is ids[4]; offset=1 skips it.
	if list.Runs[0].RunID != ids[3] || list.Runs[1].RunID != ids[2] {
		t.Fatalf("ListRuns page = %+v, want ids[3],ids[2]", list.Runs)
	}
}

func TestCleanup_RetainsMostRecent(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())
	jobID, _ := uuid.NewV7()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const total = 7
	const maxFiles = 3
	var newest []uuid.UUID
	for i := 0; i < total; i++ {
		run := newRun(jobID)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRun(run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if err := s.AppendLog(jobID, run.RunID, []byte("x")); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
		if i >= total-maxFiles {
			newest = append(newest, run.RunID)
		}
	}

	if err := s.Cleanup(jobID, maxFiles); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	list, err := s.ListRuns(jobID, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if list.Total != maxFiles {
		t.Fatalf("after cleanup Total = %d, want %d", list.Total, maxFiles)
	}
	seen := map[uuid.UUID]bool{}
	for _, r := range list.Runs {
		seen[r.RunID] = true
	}
	for _, id := range newest {
		if !seen[id] {
			t.Fatalf("expected retained run %s to survive cleanup", id)
		}
	}
}

func TestSweepOrphans(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, logx.Nop())

	keepID, _ := uuid.NewV7()
	orphanID, _ := uuid.NewV7()

	keepRun := newRun(keepID)
	if err := s.CreateRun(keepRun); err != nil {
		t.Fatalf("CreateRun keep: %v", err)
	}
	orphanRun := newRun(orphanID)
	if err := s.CreateRun(orphanRun); err != nil {
		t.Fatalf("CreateRun orphan: %v", err)
	}

	swept, total, err := s.SweepOrphans(map[uuid.UUID]struct{}{keepID: {}})
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if total != 2 || swept != 1 {
		t.Fatalf("swept=%d total=%d, want swept=1 total=2", swept, total)
	}

	if list, err := s.ListRuns(keepID, 0, 0); err != nil || list.Total != 1 {
		t.Fatalf("keep job's runs were affected: list=%+v err=%v", list, err)
	}
	if list, err := s.ListRuns(orphanID, 0, 0); err != nil || list.Total != 0 {
		t.Fatalf("orphan job's runs were not swept: list=%+v err=%v", list, err)
	}
}
