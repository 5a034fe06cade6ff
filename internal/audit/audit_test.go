package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

func TestOpen_EmptyPathDisabled(t *testing.T) {
	trail, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	jobID, _ := uuid.NewV7()
	if err := trail.RecordJobChange(context.Background(), jobID, model.JobAdded, time.Now()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecordJobChange on a disabled trail = %v, want ErrDisabled", err)
	}
	runID, _ := uuid.NewV7()
	if err := trail.RecordTrigger(context.Background(), jobID, runID, "scheduler", nil, time.Now()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecordTrigger on a disabled trail = %v, want ErrDisabled", err)
	}
}

func TestSQLiteTrail_RecordsJobChangesAndTriggers(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(Config{Path: dbPath, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer trail.Close()

	jobID, _ := uuid.NewV7()
	runID, _ := uuid.NewV7()
	now := time.Now().UTC()

	if err := trail.RecordJobChange(context.Background(), jobID, model.JobEnabled, now); err != nil {
		t.Fatalf("RecordJobChange: %v", err)
	}
	params := &model.TriggerParams{Args: "--once", Env: map[string]string{"X": "1"}}
	if err := trail.RecordTrigger(context.Background(), jobID, runID, "scheduler", params, now); err != nil {
		t.Fatalf("RecordTrigger: %v", err)
	}

	st, ok := trail.(*sqliteTrail)
	if !ok {
		t.Fatalf("trail is %T, want *sqliteTrail", trail)
	}

	var changeCount int
	if err := st.db.QueryRow(`SELECT count(*) FROM job_changes WHERE job_id = ?`, jobID.String()).Scan(&changeCount); err != nil {
		t.Fatalf("query job_changes: %v", err)
	}
	if changeCount != 1 {
		t.Fatalf("job_changes rows for job = %d, want 1", changeCount)
	}

	var source string
	var hasEnv int
	if err := st.db.QueryRow(`SELECT source, has_env FROM triggers WHERE run_id = ?`, runID.String()).Scan(&source, &hasEnv); err != nil {
		t.Fatalf("query triggers: %v", err)
	}
	if source != "scheduler" || hasEnv != 1 {
		t.Fatalf("triggers row = (source=%q, has_env=%d), want (scheduler, 1)", source, hasEnv)
	}
}

func TestSQLiteTrail_CloseIsIdempotentAndNilSafe(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(Config{Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	var nilTrail *sqliteTrail
	if err := nilTrail.Close(); err != nil {
		t.Fatalf("Close on nil *sqliteTrail = %v, want nil", err)
	}
}
