// Package audit is a supplemental, additive trail of Job Store mutations
// and manual triggers, backed by SQLite. It is not part of the mandated
// state machine in spec.md — the JSON Job Store and the per-run log files
// remain the sole sources of truth — it exists purely so an operator can
// answer "who changed what, and when" after the fact.
//
// Grounded on the teacher's internal/storage: AuditEntry's shape and the
// open/close/driver-selection pattern come from storage/types.go and
// storage/sqlite.go, generalized from a Telegram-operator audit log to a
// Job Store change/trigger audit log and un-gated from the teacher's
// "sqlite" build tag since this module wires modernc.org/sqlite by default.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrDisabled is returned by the Record methods of a Trail when auditing is
// off; Close on such a Trail returns nil.
var ErrDisabled = errors.New("audit: disabled")

// Config controls whether and where the audit trail is persisted.
//
// An empty Path disables auditing entirely; Open returns a Trail whose
// Record methods are no-ops returning ErrDisabled (Close returns nil), so
// callers never need to nil-check.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Trail records Job Store mutations and manual triggers.
type Trail interface {
	RecordJobChange(ctx context.Context, jobID uuid.UUID, change model.JobChangeKind, at time.Time) error
	RecordTrigger(ctx context.Context, jobID, runID uuid.UUID, source string, params *model.TriggerParams, at time.Time) error
	Close() error
}

// Open initializes the configured trail, or a disabled no-op Trail if
// cfg.Path is empty.
func Open(cfg Config, log logx.Logger) (Trail, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return disabledTrail{}, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}

type disabledTrail struct{}

func (disabledTrail) RecordJobChange(context.Context, uuid.UUID, model.JobChangeKind, time.Time) error {
	return ErrDisabled
}
func (disabledTrail) RecordTrigger(context.Context, uuid.UUID, uuid.UUID, string, *model.TriggerParams, time.Time) error {
	return ErrDisabled
}
func (disabledTrail) Close() error { return nil }

type sqliteTrail struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Trail, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; the audit trail is low-volume enough
	// that this never becomes a bottleneck.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(string(b)); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteTrail{db: db, log: log}, nil
}

func (t *sqliteTrail) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *sqliteTrail) RecordJobChange(ctx context.Context, jobID uuid.UUID, change model.JobChangeKind, at time.Time) error {
	if t == nil || t.db == nil {
		return ErrDisabled
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO job_changes(at, job_id, change) VALUES(?,?,?)`,
		at.Format(time.RFC3339Nano), jobID.String(), string(change),
	)
	return err
}

func (t *sqliteTrail) RecordTrigger(ctx context.Context, jobID, runID uuid.UUID, source string, params *model.TriggerParams, at time.Time) error {
	if t == nil || t.db == nil {
		return ErrDisabled
	}
	var args any
	hasEnv, hasInput := 0, 0
	if params != nil {
		if params.Args != "" {
			args = params.Args
		}
		if len(params.Env) > 0 {
			hasEnv = 1
		}
		if params.Input != "" {
			hasInput = 1
		}
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO triggers(at, job_id, run_id, source, args, has_env, has_input) VALUES(?,?,?,?,?,?,?)`,
		at.Format(time.RFC3339Nano), jobID.String(), runID.String(), source, args, hasEnv, hasInput,
	)
	return err
}
