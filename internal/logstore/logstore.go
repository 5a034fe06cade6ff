// Package logstore is the Log Store (spec.md §4.2): per-job directories of
// append-only run logs plus pretty-printed run metadata, with listing,
// line-oriented tailing, and retention.
//
// Grounded on the teacher's internal/storage/file.go open-append-flush-close
// pattern (one os.OpenFile per write, no held file handles between calls) and
// on pkg/speedtest/history.go's JSON-snapshot-per-record approach, adapted
// from one shared audit file to one `{run_id}.meta.json` per run.
package logstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"acsd/internal/acserr"
	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

// Store is the production Log Store rooted at dataDir/logs.
type Store struct {
	root string
	log  logx.Logger
}

// Open returns a Store rooted at filepath.Join(dataDir, "logs"). The root is
// created lazily by the first write, not by Open itself.
func Open(dataDir string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{root: filepath.Join(dataDir, "logs"), log: log}
}

func (s *Store) jobDir(jobID uuid.UUID) string {
	return filepath.Join(s.root, jobID.String())
}

func (s *Store) logPath(jobID, runID uuid.UUID) string {
	return filepath.Join(s.jobDir(jobID), runID.String()+".log")
}

func (s *Store) metaPath(jobID, runID uuid.UUID) string {
	return filepath.Join(s.jobDir(jobID), runID.String()+".meta.json")
}

// CreateRun creates the job's log directory if absent and writes the initial
// .meta.json (spec.md §4.2).
func (s *Store) CreateRun(run model.JobRun) error {
	dir := s.jobDir(run.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return acserr.Storagef("logstore: mkdir %s: %v", dir, err)
	}
	return s.writeMeta(run)
}

// UpdateRun rewrites .meta.json with terminal fields.
func (s *Store) UpdateRun(run model.JobRun) error {
	return s.writeMeta(run)
}

func (s *Store) writeMeta(run model.JobRun) error {
	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return acserr.Storagef("logstore: marshal meta for run %s: %v", run.RunID, err)
	}
	path := s.metaPath(run.JobID, run.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return acserr.Storagef("logstore: write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return acserr.Storagef("logstore: rename %s -> %s: %v", tmp, path, err)
	}
	return nil
}

// AppendLog opens, appends, flushes and closes the run's log file on every
// call — tolerant of interleaving with writers targeting different runs,
// since each run owns its own file handle for the duration of one call only.
func (s *Store) AppendLog(jobID, runID uuid.UUID, p []byte) error {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return acserr.Storagef("logstore: mkdir %s: %v", dir, err)
	}
	f, err := os.OpenFile(s.logPath(jobID, runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return acserr.Storagef("logstore: open log for run %s: %v", runID, err)
	}
	defer f.Close()
	if _, err := f.Write(p); err != nil {
		return acserr.Storagef("logstore: append log for run %s: %v", runID, err)
	}
	return f.Sync()
}

// ReadLog returns the run's log content. tail<0 means no tail was
// requested and returns the full content; tail==0 returns an empty string
// (matching read_log's `Some(0)` branch, which slices zero lines); tail>0
// returns the last `tail` newline-delimited lines. A missing file returns
// an empty string, not an error (spec.md §4.2).
func (s *Store) ReadLog(jobID, runID uuid.UUID, tail int) (string, error) {
	b, err := os.ReadFile(s.logPath(jobID, runID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", acserr.Storagef("logstore: read log for run %s: %v", runID, err)
	}
	if tail < 0 {
		return string(b), nil
	}
	if tail == 0 {
		return "", nil
	}

	lines := splitLines(b)
	if len(lines) <= tail {
		return string(b), nil
	}
	return strings.Join(lines[len(lines)-tail:], "\n") + "\n", nil
}

// splitLines splits on '\n', dropping one trailing empty element left by a
// final newline so tail counts whole lines, not a phantom blank one.
func splitLines(b []byte) []string {
	s := string(bytes.TrimRight(b, "\n"))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// RunList is the paginated result of ListRuns.
type RunList struct {
	Runs  []model.JobRun
	Total int
}

// ListRuns enumerates .meta.json files for jobID, sorts by started_at
// descending, and applies offset/limit (spec.md §4.2). Malformed metadata
// files are skipped with a warning rather than failing the whole listing.
func (s *Store) ListRuns(jobID uuid.UUID, limit, offset int) (RunList, error) {
	dir := s.jobDir(jobID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return RunList{}, nil
	}
	if err != nil {
		return RunList{}, acserr.Storagef("logstore: readdir %s: %v", dir, err)
	}

	var runs []model.JobRun
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.log.Warn("logstore: failed reading run metadata", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		var run model.JobRun
		if err := json.Unmarshal(b, &run); err != nil {
			s.log.Warn("logstore: malformed run metadata skipped", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	total := len(runs)
	if offset >= total {
		return RunList{Runs: nil, Total: total}, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return RunList{Runs: runs[offset:end], Total: total}, nil
}

// Cleanup deletes the oldest runs in excess of maxFiles (both .log and
// .meta.json), called by the Executor after each run terminates.
func (s *Store) Cleanup(jobID uuid.UUID, maxFiles int) error {
	if maxFiles <= 0 {
		return nil
	}
	list, err := s.ListRuns(jobID, 0, 0)
	if err != nil {
		return err
	}
	if len(list.Runs) <= maxFiles {
		return nil
	}

	// list.Runs is sorted newest-first; the excess tail is the oldest.
	excess := list.Runs[maxFiles:]
	var firstErr error
	for _, r := range excess {
		if err := os.Remove(s.logPath(jobID, r.RunID)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(s.metaPath(jobID, r.RunID)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return acserr.Storagef("logstore: cleanup job %s: %v", jobID, firstErr)
	}
	return nil
}

// SweepOrphans removes every logs/{uuid}/ subdirectory that does not
// correspond to a current Job id, logging one line per directory removed
// (SPEC_FULL.md's supplemented feature #3). Non-UUID entries are left
// untouched (spec.md §4.2). It returns the number of directories swept and
// the total UUID-named subdirectories examined so the caller can decide whether to log
// anything further.
func (s *Store) SweepOrphans(currentJobIDs map[uuid.UUID]struct{}) (swept, total int, err error) {
	entries, readErr := os.ReadDir(s.root)
	if os.IsNotExist(readErr) {
		return 0, 0, nil
	}
	if readErr != nil {
		return 0, 0, acserr.Storagef("logstore: readdir %s: %v", s.root, readErr)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, parseErr := uuid.Parse(e.Name())
		if parseErr != nil {
			continue // not a UUID-named dir; leave untouched
		}
		total++
		if _, ok := currentJobIDs[id]; ok {
			continue
		}
		s.log.Info("logstore: removing orphaned log directory", logx.String("job_id", e.Name()))
		if rmErr := os.RemoveAll(filepath.Join(s.root, e.Name())); rmErr != nil {
			s.log.Warn("logstore: failed to remove orphaned log directory",
				logx.String("job_id", e.Name()), logx.Err(rmErr))
			if err == nil {
				err = acserr.Storagef("logstore: remove orphan %s: %v", e.Name(), rmErr)
			}
			continue
		}
		swept++
	}
	return swept, total, err
}
