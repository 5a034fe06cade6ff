// Package jobstore is the Job Store (spec.md §4.1): a mapping from Job id to
// Job, persisted as a pretty-printed JSON array with atomic temp+rename
// writes, recovering from corruption by renaming the bad file aside rather
// than losing data.
//
// Grounded on the teacher's internal/storage/file.go: the mutex-guarded
// in-memory state plus append/snapshot persistence pattern is generalized
// here to a single whole-file snapshot (jobs.json), since the Job Store's
// contract is "rewrite the full list after every mutation" rather than an
// append log.
package jobstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"acsd/internal/acserr"
	"acsd/internal/clock"
	"acsd/internal/cronx"
	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

const fileName = "jobs.json"

// Store is the production Job Store: one jobs.json file under dataDir, an
// in-memory cache guarded by a reader-writer lock, and a secondary name
// index maintained alongside the cache.
type Store struct {
	path  string
	clock clock.Clock
	log   logx.Logger

	mu       sync.RWMutex
	byID     map[uuid.UUID]model.Job
	byName   map[string]uuid.UUID
	insOrder []uuid.UUID
}

// Open loads dataDir/jobs.json (or starts empty if absent), recovering a
// corrupt file to jobs.json.bak rather than failing startup.
func Open(dataDir string, c clock.Clock, log logx.Logger) (*Store, error) {
	if c == nil {
		c = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		path:   filepath.Join(dataDir, fileName),
		clock:  c,
		log:    log,
		byID:   map[uuid.UUID]model.Job{},
		byName: map[string]uuid.UUID{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return acserr.Storagef("jobstore: read %s: %v", s.path, err)
	}

	var jobs []model.Job
	if err := json.Unmarshal(b, &jobs); err != nil {
		if backErr := s.recoverCorrupt(); backErr != nil {
			return acserr.Storagef("jobstore: recover corrupt %s: %v", s.path, backErr)
		}
		s.log.Warn("jobs.json failed to parse; recovered to backup and starting empty",
			logx.String("path", s.path), logx.Err(err))
		return nil
	}

	for _, j := range jobs {
		s.byID[j.ID] = j
		s.byName[j.Name] = j.ID
		s.insOrder = append(s.insOrder, j.ID)
	}
	return nil
}

// recoverCorrupt renames the unparseable file to a fixed jobs.json.bak
// sibling, overwriting any backup left by a prior corruption event, matching
// JsonJobStore::new's tokio::fs::copy in the original implementation.
func (s *Store) recoverCorrupt() error {
	return os.Rename(s.path, s.path+".bak")
}

// persistLocked serializes the current cache and writes it atomically.
// Callers must hold s.mu for writing.
func (s *Store) persistLocked() error {
	jobs := make([]model.Job, 0, len(s.insOrder))
	for _, id := range s.insOrder {
		jobs = append(jobs, s.byID[id])
	}

	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return acserr.Storagef("jobstore: marshal: %v", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return acserr.Storagef("jobstore: mkdir %s: %v", dir, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return acserr.Storagef("jobstore: write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return acserr.Storagef("jobstore: rename %s -> %s: %v", tmp, s.path, err)
	}
	return nil
}

// List returns every Job in insertion order, each with NextRunAt populated
// when the job is enabled and its schedule parses; NextRunAt is nil for
// disabled jobs (see jobstore.WithNextRun).
func (s *Store) List() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.insOrder))
	for _, id := range s.insOrder {
		out = append(out, s.WithNextRun(s.byID[id]))
	}
	return out
}

// Get returns the Job with the given id, or acserr.ErrNotFound.
func (s *Store) Get(id uuid.UUID) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.byID[id]
	if !ok {
		return model.Job{}, acserr.NotFoundf("jobstore: job %s not found", id)
	}
	return s.WithNextRun(j), nil
}

// FindByName returns the Job with the given name, or acserr.ErrNotFound.
func (s *Store) FindByName(name string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return model.Job{}, acserr.NotFoundf("jobstore: job named %q not found", name)
	}
	return s.WithNextRun(s.byID[id]), nil
}

// WithNextRun computes next_run_at for j, matching list_jobs in the original
// implementation: disabled jobs, and jobs whose schedule or timezone doesn't
// currently parse, get a nil next_run_at.
func (s *Store) WithNextRun(j model.Job) model.Job {
	if !j.Enabled {
		j.NextRunAt = nil
		return j
	}
	next, err := cronx.NextAfter(j.Schedule, j.Timezone, s.clock.Now())
	if err != nil {
		j.NextRunAt = nil
		return j
	}
	j.NextRunAt = &next
	return j
}

func validate(name, schedule, timezone string, execution model.Execution) error {
	if err := model.IsValidName(name); err != nil {
		return acserr.Validationf("jobstore: invalid name: %v", err)
	}
	if _, err := cronx.Parse(schedule); err != nil {
		return acserr.Validationf("jobstore: invalid schedule: %v", err)
	}
	if _, err := cronx.ResolveZone(timezone); err != nil {
		return acserr.Validationf("jobstore: invalid timezone: %v", err)
	}
	switch execution.Type {
	case model.ExecutionShellCommand, model.ExecutionScriptFile:
	default:
		return acserr.Validationf("jobstore: invalid execution: unknown type %q", execution.Type)
	}
	return nil
}

// Create validates and inserts a new Job, assigning a fresh UUIDv7 id and
// stamping created_at=updated_at=now (spec.md §4.1).
func (s *Store) Create(in model.NewJobInput) (model.Job, error) {
	if err := validate(in.Name, in.Schedule, in.Timezone, in.Execution); err != nil {
		return model.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[in.Name]; exists {
		return model.Job{}, acserr.Conflictf("jobstore: name %q already exists", in.Name)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Job{}, acserr.Storagef("jobstore: generate id: %v", err)
	}
	now := s.clock.Now().UTC()

	j := model.Job{
		ID:             id,
		Name:           in.Name,
		Schedule:       in.Schedule,
		Execution:      in.Execution,
		Enabled:        in.Enabled,
		Timezone:       in.Timezone,
		WorkingDir:     in.WorkingDir,
		EnvVars:        in.EnvVars,
		TimeoutSecs:    in.TimeoutSecs,
		LogEnvironment: in.LogEnvironment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.byID[id] = j
	s.byName[j.Name] = id
	s.insOrder = append(s.insOrder, id)

	if err := s.persistLocked(); err != nil {
		delete(s.byID, id)
		delete(s.byName, j.Name)
		s.insOrder = s.insOrder[:len(s.insOrder)-1]
		return model.Job{}, err
	}

	return s.WithNextRun(j), nil
}

// Update applies patch to the Job with the given id, revalidating every
// field the patch touches, and stamping updated_at=now (spec.md §4.1).
func (s *Store) Update(id uuid.UUID, patch model.JobPatch) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return model.Job{}, acserr.NotFoundf("jobstore: job %s not found", id)
	}

	next := cur.Clone()
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Schedule != nil {
		next.Schedule = *patch.Schedule
	}
	if patch.Execution != nil {
		next.Execution = *patch.Execution
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Timezone != nil {
		next.Timezone = *patch.Timezone
	}
	if patch.WorkingDir != nil {
		next.WorkingDir = *patch.WorkingDir
	}
	if patch.EnvVarsSet {
		next.EnvVars = patch.EnvVars
	}
	if patch.TimeoutSecs != nil {
		next.TimeoutSecs = *patch.TimeoutSecs
	}
	if patch.LogEnvironment != nil {
		next.LogEnvironment = *patch.LogEnvironment
	}

	if err := validate(next.Name, next.Schedule, next.Timezone, next.Execution); err != nil {
		return model.Job{}, err
	}

	if next.Name != cur.Name {
		if otherID, exists := s.byName[next.Name]; exists && otherID != id {
			return model.Job{}, acserr.Conflictf("jobstore: name %q already exists", next.Name)
		}
	}

	next.UpdatedAt = s.clock.Now().UTC()

	s.byID[id] = next
	if next.Name != cur.Name {
		delete(s.byName, cur.Name)
		s.byName[next.Name] = id
	}

	if err := s.persistLocked(); err != nil {
		s.byID[id] = cur
		if next.Name != cur.Name {
			delete(s.byName, next.Name)
			s.byName[cur.Name] = id
		}
		return model.Job{}, err
	}

	return s.WithNextRun(next), nil
}

// Delete removes the Job with the given id. It does not cancel any active
// run of that job; callers are responsible for that (spec.md §4.7).
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return acserr.NotFoundf("jobstore: job %s not found", id)
	}

	delete(s.byID, id)
	delete(s.byName, cur.Name)
	for i, oid := range s.insOrder {
		if oid == id {
			s.insOrder = append(s.insOrder[:i], s.insOrder[i+1:]...)
			break
		}
	}

	if err := s.persistLocked(); err != nil {
		s.byID[id] = cur
		s.byName[cur.Name] = id
		s.insOrder = append(s.insOrder, id)
		sort.Slice(s.insOrder, func(i, j int) bool {
			return s.byID[s.insOrder[i]].CreatedAt.Before(s.byID[s.insOrder[j]].CreatedAt)
		})
		return err
	}

	return nil
}

// SetRunResult is called by the metadata-updater subscriber (spec.md
// §4.10) after a terminal event: it writes last_run_at/last_exit_code
// without revalidating the rest of the Job, and without bumping updated_at
// (this is an internal bookkeeping write, not a user-initiated update).
func (s *Store) SetRunResult(id uuid.UUID, at time.Time, exitCode *int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return acserr.NotFoundf("jobstore: job %s not found", id)
	}

	next := cur.Clone()
	t := at.UTC()
	next.LastRunAt = &t
	next.LastExitCode = exitCode

	s.byID[id] = next
	if err := s.persistLocked(); err != nil {
		s.byID[id] = cur
		return err
	}
	return nil
}
