package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SharedText is a reference-counted-by-convention immutable text payload.
//
// Event.Output carries one of these so that fanning the same Output event
// out to many subscribers shares the underlying bytes by pointer rather than
// copying them per-subscriber (spec.md §5, the normative test in §8.8).
// Go string headers already point at immutable backing arrays, but plain
// `string` equality (==) compares *contents*, not identity — SharedText
// wraps a pointer so identity is directly observable and so every copy of
// an Event.Output is guaranteed to reference one allocation.
type SharedText struct {
	ptr *string
}

// NewSharedText allocates a new shared payload.
func NewSharedText(s string) SharedText {
	v := s
	return SharedText{ptr: &v}
}

// String returns the payload's contents.
func (s SharedText) String() string {
	if s.ptr == nil {
		return ""
	}
	return *s.ptr
}

// SameBacking reports whether s and o share the same underlying allocation.
func (s SharedText) SameBacking(o SharedText) bool {
	return s.ptr == o.ptr
}

func (s SharedText) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SharedText) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = NewSharedText(str)
	return nil
}

// JobChangeKind enumerates the reasons a JobChanged event fires.
type JobChangeKind string

const (
	JobAdded    JobChangeKind = "Added"
	JobUpdated  JobChangeKind = "Updated"
	JobRemoved  JobChangeKind = "Removed"
	JobEnabled  JobChangeKind = "Enabled"
	JobDisabled JobChangeKind = "Disabled"
)

// EventType is the discriminant of a JobEvent (spec.md §3, §6).
type EventType string

const (
	EventStarted     EventType = "started"
	EventOutput      EventType = "output"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventJobChanged  EventType = "job_changed"
)

// JobEvent is the discriminated union carried over the Event Bus.
//
// Exactly one of the Started/Output/Completed/Failed/JobChanged fields is
// meaningful for a given Type; the others are zero. This mirrors the wire
// shape from spec.md §6 ({"event": ..., "data": ...}) while staying a plain
// Go struct in memory — MarshalJSON below produces the wire shape on demand.
type JobEvent struct {
	Type EventType

	Started    *StartedData
	Output     *OutputData
	Completed  *CompletedData
	Failed     *FailedData
	JobChanged *JobChangedData
}

type StartedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	JobName   string    `json:"job_name"`
	Timestamp time.Time `json:"timestamp"`
}

type OutputData struct {
	JobID     uuid.UUID  `json:"job_id"`
	RunID     uuid.UUID  `json:"run_id"`
	Data      SharedText `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
}

type CompletedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	ExitCode  int32     `json:"exit_code"`
	Timestamp time.Time `json:"timestamp"`
}

type FailedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type JobChangedData struct {
	JobID     uuid.UUID     `json:"job_id"`
	Change    JobChangeKind `json:"change"`
	Timestamp time.Time     `json:"timestamp"`
}

func StartedEvent(d StartedData) JobEvent       { return JobEvent{Type: EventStarted, Started: &d} }
func OutputEvent(d OutputData) JobEvent         { return JobEvent{Type: EventOutput, Output: &d} }
func CompletedEvent(d CompletedData) JobEvent   { return JobEvent{Type: EventCompleted, Completed: &d} }
func FailedEvent(d FailedData) JobEvent         { return JobEvent{Type: EventFailed, Failed: &d} }
func JobChangedEvent(d JobChangedData) JobEvent { return JobEvent{Type: EventJobChanged, JobChanged: &d} }

// Timestamp returns the event's emission time regardless of variant.
func (e JobEvent) Timestamp() time.Time {
	switch e.Type {
	case EventStarted:
		return e.Started.Timestamp
	case EventOutput:
		return e.Output.Timestamp
	case EventCompleted:
		return e.Completed.Timestamp
	case EventFailed:
		return e.Failed.Timestamp
	case EventJobChanged:
		return e.JobChanged.Timestamp
	default:
		return time.Time{}
	}
}

// payload selects the variant-specific data for wire encoding.
func (e JobEvent) payload() any {
	switch e.Type {
	case EventStarted:
		return e.Started
	case EventOutput:
		return e.Output
	case EventCompleted:
		return e.Completed
	case EventFailed:
		return e.Failed
	case EventJobChanged:
		return e.JobChanged
	default:
		return nil
	}
}

// MarshalJSON produces the {"event": "...", "data": {...}} wire shape from
// spec.md §6 (the lowercase snake_case event names are the SSE event types;
// this core module doesn't speak SSE itself, but it owns the wire shape the
// transport layer re-emits verbatim).
func (e JobEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event EventType `json:"event"`
		Data  any       `json:"data"`
	}{Event: e.Type, Data: e.payload()})
}
