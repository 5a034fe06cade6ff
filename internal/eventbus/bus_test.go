package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"acsd/internal/model"
)

func newOutputEvent(text string) model.JobEvent {
	jobID, _ := uuid.NewV7()
	runID, _ := uuid.NewV7()
	return model.OutputEvent(model.OutputData{
		JobID: jobID, RunID: runID,
		Data:      model.NewSharedText(text),
		Timestamp: time.Now().UTC(),
	})
}

// TestOutput_SharesBackingAcrossSubscribers is the normative test spec.md
// §4.5/§8 requires: two subscribers receiving the same published Output
// event must observe the same underlying payload allocation, not merely
// equal contents.
func TestOutput_SharesBackingAcrossSubscribers(t *testing.T) {
	bus := New(16)
	subA := bus.Subscribe()
	subB := bus.Subscribe()

	published := newOutputEvent("hello")
	bus.Publish(published)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	evA, lag, err := subA.Recv(ctx)
	if err != nil || lag != 0 {
		t.Fatalf("subA.Recv: event=%+v lag=%d err=%v", evA, lag, err)
	}
	evB, lag, err := subB.Recv(ctx)
	if err != nil || lag != 0 {
		t.Fatalf("subB.Recv: event=%+v lag=%d err=%v", evB, lag, err)
	}

	if !evA.Output.Data.SameBacking(evB.Output.Data) {
		t.Fatalf("two subscribers' copies of the same Output event do not share backing")
	}
	if evA.Output.Data.String() != "hello" || evB.Output.Data.String() != "hello" {
		t.Fatalf("payload contents = %q / %q, want %q", evA.Output.Data.String(), evB.Output.Data.String(), "hello")
	}
}

// TestRecv_LaggedSubscriberResumesAfterOverwrite covers spec.md §8 property
// 9: a subscriber that falls behind by more than the ring capacity observes
// a lag indication, then resumes receiving events published after it.
func TestRecv_LaggedSubscriberResumesAfterOverwrite(t *testing.T) {
	const capacity = 4
	bus := New(capacity)
	sub := bus.Subscribe()

	// Publish enough events to wrap the ring more than once without this
	// subscriber ever calling Recv, so every event it was behind on gets
	// overwritten.
	for i := 0; i < capacity*3; i++ {
		bus.Publish(newOutputEvent("filler"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, lag, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if lag == 0 {
		t.Fatalf("lag = 0, want a positive lag after falling behind by more than the ring capacity")
	}

	// The subscriber's cursor was advanced to the current oldest-available
	// entry, so the capacity filler events still sitting in the ring are
	// delivered, without further lag, before anything published later.
	for i := 0; i < capacity; i++ {
		ev, lag, err := sub.Recv(ctx)
		if err != nil || lag != 0 {
			t.Fatalf("Recv %d after the lag signal: lag=%d err=%v, want lag=0", i, lag, err)
		}
		if ev.Output.Data.String() != "filler" {
			t.Fatalf("Recv %d after the lag signal: content = %q, want %q", i, ev.Output.Data.String(), "filler")
		}
	}

	marker := newOutputEvent("after-lag")
	bus.Publish(marker)

	ev, lag, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv after lag: %v", err)
	}
	if lag != 0 {
		t.Fatalf("Recv for the freshly published event: lag = %d, want 0", lag)
	}
	if ev.Output.Data.String() != "after-lag" {
		t.Fatalf("resumed event content = %q, want %q", ev.Output.Data.String(), "after-lag")
	}
}

func TestRecv_ContextCanceledUnblocks(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := sub.Recv(ctx)
	if err == nil {
		t.Fatalf("expected Recv to return an error for an already-canceled context")
	}
}

func TestClose_UnblocksSubscribers(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, _, err := sub.Recv(ctx); err != ErrClosed {
		t.Fatalf("Recv after Close = %v, want ErrClosed", err)
	}
}
