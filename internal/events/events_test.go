package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"podscribe/internal/episodes"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEmitterDeliversToEverySinkDespiteFailures(t *testing.T) {
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("ntfy unreachable") })
	panicking := SinkFunc(func(context.Context, Event) error { panic("boom") })
	recorder := &recordingSink{}
	emitter := NewEmitter(8, nil, failing, panicking, recorder)

	emitter.Emit(Event{Type: TaskQueued, TaskID: 1})
	emitter.Emit(Event{Type: TaskCompleted, TaskID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := recorder.snapshot()
	if len(got) != 2 || got[0].Type != TaskQueued || got[1].Type != TaskCompleted {
		t.Fatalf("unexpected delivered events %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("expected emit time to be stamped")
	}

	emitter.Emit(Event{Type: TaskFailed})
	if len(recorder.snapshot()) != 2 {
		t.Fatal("emit after close should be ignored")
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(ctx context.Context, _ Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	emitter := NewEmitter(1, nil, blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			emitter.Emit(Event{Type: StageStarted})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	if emitter.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	close(release)
	_ = emitter.Close(context.Background())
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *Emitter
	emitter.Emit(Event{Type: TaskQueued})
	if err := emitter.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHubFetchWaitsForEvents(t *testing.T) {
	hub := NewHub(3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan []Event, 1)
	go func() {
		events, _, _ := hub.Fetch(ctx, 0, 10, true)
		result <- events
	}()
	time.Sleep(20 * time.Millisecond)
	hub.Publish(Event{Type: TaskStarted, TaskID: 7})

	select {
	case events := <-result:
		if len(events) != 1 || events[0].Sequence != 1 || events[0].TaskID != 7 {
			t.Fatalf("unexpected events %+v", events)
		}
	case <-ctx.Done():
		t.Fatal("Fetch did not wake")
	}
}

func TestHubEvictsOldestAndResumes(t *testing.T) {
	hub := NewHub(2)
	for i := 0; i < 3; i++ {
		hub.Publish(Event{Type: StageStarted})
	}
	tail, next := hub.Tail(0)
	if len(tail) != 2 || tail[0].Sequence != 2 || next != 3 {
		t.Fatalf("unexpected tail %+v next=%d", tail, next)
	}
	events, _, err := hub.Fetch(context.Background(), 2, 10, false)
	if err != nil || len(events) != 1 || events[0].Sequence != 3 {
		t.Fatalf("unexpected fetch %+v err=%v", events, err)
	}
	if events, _, _ := hub.Fetch(context.Background(), 3, 10, false); len(events) != 0 {
		t.Fatalf("expected nothing after latest sequence, got %+v", events)
	}
}

func TestHubFetchLimitKeepsCursor(t *testing.T) {
	hub := NewHub(10)
	for i := 0; i < 3; i++ {
		hub.Publish(Event{Type: StageStarted})
	}
	first, next, err := hub.Fetch(context.Background(), 0, 2, false)
	if err != nil || len(first) != 2 || next != 2 {
		t.Fatalf("unexpected first page %+v next=%d err=%v", first, next, err)
	}
	rest, next, err := hub.Fetch(context.Background(), next, 2, false)
	if err != nil || len(rest) != 1 || rest[0].Sequence != 3 || next != 3 {
		t.Fatalf("unexpected second page %+v next=%d err=%v", rest, next, err)
	}
}

func TestHubFetchHonorsCancellation(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

type fakeRecorder struct {
	events []episodes.AccessEvent
}

func (f *fakeRecorder) RecordAccess(_ context.Context, event episodes.AccessEvent) error {
	f.events = append(f.events, event)
	return nil
}

func TestAccessLogRecordsOnlyAccessEvents(t *testing.T) {
	recorder := &fakeRecorder{}
	sink := NewAccessLog(recorder)
	ctx := context.Background()
	_ = sink.Handle(ctx, Event{Type: TaskQueued, TaskID: 1})
	_ = sink.Handle(ctx, Event{Type: AnswerServed, EpisodeID: 4, Detail: "what was said?"})
	_ = sink.Handle(ctx, Event{Type: EpisodeRead, EpisodeID: 4})

	if len(recorder.events) != 2 || recorder.events[0].Type != "answer_served" || recorder.events[1].EpisodeID != 4 {
		t.Fatalf("unexpected access rows %+v", recorder.events)
	}
}
