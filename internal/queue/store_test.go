package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"podscribe/internal/queue"
	"podscribe/internal/services"
	"podscribe/internal/testsupport"
)

func mustAdd(t *testing.T, store *queue.Store, url string) *queue.Task {
	t.Helper()
	task, _, err := store.AddTask(context.Background(), queue.TypeEpisode, queue.Input{SourceURL: url})
	if err != nil {
		t.Fatalf("AddTask(%s): %v", url, err)
	}
	return task
}

func mustClaim(t *testing.T, store *queue.Store) *queue.Task {
	t.Helper()
	task, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task == nil {
		t.Fatal("expected a task to claim")
	}
	return task
}

func TestAddTaskDeduplicatesNonTerminalURL(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, created, err := store.AddTask(ctx, queue.TypeEpisode, queue.Input{SourceURL: "https://example.com/ep1.mp3", Requester: "alice"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if !created || first.Status != queue.StatusPending {
		t.Fatalf("expected new pending task, got created=%v %+v", created, first)
	}

	second, created, err := store.AddTask(ctx, queue.TypeEpisode, queue.Input{SourceURL: " https://example.com/ep1.mp3 "})
	if err != nil {
		t.Fatalf("AddTask duplicate: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected duplicate submission to return task %d, got created=%v id=%d", first.ID, created, second.ID)
	}

	claimed := mustClaim(t, store)
	third := mustAdd(t, store, "https://example.com/ep1.mp3")
	if third.ID != claimed.ID {
		t.Fatalf("expected running task to dedupe, got %d want %d", third.ID, claimed.ID)
	}

	if err := store.Complete(ctx, claimed.ID, map[string]any{"episode_id": 1}, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	fourth, created, err := store.AddTask(ctx, queue.TypeEpisode, queue.Input{SourceURL: "https://example.com/ep1.mp3"})
	if err != nil {
		t.Fatalf("AddTask after terminal: %v", err)
	}
	if !created || fourth.ID == first.ID {
		t.Fatalf("expected a new task once the previous one is terminal, got created=%v id=%d", created, fourth.ID)
	}

	latest, err := store.GetTaskByURL(ctx, "https://example.com/ep1.mp3")
	if err != nil {
		t.Fatalf("GetTaskByURL: %v", err)
	}
	if latest == nil || latest.ID != fourth.ID {
		t.Fatalf("expected most recent task %d, got %+v", fourth.ID, latest)
	}
}

func TestAddTaskConcurrentSubmissionsShareOneTask(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	const callers = 8
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, _, err := store.AddTask(context.Background(), queue.TypeEpisode, queue.Input{SourceURL: "https://example.com/race.mp3"})
			if err != nil {
				t.Errorf("AddTask: %v", err)
				return
			}
			ids[i] = task.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one task id, got %v", ids)
		}
	}
}

func TestAddTaskRejectsInvalidInput(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	tests := []struct {
		name     string
		taskType string
		url      string
	}{
		{"empty url", queue.TypeEpisode, ""},
		{"relative url", queue.TypeEpisode, "/episodes/1.mp3"},
		{"unsupported scheme", queue.TypeEpisode, "ftp://example.com/a.mp3"},
		{"unknown type", "merge", "https://example.com/a.mp3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.AddTask(context.Background(), tc.taskType, queue.Input{SourceURL: tc.url})
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	counts, err := store.QueueStatus(context.Background())
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if counts.Total() != 0 {
		t.Fatalf("expected rejected submissions to leave the queue empty, got %v", counts)
	}
}

func TestLifecycleReadySetsTimestampsAndClearsError(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	added := mustAdd(t, store, "https://example.com/ready.mp3")

	claimed := mustClaim(t, store)
	if claimed.ID != added.ID || claimed.Status != queue.StatusRunning || claimed.StartedAt.IsZero() {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}
	if err := store.Complete(ctx, claimed.ID, map[string]any{"episode_id": 7}, map[string]any{"asr_calls": 2}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	task, err := store.GetTask(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != queue.StatusReady {
		t.Fatalf("expected READY, got %s", task.Status)
	}
	if task.StartedAt.IsZero() || task.CompletedAt.IsZero() || task.StartedAt.After(task.CompletedAt) {
		t.Fatalf("expected startedAt <= completedAt, got %v / %v", task.StartedAt, task.CompletedAt)
	}
	if task.ErrorMessage != "" {
		t.Fatalf("expected no error, got %q", task.ErrorMessage)
	}
	var result map[string]int
	if err := json.Unmarshal([]byte(task.ResultJSON), &result); err != nil || result["episode_id"] != 7 {
		t.Fatalf("unexpected result %q (%v)", task.ResultJSON, err)
	}

	if err := store.Fail(ctx, claimed.ID, "late failure", nil); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to reject Fail, got %v", err)
	}
}

func TestLifecycleFailedKeepsErrorAndDropsResult(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	mustAdd(t, store, "https://example.com/fail.mp3")
	claimed := mustClaim(t, store)

	if err := store.Fail(ctx, claimed.ID, "upstream: asr: transcribe: 502", map[string]any{"stage": "transcribe"}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	task, err := store.GetTask(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != queue.StatusFailed || task.ErrorMessage == "" || task.ResultJSON != "" {
		t.Fatalf("unexpected failed task: %+v", task)
	}
	if task.CompletedAt.IsZero() {
		t.Fatal("expected completedAt on failure")
	}
	if err := store.Complete(ctx, claimed.ID, nil, nil); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to reject Complete, got %v", err)
	}
}

func TestClaimNextIsFIFO(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, mustAdd(t, store, fmt.Sprintf("https://example.com/%d.mp3", i)).ID)
	}
	for _, want := range ids {
		if got := mustClaim(t, store); got.ID != want {
			t.Fatalf("expected FIFO claim of %d, got %d", want, got.ID)
		}
	}
	next, err := store.ClaimNext(context.Background())
	if err != nil || next != nil {
		t.Fatalf("expected empty queue, got %+v (%v)", next, err)
	}
}

func TestQueueStatusZeroFilled(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	mustAdd(t, store, "https://example.com/a.mp3")
	mustAdd(t, store, "https://example.com/b.mp3")
	claimed := mustClaim(t, store)
	if err := store.Fail(ctx, claimed.ID, "boom", nil); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	counts, err := store.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	want := queue.StatusCounts{
		queue.StatusPending: 1,
		queue.StatusRunning: 0,
		queue.StatusReady:   0,
		queue.StatusFailed:  1,
	}
	for status, count := range want {
		if counts[status] != count {
			t.Fatalf("status %s: got %d want %d (%v)", status, counts[status], count, counts)
		}
	}

	failed, err := store.List(ctx, 0, queue.StatusFailed)
	if err != nil || len(failed) != 1 || failed[0].ID != claimed.ID {
		t.Fatalf("unexpected failed list %+v (%v)", failed, err)
	}
	all, err := store.List(ctx, 1)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected limited list of 1, got %d (%v)", len(all), err)
	}
}

func TestRequestCancel(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	task := mustAdd(t, store, "https://example.com/cancel.mp3")

	updated, err := store.RequestCancel(ctx, task.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !updated.CancelRequested || updated.Status != queue.StatusPending {
		t.Fatalf("expected pending task flagged for cancel, got %+v", updated)
	}
	flagged, err := store.CancelRequested(ctx, task.ID)
	if err != nil || !flagged {
		t.Fatalf("expected cancel flag, got %v (%v)", flagged, err)
	}

	claimed := mustClaim(t, store)
	if err := store.Fail(ctx, claimed.ID, queue.CanceledMessage, nil); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := store.RequestCancel(ctx, task.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected terminal task to reject cancel, got %v", err)
	}
	if _, err := store.RequestCancel(ctx, 9999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailStaleAndFailRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	mustAdd(t, store, "https://example.com/stale.mp3")
	mustAdd(t, store, "https://example.com/orphan.mp3")
	stale := mustClaim(t, store)
	orphan := mustClaim(t, store)

	if n, err := store.FailStale(ctx, time.Now().Add(-time.Hour), "heartbeat expired"); err != nil || n != 0 {
		t.Fatalf("expected fresh heartbeats to survive, got %d (%v)", n, err)
	}
	if err := store.UpdateHeartbeat(ctx, orphan.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	n, err := store.FailStale(ctx, time.Now().Add(time.Minute), "heartbeat expired")
	if err != nil || n != 2 {
		t.Fatalf("expected both running tasks to be stale, got %d (%v)", n, err)
	}
	task, err := store.GetTask(ctx, stale.ID)
	if err != nil || task.Status != queue.StatusFailed || task.ErrorMessage != "heartbeat expired" {
		t.Fatalf("unexpected stale task %+v (%v)", task, err)
	}

	mustAdd(t, store, "https://example.com/restart.mp3")
	mustClaim(t, store)
	if n, err := store.FailRunning(ctx, "daemon restarted"); err != nil || n != 1 {
		t.Fatalf("expected one orphaned task, got %d (%v)", n, err)
	}
	if err := store.UpdateHeartbeat(ctx, stale.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected heartbeat on terminal task to fail, got %v", err)
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	task, err := store.GetTask(context.Background(), 42)
	if err != nil || task != nil {
		t.Fatalf("expected nil task, got %+v (%v)", task, err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
