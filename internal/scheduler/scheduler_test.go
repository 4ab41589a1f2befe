package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
)

type fakeProcessor struct {
	delay   time.Duration
	failIDs map[int64]bool
	started chan int64

	mu        sync.Mutex
	active    int
	maxActive int
}

func (f *fakeProcessor) Process(ctx context.Context, item *queue.Item) (pipeline.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.started != nil {
		select {
		case f.started <- item.ID:
		default:
		}
	}

	select {
	case <-ctx.Done():
		return pipeline.Result{}, ctx.Err()
	case <-time.After(f.delay):
	}
	if f.failIDs[item.ID] {
		return pipeline.Result{}, errors.New("inference unavailable")
	}
	return pipeline.Result{ArtifactPath: item.SourcePath + ".srt"}, nil
}

func quietMemory() (float64, error) { return 10, nil }

func newTestScheduler(t *testing.T, cfg *config.Config, opts ...Option) (*Scheduler, *queue.Store) {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	opts = append([]Option{WithMemoryProbe(quietMemory)}, opts...)
	return New(cfg, store, logging.NewNop(), opts...), store
}

func enqueueItems(t *testing.T, store *queue.Store, n int) []*queue.Item {
	t.Helper()
	items := make([]*queue.Item, 0, n)
	for i := 0; i < n; i++ {
		item, err := store.NewItem(context.Background(), filepath.Join("/media", "file", string(rune('a'+i))+".mkv"), "en")
		if err != nil {
			t.Fatalf("NewItem: %v", err)
		}
		items = append(items, item)
	}
	return items
}

func drainEvents(s *Scheduler) []Event {
	var events []Event
	for {
		select {
		case event := <-s.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.MaxConcurrent = 2
	proc := &fakeProcessor{delay: 20 * time.Millisecond}
	sched, store := newTestScheduler(t, &cfg)
	items := enqueueItems(t, store, 6)

	summary, err := sched.Run(context.Background(), proc, items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 6 {
		t.Fatalf("completed = %d, want 6", summary.Completed)
	}
	if proc.maxActive > 2 {
		t.Fatalf("observed %d concurrent jobs, want at most 2", proc.maxActive)
	}
}

func TestRunDefersAdmissionUnderMemoryPressure(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.MaxConcurrent = 2
	cfg.Scheduler.MaxMemoryPercent = 80

	var probes atomic.Int64
	probe := func() (float64, error) {
		if probes.Add(1) <= 3 {
			return 95, nil
		}
		return 40, nil
	}
	proc := &fakeProcessor{delay: time.Millisecond}
	sched, store := newTestScheduler(t, &cfg, WithMemoryProbe(probe), WithPollInterval(time.Millisecond))
	items := enqueueItems(t, store, 3)

	summary, err := sched.Run(context.Background(), proc, items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 3 {
		t.Fatalf("completed = %d, want 3", summary.Completed)
	}
	if probes.Load() <= 3 {
		t.Fatalf("probe called %d times, expected deferred admission to repoll", probes.Load())
	}
}

func TestCancelAllStopsBatch(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.MaxConcurrent = 1
	proc := &fakeProcessor{delay: time.Minute, started: make(chan int64, 1)}
	sched, store := newTestScheduler(t, &cfg)
	items := enqueueItems(t, store, 3)

	type runResult struct {
		summary BatchSummary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		summary, err := sched.Run(context.Background(), proc, items)
		done <- runResult{summary, err}
	}()

	select {
	case <-proc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}
	sched.CancelAll()

	var result runResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after CancelAll")
	}
	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	if result.summary.Cancelled != 3 {
		t.Fatalf("cancelled = %d, want 3", result.summary.Cancelled)
	}

	for _, item := range items {
		updated, err := store.GetByID(context.Background(), item.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if updated.Status != queue.StatusCancelled {
			t.Fatalf("item %d status = %s, want cancelled", item.ID, updated.Status)
		}
	}
}

func TestEventsReportOutcomes(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.MaxConcurrent = 1
	proc := &fakeProcessor{delay: time.Millisecond, failIDs: map[int64]bool{}}
	sched, store := newTestScheduler(t, &cfg)
	items := enqueueItems(t, store, 2)
	proc.failIDs[items[1].ID] = true

	summary, err := sched.Run(context.Background(), proc, items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 completed and 1 failed", summary)
	}

	var sawCompleted, sawFailed, sawBatchDone bool
	for _, event := range drainEvents(sched) {
		switch event.Kind {
		case EventCompleted:
			sawCompleted = event.ItemID == items[0].ID && event.Artifact != ""
		case EventFailed:
			sawFailed = event.ItemID == items[1].ID && event.Message != ""
		case EventBatchDone:
			sawBatchDone = true
		}
	}
	if !sawCompleted || !sawFailed || !sawBatchDone {
		t.Fatalf("events missing: completed=%v failed=%v batch_done=%v", sawCompleted, sawFailed, sawBatchDone)
	}
}

func TestPublishProgressEmitsEvent(t *testing.T) {
	cfg := config.Default()
	sched, _ := newTestScheduler(t, &cfg)

	sched.PublishProgress(7, 42, "transcribed chunk 3/7")

	events := drainEvents(sched)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != EventProgress || events[0].ItemID != 7 || events[0].Percent != 42 {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestProcessMemoryProbeReportsOwnFootprint(t *testing.T) {
	percent, err := processMemoryPercent()
	if err != nil {
		t.Skipf("process memory unavailable on this platform: %v", err)
	}
	if percent < 0 || percent > 100 {
		t.Fatalf("memory percent = %v, want within [0, 100]", percent)
	}
}
