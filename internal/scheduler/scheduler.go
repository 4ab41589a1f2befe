package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
)

// hardMaxConcurrent bounds the semaphore regardless of configuration.
const hardMaxConcurrent = 64

// Processor runs one queue item to a terminal state.
type Processor interface {
	Process(ctx context.Context, item *queue.Item) (pipeline.Result, error)
}

// Scheduler admits queued jobs into a bounded worker pool and fans their
// lifecycle out as events. One batch runs at a time.
type Scheduler struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	memoryPercent func() (float64, error)
	pollInterval  time.Duration

	events chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// Option customizes a Scheduler, mostly for tests.
type Option func(*Scheduler)

// WithMemoryProbe overrides the process memory usage source.
func WithMemoryProbe(probe func() (float64, error)) Option {
	return func(s *Scheduler) {
		if probe != nil {
			s.memoryPercent = probe
		}
	}
}

// WithPollInterval overrides how often a deferred admission rechecks memory.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// New constructs a Scheduler.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	sched := &Scheduler{
		cfg:           cfg,
		store:         store,
		logger:        logging.NewComponentLogger(logger, "scheduler"),
		memoryPercent: processMemoryPercent,
		pollInterval:  time.Duration(cfg.Scheduler.MemoryPollMS) * time.Millisecond,
		events:        make(chan Event, 128),
	}
	if sched.pollInterval <= 0 {
		sched.pollInterval = time.Second
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Events exposes the batch event stream. Events are dropped, not blocked on,
// when no consumer keeps up.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// PublishProgress forwards a job progress update onto the event stream. It is
// intended as the pipeline runner's progress sink.
func (s *Scheduler) PublishProgress(itemID int64, percent int, message string) {
	s.publish(Event{Kind: EventProgress, ItemID: itemID, Percent: percent, Message: message})
}

// CancelAll aborts the running batch. Jobs that have not reached
// transcription are marked cancelled; jobs past that point keep running state
// and are reset on the next startup.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run processes items until all reach a terminal state or the batch is
// cancelled. It returns once every admitted job has finished.
func (s *Scheduler) Run(ctx context.Context, proc Processor, items []*queue.Item) (BatchSummary, error) {
	if proc == nil {
		return BatchSummary{}, errors.New("processor required")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return BatchSummary{}, errors.New("batch already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	limit := s.cfg.Scheduler.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	if limit > hardMaxConcurrent {
		limit = hardMaxConcurrent
	}
	sem := make(chan struct{}, limit)

	var (
		wg        sync.WaitGroup
		completed atomic.Int64
		failed    atomic.Int64
		cancelled atomic.Int64
	)

	for _, item := range items {
		if err := s.admit(runCtx, sem); err != nil {
			s.markUnstarted(context.WithoutCancel(ctx), item)
			cancelled.Add(1)
			continue
		}
		wg.Add(1)
		go func(item *queue.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			switch s.runJob(runCtx, proc, item) {
			case jobCompleted:
				completed.Add(1)
			case jobFailed:
				failed.Add(1)
			case jobCancelled:
				cancelled.Add(1)
			}
		}(item)
	}
	wg.Wait()

	summary := BatchSummary{
		Total:     len(items),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Cancelled: int(cancelled.Load()),
	}
	s.publish(Event{
		Kind:    EventBatchDone,
		Message: fmt.Sprintf("%d completed, %d failed, %d cancelled", summary.Completed, summary.Failed, summary.Cancelled),
	})
	s.logger.Info("batch finished",
		logging.Int("total", summary.Total),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled))
	return summary, nil
}

type jobOutcome int

const (
	jobCompleted jobOutcome = iota
	jobFailed
	jobCancelled
)

func (s *Scheduler) runJob(ctx context.Context, proc Processor, item *queue.Item) jobOutcome {
	result, err := proc.Process(ctx, item)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.markUnstarted(context.WithoutCancel(ctx), item)
			s.publish(Event{Kind: EventFailed, ItemID: item.ID, Message: "cancelled"})
			return jobCancelled
		}
		s.publish(Event{Kind: EventFailed, ItemID: item.ID, Message: err.Error()})
		return jobFailed
	}
	s.publish(Event{
		Kind:     EventCompleted,
		ItemID:   item.ID,
		Percent:  100,
		Artifact: result.ArtifactPath,
	})
	return jobCompleted
}

// admit blocks until memory pressure clears and a worker permit is free.
func (s *Scheduler) admit(ctx context.Context, sem chan struct{}) error {
	if err := s.waitForMemory(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sem <- struct{}{}:
		return nil
	}
}

func (s *Scheduler) waitForMemory(ctx context.Context) error {
	ceiling := s.cfg.Scheduler.MaxMemoryPercent
	if ceiling <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		percent, err := s.memoryPercent()
		if err != nil {
			// Memory state unknown; favor progress over stalling the batch.
			s.logger.Warn("memory probe failed", logging.Error(err))
			return nil
		}
		if percent < ceiling {
			return nil
		}
		s.logger.Info("deferring job admission, memory above ceiling",
			logging.Float64("used_percent", percent),
			logging.Float64("ceiling_percent", ceiling))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// markUnstarted moves a job to cancelled when its state machine still allows
// it. Later-stage jobs stay put for ResetStuckProcessing.
func (s *Scheduler) markUnstarted(ctx context.Context, item *queue.Item) {
	err := s.store.Transition(ctx, item.ID, queue.StatusCancelled)
	if err != nil && !errors.Is(err, queue.ErrInvalidTransition) {
		s.logger.Warn("failed to mark item cancelled",
			logging.Int64(logging.FieldJobID, item.ID),
			logging.Error(err))
	}
}

func (s *Scheduler) publish(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Debug("dropping event, consumer behind",
			logging.String("kind", string(event.Kind)),
			logging.Int64(logging.FieldJobID, event.ItemID))
	}
}

// processMemoryPercent reports this process's resident memory as a
// percentage of total system memory. A loaded host does not stall the batch
// when the process itself is small.
func processMemoryPercent() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	percent, err := proc.MemoryPercent()
	if err != nil {
		return 0, err
	}
	return float64(percent), nil
}
