package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salonkit/campaignd/internal/metrics"
	"github.com/salonkit/campaignd/internal/queue"
)

// TaskQueue is the runner's view of the durable task store.
type TaskQueue interface {
	Dequeue(ctx context.Context, now time.Time) (*queue.Task, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, task *queue.Task, at time.Time, lastErr string) error
	Stats(ctx context.Context) (*queue.Stats, error)
}

// RunnerConfig tunes the polling loop.
type RunnerConfig struct {
	PollInterval time.Duration
	Concurrency  int
	RetryDelay   time.Duration
	MaxAttempts  int
}

// Runner polls the task store for due work and hands each task to the
// orchestrator. A failing task is retried with a fixed delay until it
// exhausts its attempts.
type Runner struct {
	queue        TaskQueue
	orchestrator *Orchestrator
	cfg          RunnerConfig
	logger       *slog.Logger
	wg           sync.WaitGroup
}

func NewRunner(q TaskQueue, o *Orchestrator, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Runner{
		queue:        q,
		orchestrator: o,
		cfg:          cfg,
		logger:       logger.With("component", "runner"),
	}
}

// Start runs the polling loop until the context is cancelled, then waits
// for in-flight tasks to finish.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("runner started",
		"poll_interval", r.cfg.PollInterval, "concurrency", r.cfg.Concurrency)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, r.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("runner stopped")
			return
		case <-ticker.C:
			r.drain(ctx, sem)
			r.reportStats(ctx)
		}
	}
}

// drain claims every currently-due task and executes each on its own
// goroutine, bounded by the semaphore.
func (r *Runner) drain(ctx context.Context, sem chan struct{}) {
	for {
		task, err := r.queue.Dequeue(ctx, time.Now())
		if err != nil {
			r.logger.Error("failed to dequeue task", "error", err)
			return
		}
		if task == nil {
			return
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Put the claim back so the task fires on the next start.
			if err := r.queue.Retry(context.Background(), task, task.RunAt, ""); err != nil {
				r.logger.Error("failed to release task", "task_id", task.ID, "error", err)
			}
			return
		}

		r.wg.Add(1)
		go func(task *queue.Task) {
			defer func() {
				<-sem
				r.wg.Done()
			}()
			r.execute(ctx, task)
		}(task)
	}
}

func (r *Runner) execute(ctx context.Context, task *queue.Task) {
	r.logger.Info("executing task",
		"task_id", task.ID, "kind", task.Kind,
		"campaign_id", task.CampaignID, "attempt", task.Attempts)

	if err := r.orchestrator.ExecuteTask(ctx, task); err != nil {
		if task.Attempts >= r.cfg.MaxAttempts {
			r.logger.Error("task failed permanently",
				"task_id", task.ID, "campaign_id", task.CampaignID,
				"attempts", task.Attempts, "error", err)
			if err := r.queue.Complete(ctx, task.ID); err != nil {
				r.logger.Error("failed to drop exhausted task", "task_id", task.ID, "error", err)
			}
			return
		}

		at := time.Now().Add(r.cfg.RetryDelay)
		r.logger.Warn("task failed, retrying",
			"task_id", task.ID, "campaign_id", task.CampaignID,
			"retry_at", at, "error", err)
		if err := r.queue.Retry(ctx, task, at, err.Error()); err != nil {
			r.logger.Error("failed to schedule retry", "task_id", task.ID, "error", err)
		}
		return
	}

	if err := r.queue.Complete(ctx, task.ID); err != nil {
		r.logger.Error("failed to complete task", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) reportStats(ctx context.Context) {
	st, err := r.queue.Stats(ctx)
	if err != nil {
		r.logger.Error("failed to read queue stats", "error", err)
		return
	}
	metrics.SetTaskCounts(st.Pending, st.Running)
}
