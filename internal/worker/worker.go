// Package worker executes queued bulk runs one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/crawler"
)

// Runner executes a single bulk run.
type Runner interface {
	Run(ctx context.Context, runID string) crawler.RunSummary
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion event per run when a publisher is set.
	Topic string
	// ScheduleInterval submits a run on a fixed cadence. Zero disables it.
	ScheduleInterval time.Duration
}

// Worker consumes run requests and executes them sequentially.
type Worker struct {
	queue     crawler.Queue
	runner    Runner
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu     sync.RWMutex
	active string
	last   *crawler.RunSummary
}

// New constructs a Worker. publisher may be nil.
func New(
	queue crawler.Queue,
	runner Runner,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		runner:    runner,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Submit queues a run and returns its ID. It fails with
// crawler.ErrRunInProgress when the queue has no room.
func (w *Worker) Submit(trigger string) (string, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	req := crawler.RunRequest{RunID: id, Trigger: trigger, Submitted: w.clock.Now()}
	if !w.queue.TryEnqueue(req) {
		return "", crawler.ErrRunInProgress
	}
	w.logger.Info("run queued", zap.String("run_id", id), zap.String("trigger", trigger))
	return id, nil
}

// Active returns the ID of the run currently executing.
func (w *Worker) Active() (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active, w.active != ""
}

// LastSummary returns the summary of the most recently finished run.
func (w *Worker) LastSummary() (crawler.RunSummary, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return crawler.RunSummary{}, false
	}
	return *w.last, true
}

// Run blocks, consuming requests until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	if w.cfg.ScheduleInterval > 0 {
		go w.schedule(ctx)
	}
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID))
		w.execute(ctx, req)
	}
}

func (w *Worker) execute(ctx context.Context, req crawler.RunRequest) {
	w.setActive(req.RunID)
	defer w.setActive("")

	summary := w.runner.Run(ctx, req.RunID)

	w.mu.Lock()
	w.last = &summary
	w.mu.Unlock()

	if w.publisher == nil {
		return
	}
	// Publish even when ctx is canceled so the final summary still leaves
	// the process.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := w.publisher.Publish(pubCtx, w.cfg.Topic, summary)
	if err != nil {
		w.logger.Error("publish run summary failed", zap.String("run_id", req.RunID), zap.Error(err))
		return
	}
	w.logger.Debug("published run summary", zap.String("run_id", req.RunID), zap.String("message_id", id))
}

func (w *Worker) setActive(id string) {
	w.mu.Lock()
	w.active = id
	w.mu.Unlock()
}

func (w *Worker) schedule(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ScheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Submit("schedule"); err != nil {
				w.logger.Info("scheduled run skipped", zap.Error(err))
			}
		}
	}
}
