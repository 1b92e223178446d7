// Package dispatch turns admitted tasks into supervised background runs: a
// queue feeds a worker pool that owns the task from PROCESSING to a
// terminal state, whatever the run does.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// Tasks is the slice of the registry the pool needs around a run.
type Tasks interface {
	Get(ctx context.Context, id string) (*domain.Task, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// Publisher notifies observers when the pool force-fails a task.
type Publisher interface {
	Publish(taskID string, ev domain.ProgressEvent)
}

// Runner executes the batch plan for one claimed task. Errors it has already
// folded into the task state may still be returned for logging.
type Runner interface {
	Run(ctx context.Context, task *domain.Task) error
}

// Pool claims admitted task ids and drives their runs. Many tasks execute
// concurrently, one worker each; within a run the stages are sequential.
type Pool struct {
	queue      Queue
	tasks      Tasks
	runner     Runner
	pub        Publisher
	log        zerolog.Logger
	workers    int
	claimDelay time.Duration
}

// NewPool creates a pool with the given parallelism.
func NewPool(queue Queue, tasks Tasks, runner Runner, pub Publisher, log zerolog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		tasks:      tasks,
		runner:     runner,
		pub:        pub,
		log:        log,
		workers:    workers,
		claimDelay: 2 * time.Second,
	}
}

// Dispatch hands an admitted task to the pool. Called exactly once per task
// at submission; the PENDING->PROCESSING guard makes a duplicate id harmless.
func (p *Pool) Dispatch(ctx context.Context, taskID string) error {
	if err := p.queue.Enqueue(ctx, taskID); err != nil {
		return fmt.Errorf("dispatch %s: %w", taskID, err)
	}
	p.log.Info().Str("task_id", taskID).Msg("dispatch: task queued")
	return nil
}

// Run claims and processes tasks until ctx is cancelled, then waits for
// in-flight runs to finish. Run the pool in its own goroutine.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("dispatch: pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobCh {
				p.process(ctx, id)
				if err := p.queue.Ack(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
					p.log.Error().Err(err).Str("task_id", id).Msg("dispatch: ack failed")
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			p.log.Info().Msg("dispatch: pool stopped")
			return
		default:
		}

		id, err := p.queue.Claim(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) && !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("dispatch: claim failed")
				time.Sleep(p.claimDelay)
			}
			continue
		}
		select {
		case jobCh <- id:
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return
		}
	}
}

// process owns one claimed task id. Whatever escapes the runner, including a
// panic, ends with the task in a terminal state rather than stuck in
// PROCESSING.
func (p *Pool) process(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			p.forceFail(ctx, taskID, fmt.Sprintf("unhandled run error: %v", r))
		}
	}()

	task, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		p.log.Error().Err(err).Str("task_id", taskID).Msg("dispatch: claimed unknown task")
		return
	}
	if err := p.tasks.MarkProcessing(ctx, taskID); err != nil {
		// Someone already ran this id; the at-most-once guard held.
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.log.Warn().Str("task_id", taskID).Msg("dispatch: task already claimed, skipping")
			return
		}
		p.log.Error().Err(err).Str("task_id", taskID).Msg("dispatch: mark processing failed")
		return
	}
	task.Status = domain.TaskStatusProcessing

	p.log.Info().Str("task_id", taskID).Str("kind", string(task.Kind)).Msg("dispatch: run started")
	if err := p.runner.Run(ctx, task); err != nil {
		// The runner finalizes the states it understands; anything else is
		// force-failed here so no exception path leaves PROCESSING behind.
		p.forceFail(ctx, taskID, err.Error())
		return
	}
	p.log.Info().Str("task_id", taskID).Msg("dispatch: run finished")
}

func (p *Pool) forceFail(ctx context.Context, taskID, message string) {
	err := p.tasks.MarkFailed(ctx, taskID, message)
	if err == nil {
		p.pub.Publish(taskID, domain.ProgressEvent{
			Status:  domain.TaskStatusFailed,
			Message: "Generation failed",
			Error:   message,
		})
		p.log.Error().Str("task_id", taskID).Str("error", message).Msg("dispatch: run failed")
		return
	}
	if !errors.Is(err, domain.ErrInvalidTransition) {
		p.log.Error().Err(err).Str("task_id", taskID).Msg("dispatch: force fail did not apply")
	}
}
