// Package engine drives the batch stage plan for one task: a one-time
// setup stage followed by an ordered sequence of per-item generation calls,
// with per-item failure isolation and blended progress reporting.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// Registry is the slice of the task registry the engine mutates during a
// run. The engine is the sole writer of progress and output for its task.
type Registry interface {
	RecordProgress(ctx context.Context, id string, progress int) (int, error)
	MarkCompleted(ctx context.Context, id string, output []byte) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// Publisher fans progress events out to live observers.
type Publisher interface {
	Publish(taskID string, ev domain.ProgressEvent)
}

// Item is one planned unit of batch work. Run returns the generated image
// URL or the error isolated to this item.
type Item struct {
	Run func(ctx context.Context) (string, error)
}

// SetupReporter lets the setup stage surface intermediate progress. Values
// are interpreted on the global 0-100 scale and clamped to the setup band.
type SetupReporter func(progress int, message string)

// Plan describes one task run. Setup executes exactly once and yields the
// ordered item list; SetupEnd is the global progress value reached when
// setup completes, so items occupy the (SetupEnd, 100] band.
type Plan struct {
	Stage    string
	SetupEnd int
	Setup    func(ctx context.Context, report SetupReporter) ([]Item, error)
}

// Engine executes plans. Items within one task run strictly sequentially:
// each result feeds the reported progress and the provider is invoked one
// call at a time per task. Separate tasks run in independent engine calls.
type Engine struct {
	registry Registry
	pub      Publisher
	log      zerolog.Logger
}

// New constructs an engine writing through the given registry and publisher.
func New(registry Registry, pub Publisher, log zerolog.Logger) *Engine {
	return &Engine{registry: registry, pub: pub, log: log}
}

// Run executes the plan for the task. A setup failure marks the task failed
// and is the only way batch work produces a failed task; per-item errors are
// recorded inline and never abort the batch. The returned error reports what
// went wrong for logging, with the task already finalized.
func (e *Engine) Run(ctx context.Context, task *domain.Task, plan Plan) error {
	if plan.Setup == nil {
		return e.fail(ctx, task.ID, plan.Stage, "no pipeline configured for task")
	}
	setupEnd := plan.SetupEnd
	if setupEnd < 0 {
		setupEnd = 0
	}
	if setupEnd > 100 {
		setupEnd = 100
	}

	report := func(progress int, message string) {
		if progress > setupEnd {
			progress = setupEnd
		}
		eff, err := e.registry.RecordProgress(ctx, task.ID, progress)
		if err != nil {
			e.log.Warn().Err(err).Str("task_id", task.ID).Msg("engine: setup progress update rejected")
			return
		}
		e.pub.Publish(task.ID, domain.ProgressEvent{
			Status:   domain.TaskStatusProcessing,
			Stage:    plan.Stage,
			Progress: eff,
			Message:  message,
		})
	}

	items, err := plan.Setup(ctx, report)
	if err != nil {
		return e.fail(ctx, task.ID, plan.Stage, fmt.Sprintf("setup: %v", err))
	}

	total := len(items)
	if total > 0 {
		report(setupEnd, fmt.Sprintf("Generating %d images...", total))
	}

	results := make([]domain.BatchItem, 0, total)
	var images []string
	itemWeight := 100 - setupEnd

	for i, item := range items {
		url, itemErr := item.Run(ctx)
		result := domain.BatchItem{Order: i + 1, Success: itemErr == nil, ImageURL: url}
		if itemErr != nil {
			// Isolated failure: record it and move on to the next item.
			result.Error = itemErr.Error()
			e.log.Warn().Err(itemErr).Str("task_id", task.ID).Int("order", i+1).Msg("engine: batch item failed")
		} else {
			images = append(images, url)
		}
		results = append(results, result)

		// The final item's progress coincides with completion below, so the
		// stored value only reaches 100 together with the completed status.
		if i+1 == total {
			break
		}
		progress := setupEnd + (i+1)*itemWeight/total
		eff, perr := e.registry.RecordProgress(ctx, task.ID, progress)
		if perr != nil {
			e.log.Warn().Err(perr).Str("task_id", task.ID).Msg("engine: item progress update rejected")
			eff = progress
		}
		e.pub.Publish(task.ID, domain.ProgressEvent{
			Status:       domain.TaskStatusProcessing,
			Stage:        plan.Stage,
			Progress:     eff,
			Current:      i + 1,
			Total:        total,
			Message:      fmt.Sprintf("Generating image %d/%d...", i+1, total),
			OutputImages: images,
			Error:        result.Error,
		})
	}

	output := domain.TaskOutput{Items: results}
	payload, err := json.Marshal(output)
	if err != nil {
		return e.fail(ctx, task.ID, plan.Stage, fmt.Sprintf("encode output: %v", err))
	}
	if err := e.registry.MarkCompleted(ctx, task.ID, payload); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	e.pub.Publish(task.ID, domain.ProgressEvent{
		Status:       domain.TaskStatusCompleted,
		Stage:        plan.Stage,
		Progress:     100,
		Current:      total,
		Total:        total,
		Message:      "Generation complete",
		OutputImages: output.ImageURLs(),
	})
	return nil
}

// fail finalizes the task as failed and notifies observers.
func (e *Engine) fail(ctx context.Context, taskID, stage, message string) error {
	if err := e.registry.MarkFailed(ctx, taskID, message); err != nil {
		return fmt.Errorf("fail task %s (%s): %w", taskID, message, err)
	}
	e.pub.Publish(taskID, domain.ProgressEvent{
		Status:  domain.TaskStatusFailed,
		Stage:   stage,
		Message: "Generation failed",
		Error:   message,
	})
	return fmt.Errorf("task %s failed: %s", taskID, message)
}
