package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// fakeRegistry records lifecycle calls with the same clamping and guard
// semantics as the real registry.
type fakeRegistry struct {
	mu        sync.Mutex
	progress  int
	status    domain.TaskStatus
	output    []byte
	errMsg    string
	history   []int
	completes int
	fails     int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{status: domain.TaskStatusProcessing}
}

func (f *fakeRegistry) RecordProgress(_ context.Context, _ string, progress int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != domain.TaskStatusProcessing {
		return f.progress, domain.ErrInvalidTransition
	}
	if progress > f.progress {
		f.progress = progress
	}
	f.history = append(f.history, f.progress)
	return f.progress, nil
}

func (f *fakeRegistry) MarkCompleted(_ context.Context, _ string, output []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != domain.TaskStatusProcessing {
		return domain.ErrInvalidTransition
	}
	f.status = domain.TaskStatusCompleted
	f.progress = 100
	f.output = output
	f.completes++
	return nil
}

func (f *fakeRegistry) MarkFailed(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != domain.TaskStatusProcessing {
		return domain.ErrInvalidTransition
	}
	f.status = domain.TaskStatusFailed
	f.errMsg = message
	f.fails++
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *eventRecorder) Publish(_ string, ev domain.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newTestEngine(reg Registry, pub Publisher) *Engine {
	return New(reg, pub, zerolog.New(io.Discard))
}

func processingTask() *domain.Task {
	return &domain.Task{ID: "t1", UserID: "u1", Kind: domain.TaskKindGenesis, Status: domain.TaskStatusProcessing}
}

// The concrete scenario from the design discussion: setup band 0-30, three
// items, the second one failing. Expected progress: 30, 53, 76, then 100 on
// completion, with all three items in the output in order.
func TestRunBatchWithPartialFailure(t *testing.T) {
	reg := newFakeRegistry()
	rec := &eventRecorder{}
	eng := newTestEngine(reg, rec)

	calls := 0
	plan := Plan{
		Stage:    "generating",
		SetupEnd: 30,
		Setup: func(_ context.Context, report SetupReporter) ([]Item, error) {
			report(30, "Analysis complete")
			items := make([]Item, 3)
			for i := range items {
				i := i
				items[i] = Item{Run: func(context.Context) (string, error) {
					calls++
					if i == 1 {
						return "", errors.New("provider timeout")
					}
					return "https://cdn.example.com/out.png", nil
				}}
			}
			return items, nil
		},
	}

	if err := eng.Run(context.Background(), processingTask(), plan); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("item calls = %d, want 3 (failure must not abort the batch)", calls)
	}
	if reg.status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", reg.status)
	}

	wantProgress := []int{30, 30, 53, 76}
	if len(reg.history) != len(wantProgress) {
		t.Fatalf("progress history = %v, want %v", reg.history, wantProgress)
	}
	for i, p := range wantProgress {
		if reg.history[i] != p {
			t.Fatalf("progress history = %v, want %v", reg.history, wantProgress)
		}
	}

	var out domain.TaskOutput
	if err := json.Unmarshal(reg.output, &out); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("output has %d items, want 3", len(out.Items))
	}
	for i, item := range out.Items {
		if item.Order != i+1 {
			t.Fatalf("item %d has order %d, ordering not preserved", i, item.Order)
		}
	}
	if out.Items[1].Success || out.Items[1].Error != "provider timeout" {
		t.Fatalf("item 2 = %+v, want recorded failure", out.Items[1])
	}
	if !out.Items[0].Success || !out.Items[2].Success {
		t.Fatalf("successful items not preserved: %+v", out.Items)
	}

	last := rec.events[len(rec.events)-1]
	if last.Status != domain.TaskStatusCompleted || last.Progress != 100 {
		t.Fatalf("final event = %+v, want completed/100", last)
	}
	if len(last.OutputImages) != 2 {
		t.Fatalf("final event carries %d images, want 2", len(last.OutputImages))
	}
}

func TestProgressEventsMonotone(t *testing.T) {
	reg := newFakeRegistry()
	rec := &eventRecorder{}
	eng := newTestEngine(reg, rec)

	plan := Plan{
		Stage:    "generating",
		SetupEnd: 30,
		Setup: func(_ context.Context, report SetupReporter) ([]Item, error) {
			report(5, "Analyzing product image...")
			report(20, "Writing creative prompts...")
			// Out-of-band regression must be clamped, not delivered.
			report(10, "stale update")
			items := make([]Item, 4)
			for i := range items {
				items[i] = Item{Run: func(context.Context) (string, error) { return "https://x/1.png", nil }}
			}
			return items, nil
		},
	}
	if err := eng.Run(context.Background(), processingTask(), plan); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	prev := -1
	for _, ev := range rec.events {
		if ev.Progress < prev {
			t.Fatalf("event progress regressed: %d after %d", ev.Progress, prev)
		}
		prev = ev.Progress
	}
	if prev != 100 {
		t.Fatalf("final progress = %d, want 100", prev)
	}
}

func TestSetupFailureFailsTask(t *testing.T) {
	reg := newFakeRegistry()
	rec := &eventRecorder{}
	eng := newTestEngine(reg, rec)

	itemRan := false
	plan := Plan{
		Stage:    "analyzing",
		SetupEnd: 30,
		Setup: func(context.Context, SetupReporter) ([]Item, error) {
			return []Item{{Run: func(context.Context) (string, error) {
				itemRan = true
				return "", nil
			}}}, errors.New("analysis provider unreachable")
		},
	}
	if err := eng.Run(context.Background(), processingTask(), plan); err == nil {
		t.Fatalf("Run() expected error on setup failure")
	}
	if itemRan {
		t.Fatalf("no items may run after setup failure")
	}
	if reg.status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", reg.status)
	}
	if reg.errMsg != "setup: analysis provider unreachable" {
		t.Fatalf("error message = %q", reg.errMsg)
	}
	last := rec.events[len(rec.events)-1]
	if last.Status != domain.TaskStatusFailed || last.Error == "" {
		t.Fatalf("final event = %+v, want failed with error", last)
	}
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	reg := newFakeRegistry()
	rec := &eventRecorder{}
	eng := newTestEngine(reg, rec)

	plan := Plan{
		Stage:    "generating",
		SetupEnd: 30,
		Setup: func(context.Context, SetupReporter) ([]Item, error) {
			return nil, nil
		},
	}
	if err := eng.Run(context.Background(), processingTask(), plan); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if reg.status != domain.TaskStatusCompleted || reg.progress != 100 {
		t.Fatalf("task = %s/%d, want completed/100", reg.status, reg.progress)
	}
	var out domain.TaskOutput
	if err := json.Unmarshal(reg.output, &out); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if len(out.Items) != 0 {
		t.Fatalf("output items = %d, want 0", len(out.Items))
	}
}

func TestAllItemsFailStillCompletes(t *testing.T) {
	reg := newFakeRegistry()
	rec := &eventRecorder{}
	eng := newTestEngine(reg, rec)

	plan := Plan{
		SetupEnd: 20,
		Setup: func(context.Context, SetupReporter) ([]Item, error) {
			items := make([]Item, 2)
			for i := range items {
				items[i] = Item{Run: func(context.Context) (string, error) { return "", errors.New("boom") }}
			}
			return items, nil
		},
	}
	if err := eng.Run(context.Background(), processingTask(), plan); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if reg.status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed (best-effort semantics)", reg.status)
	}
	var out domain.TaskOutput
	_ = json.Unmarshal(reg.output, &out)
	if len(out.Items) != 2 || out.Items[0].Success || out.Items[1].Success {
		t.Fatalf("output = %+v, want 2 failed items", out.Items)
	}
	if len(out.ImageURLs()) != 0 {
		t.Fatalf("no image urls expected, got %v", out.ImageURLs())
	}
}
