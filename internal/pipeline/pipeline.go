// Package pipeline translates a task's kind and input payload into the
// batch stage plan the engine executes: which setup calls run once, and
// which generation calls make up the per-item sequence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/providers/analysis"
	"studio/internal/providers/image"
)

// Analyzer is the setup-stage provider contract.
type Analyzer interface {
	AnalyzeProduct(ctx context.Context, imageURL string) (json.RawMessage, error)
	ExtractStyle(ctx context.Context, imageURL string) (analysis.StyleDNA, error)
	GeneratePrompts(ctx context.Context, product json.RawMessage, style string, count int) ([]analysis.Prompt, error)
	EnhancePrompt(ctx context.Context, prompt string) (string, error)
}

// Runner builds the plan for a claimed task and hands it to the engine.
// It implements the dispatcher's Runner contract.
type Runner struct {
	engine    *engine.Engine
	analyzer  Analyzer
	generator image.Generator
	log       zerolog.Logger
}

// NewRunner wires the pipeline around its providers.
func NewRunner(eng *engine.Engine, analyzer Analyzer, generator image.Generator, log zerolog.Logger) *Runner {
	return &Runner{engine: eng, analyzer: analyzer, generator: generator, log: log}
}

// Run executes the task's pipeline. Input decoding errors surface as plain
// errors; the dispatcher turns them into a failed task.
func (r *Runner) Run(ctx context.Context, task *domain.Task) error {
	plan, err := r.planFor(task)
	if err != nil {
		return err
	}
	return r.engine.Run(ctx, task, plan)
}

func (r *Runner) planFor(task *domain.Task) (engine.Plan, error) {
	switch task.Kind {
	case domain.TaskKindGenesis:
		return r.genesisPlan(task)
	case domain.TaskKindMirror:
		return r.mirrorPlan(task)
	case domain.TaskKindRefinement:
		return r.refinementPlan(task)
	}
	return engine.Plan{}, fmt.Errorf("plan for task %s: %w: %s", task.ID, domain.ErrUnsupportedKind, task.Kind)
}

func decodeInput(task *domain.Task, v any) error {
	if err := json.Unmarshal(task.InputJSON, v); err != nil {
		return fmt.Errorf("decode %s input: %w", task.Kind, err)
	}
	return nil
}
