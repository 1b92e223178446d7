package pipeline

import (
	"context"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/providers/image"
)

// RefinementInput is the payload for a refinement task: regenerate one
// image under an edited prompt.
type RefinementInput struct {
	ImageURL       string  `json:"image_url"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Strength       float64 `json:"strength"`
	AspectRatio    string  `json:"aspect_ratio"`
}

const (
	refinementSetupEnd = 20
	refinementStrength = 0.75
)

func (r *Runner) refinementPlan(task *domain.Task) (engine.Plan, error) {
	var in RefinementInput
	if err := decodeInput(task, &in); err != nil {
		return engine.Plan{}, err
	}
	if in.Strength <= 0 || in.Strength > 1 {
		in.Strength = refinementStrength
	}
	width, height := image.ResolveDimensions(in.AspectRatio)

	setup := func(ctx context.Context, report engine.SetupReporter) ([]engine.Item, error) {
		report(10, "Enhancing prompt...")
		prompt, err := r.analyzer.EnhancePrompt(ctx, in.Prompt)
		if err != nil {
			return nil, err
		}

		item := engine.Item{Run: func(ctx context.Context) (string, error) {
			result, err := r.generator.Generate(ctx, image.GenerateRequest{
				Prompt:            prompt,
				NegativePrompt:    in.NegativePrompt,
				ReferenceImageURL: in.ImageURL,
				Strength:          in.Strength,
				Width:             width,
				Height:            height,
				RequestID:         task.ID,
			})
			if err != nil {
				return "", err
			}
			return result.URL, nil
		}}
		return []engine.Item{item}, nil
	}

	return engine.Plan{Stage: "generating", SetupEnd: refinementSetupEnd, Setup: setup}, nil
}
