package pipeline

import (
	"context"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/providers/image"
)

// GenesisInput is the payload for a studio_genesis task: one product photo
// expanded into a full detail-page image set.
type GenesisInput struct {
	ImageURL    string `json:"image_url"`
	Count       int    `json:"count"`
	Style       string `json:"style"`
	AspectRatio string `json:"aspect_ratio"`
}

const (
	genesisSetupEnd     = 30
	genesisDefaultCount = 8
	genesisMaxCount     = 12
)

func (r *Runner) genesisPlan(task *domain.Task) (engine.Plan, error) {
	var in GenesisInput
	if err := decodeInput(task, &in); err != nil {
		return engine.Plan{}, err
	}
	if in.Count <= 0 {
		in.Count = genesisDefaultCount
	}
	if in.Count > genesisMaxCount {
		in.Count = genesisMaxCount
	}
	if in.AspectRatio == "" {
		in.AspectRatio = "3:4"
	}

	setup := func(ctx context.Context, report engine.SetupReporter) ([]engine.Item, error) {
		report(5, "Analyzing product image...")
		product, err := r.analyzer.AnalyzeProduct(ctx, in.ImageURL)
		if err != nil {
			return nil, err
		}

		report(20, "Writing creative prompts...")
		prompts, err := r.analyzer.GeneratePrompts(ctx, product, styleLabel(in.Style), in.Count)
		if err != nil {
			return nil, err
		}

		items := make([]engine.Item, len(prompts))
		for i, p := range prompts {
			p := p
			ratio := p.AspectRatio
			if ratio == "" {
				ratio = in.AspectRatio
			}
			width, height := image.ResolveDimensions(ratio)
			items[i] = engine.Item{Run: func(ctx context.Context) (string, error) {
				result, err := r.generator.Generate(ctx, image.GenerateRequest{
					Prompt:            p.Prompt,
					NegativePrompt:    p.NegativePrompt,
					ReferenceImageURL: in.ImageURL,
					Width:             width,
					Height:            height,
					RequestID:         task.ID,
				})
				if err != nil {
					return "", err
				}
				return result.URL, nil
			}}
		}
		return items, nil
	}

	return engine.Plan{Stage: "generating", SetupEnd: genesisSetupEnd, Setup: setup}, nil
}
