package pipeline

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/providers/image"
)

// MirrorInput is the payload for an aesthetic_mirror task: replicate the
// look of a reference image onto the user's product photo.
type MirrorInput struct {
	ProductImageURL string  `json:"product_image_url"`
	StyleImageURL   string  `json:"style_image_url"`
	Strength        float64 `json:"strength"`
	AspectRatio     string  `json:"aspect_ratio"`
}

const (
	mirrorSetupEnd     = 50
	mirrorVariantCount = 4
	mirrorStrength     = 0.7
)

func (r *Runner) mirrorPlan(task *domain.Task) (engine.Plan, error) {
	var in MirrorInput
	if err := decodeInput(task, &in); err != nil {
		return engine.Plan{}, err
	}
	if in.Strength <= 0 || in.Strength > 1 {
		in.Strength = mirrorStrength
	}
	width, height := image.ResolveDimensions(in.AspectRatio)

	setup := func(ctx context.Context, report engine.SetupReporter) ([]engine.Item, error) {
		report(10, "Extracting style DNA...")
		dna, err := r.analyzer.ExtractStyle(ctx, in.StyleImageURL)
		if err != nil {
			return nil, err
		}

		report(25, "Analyzing product image...")
		if _, err := r.analyzer.AnalyzeProduct(ctx, in.ProductImageURL); err != nil {
			return nil, err
		}

		items := make([]engine.Item, mirrorVariantCount)
		for i := range items {
			prompt := fmt.Sprintf("%s, professional e-commerce image, variant %d", dna.ReplicationPrompt, i+1)
			items[i] = engine.Item{Run: func(ctx context.Context) (string, error) {
				result, err := r.generator.Generate(ctx, image.GenerateRequest{
					Prompt:            prompt,
					NegativePrompt:    image.StyleNegativePrompt,
					ReferenceImageURL: in.ProductImageURL,
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
		}
		return items, nil
	}

	return engine.Plan{Stage: "generating", SetupEnd: mirrorSetupEnd, Setup: setup}, nil
}
