package image

import "context"

// Default negative prompts applied when the caller supplies none.
const (
	DefaultNegativePrompt = "blurry, low quality, distorted, ugly, deformed, watermark, text, logo, signature, bad anatomy, bad proportions"
	StyleNegativePrompt   = "blurry, low quality, distorted, deformed product, wrong proportions, watermark"
)

// GenerateRequest is the normalized request passed to the image provider.
// ReferenceImageURL switches the provider into image-to-image mode with the
// given strength.
type GenerateRequest struct {
	Prompt            string
	NegativePrompt    string
	ReferenceImageURL string
	Strength          float64
	Width             int
	Height            int
	Steps             int
	GuidanceScale     float64
	RequestID         string
}

// Result is one generated image.
type Result struct {
	URL       string
	Width     int
	Height    int
	RequestID string
}

// Generator is the contract implemented by image providers. A call covers
// the provider's full submit-and-poll cycle; exceeding the poll budget is a
// call failure.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
}

var ratioDimensions = map[string][2]int{
	"1:1":  {1024, 1024},
	"4:3":  {1024, 768},
	"3:4":  {768, 1024},
	"16:9": {1024, 576},
	"9:16": {576, 1024},
	"3:2":  {1024, 683},
	"2:3":  {683, 1024},
	"21:9": {1024, 439},
	"9:21": {439, 1024},
	"4:5":  {819, 1024},
	"5:4":  {1024, 819},
}

// ResolveDimensions maps an aspect ratio to pixel dimensions, defaulting to
// a square canvas for unknown ratios. Each batch item resolves its own
// ratio independently of its siblings.
func ResolveDimensions(aspectRatio string) (width, height int) {
	if dims, ok := ratioDimensions[aspectRatio]; ok {
		return dims[0], dims[1]
	}
	return 1024, 1024
}
