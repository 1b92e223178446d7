package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/providers/analysis"
	"studio/internal/providers/image"
)

type fakeAnalyzer struct {
	prompts    []analysis.Prompt
	styleErr   error
	analyzeErr error
	enhanced   string
}

func (f *fakeAnalyzer) AnalyzeProduct(ctx context.Context, imageURL string) (json.RawMessage, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return json.RawMessage(`{"name":"mug"}`), nil
}

func (f *fakeAnalyzer) ExtractStyle(ctx context.Context, imageURL string) (analysis.StyleDNA, error) {
	if f.styleErr != nil {
		return analysis.StyleDNA{}, f.styleErr
	}
	return analysis.StyleDNA{ReplicationPrompt: "moody editorial lighting", Raw: json.RawMessage(`{}`)}, nil
}

func (f *fakeAnalyzer) GeneratePrompts(ctx context.Context, product json.RawMessage, style string, count int) ([]analysis.Prompt, error) {
	if f.prompts != nil {
		return f.prompts, nil
	}
	prompts := make([]analysis.Prompt, count)
	for i := range prompts {
		prompts[i] = analysis.Prompt{Role: "detail", Prompt: fmt.Sprintf("%s shot %d", style, i+1)}
	}
	return prompts, nil
}

func (f *fakeAnalyzer) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	if f.enhanced != "" {
		return f.enhanced, nil
	}
	return prompt, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []image.GenerateRequest
	failOn   map[int]error
}

func (f *fakeGenerator) Generate(ctx context.Context, req image.GenerateRequest) (image.Result, error) {
	f.mu.Lock()
	n := len(f.requests) + 1
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.failOn[n]; err != nil {
		return image.Result{}, err
	}
	return image.Result{URL: fmt.Sprintf("https://cdn.example.com/%d.png", n), Width: req.Width, Height: req.Height}, nil
}

type memRegistry struct {
	mu       sync.Mutex
	progress map[string]int
	status   map[string]domain.TaskStatus
	output   map[string][]byte
	errMsg   map[string]string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		progress: map[string]int{},
		status:   map[string]domain.TaskStatus{},
		output:   map[string][]byte{},
		errMsg:   map[string]string{},
	}
}

func (m *memRegistry) RecordProgress(ctx context.Context, id string, progress int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if progress > m.progress[id] {
		m.progress[id] = progress
	}
	return m.progress[id], nil
}

func (m *memRegistry) MarkCompleted(ctx context.Context, id string, output []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = domain.TaskStatusCompleted
	m.progress[id] = 100
	m.output[id] = output
	return nil
}

func (m *memRegistry) MarkFailed(ctx context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = domain.TaskStatusFailed
	m.errMsg[id] = message
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (e *eventLog) Publish(taskID string, ev domain.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) all() []domain.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ProgressEvent(nil), e.events...)
}

func newTestRunner(analyzer Analyzer, gen image.Generator) (*Runner, *memRegistry, *eventLog) {
	reg := newMemRegistry()
	events := &eventLog{}
	log := zerolog.New(io.Discard)
	return NewRunner(engine.New(reg, events, log), analyzer, gen, log), reg, events
}

func newTask(kind domain.TaskKind, input string) *domain.Task {
	return &domain.Task{
		ID:        "task-1",
		UserID:    "user-1",
		Kind:      kind,
		Status:    domain.TaskStatusProcessing,
		InputJSON: json.RawMessage(input),
	}
}

func TestGenesisRunGeneratesRequestedCount(t *testing.T) {
	gen := &fakeGenerator{}
	runner, reg, _ := newTestRunner(&fakeAnalyzer{}, gen)

	task := newTask(domain.TaskKindGenesis, `{"image_url":"https://cdn.example.com/in.png","count":3,"style":"minimal studio","aspect_ratio":"3:4"}`)
	if err := runner.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if reg.status[task.ID] != domain.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", reg.status[task.ID])
	}
	if len(gen.requests) != 3 {
		t.Fatalf("generator calls = %d, want 3", len(gen.requests))
	}
	for _, req := range gen.requests {
		if req.ReferenceImageURL != "https://cdn.example.com/in.png" {
			t.Fatalf("reference image not forwarded: %+v", req)
		}
		if req.Width != 768 || req.Height != 1024 {
			t.Fatalf("dims = %dx%d, want 3:4 resolution", req.Width, req.Height)
		}
	}
	if !strings.Contains(gen.requests[0].Prompt, "Minimal Studio") {
		t.Fatalf("style label not applied: %q", gen.requests[0].Prompt)
	}

	var out domain.TaskOutput
	if err := json.Unmarshal(reg.output[task.ID], &out); err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if len(out.Items) != 3 || len(out.ImageURLs()) != 3 {
		t.Fatalf("output items = %d, urls = %d", len(out.Items), len(out.ImageURLs()))
	}
}

func TestGenesisPerPromptAspectRatioOverride(t *testing.T) {
	gen := &fakeGenerator{}
	analyzer := &fakeAnalyzer{prompts: []analysis.Prompt{
		{Role: "hero", Prompt: "hero shot", AspectRatio: "16:9"},
		{Role: "detail", Prompt: "detail shot"},
	}}
	runner, _, _ := newTestRunner(analyzer, gen)

	task := newTask(domain.TaskKindGenesis, `{"image_url":"https://x/in.png","count":2,"aspect_ratio":"1:1"}`)
	if err := runner.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if gen.requests[0].Width <= gen.requests[0].Height {
		t.Fatalf("hero item should use landscape override, got %dx%d", gen.requests[0].Width, gen.requests[0].Height)
	}
	if gen.requests[1].Width != gen.requests[1].Height {
		t.Fatalf("detail item should fall back to task ratio, got %dx%d", gen.requests[1].Width, gen.requests[1].Height)
	}
}

func TestGenesisSetupFailureFailsTask(t *testing.T) {
	gen := &fakeGenerator{}
	runner, reg, _ := newTestRunner(&fakeAnalyzer{analyzeErr: errors.New("vision api down")}, gen)

	task := newTask(domain.TaskKindGenesis, `{"image_url":"https://x/in.png"}`)
	if err := runner.Run(context.Background(), task); err == nil {
		t.Fatalf("Run() expected error for setup failure")
	}
	if reg.status[task.ID] != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", reg.status[task.ID])
	}
	if !strings.Contains(reg.errMsg[task.ID], "vision api down") {
		t.Fatalf("error message = %q", reg.errMsg[task.ID])
	}
	if len(gen.requests) != 0 {
		t.Fatalf("no generation should run after setup failure")
	}
}

func TestMirrorRunProducesFourVariants(t *testing.T) {
	gen := &fakeGenerator{failOn: map[int]error{3: errors.New("render rejected")}}
	runner, reg, events := newTestRunner(&fakeAnalyzer{}, gen)

	task := newTask(domain.TaskKindMirror, `{"product_image_url":"https://x/p.png","style_image_url":"https://x/s.png"}`)
	if err := runner.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(gen.requests) != mirrorVariantCount {
		t.Fatalf("generator calls = %d, want %d", len(gen.requests), mirrorVariantCount)
	}
	for i, req := range gen.requests {
		if !strings.Contains(req.Prompt, "moody editorial lighting") {
			t.Fatalf("variant %d missing replication prompt: %q", i+1, req.Prompt)
		}
		if req.Strength != mirrorStrength {
			t.Fatalf("variant %d strength = %v", i+1, req.Strength)
		}
		if req.NegativePrompt != image.StyleNegativePrompt {
			t.Fatalf("variant %d negative prompt = %q", i+1, req.NegativePrompt)
		}
	}

	var out domain.TaskOutput
	if err := json.Unmarshal(reg.output[task.ID], &out); err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if len(out.Items) != 4 || out.Items[2].Success || out.Items[2].Error != "render rejected" {
		t.Fatalf("items = %+v", out.Items)
	}
	if len(out.ImageURLs()) != 3 {
		t.Fatalf("urls = %v, want the three successful variants", out.ImageURLs())
	}

	last := events.all()[len(events.all())-1]
	if last.Status != domain.TaskStatusCompleted || last.Progress != 100 {
		t.Fatalf("final event = %+v", last)
	}
}

func TestMirrorSetupProgressStaysInBand(t *testing.T) {
	runner, _, events := newTestRunner(&fakeAnalyzer{}, &fakeGenerator{})

	task := newTask(domain.TaskKindMirror, `{"product_image_url":"https://x/p.png","style_image_url":"https://x/s.png"}`)
	if err := runner.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, ev := range events.all() {
		if ev.Status == domain.TaskStatusProcessing && ev.Total == 0 && ev.Progress > mirrorSetupEnd {
			t.Fatalf("setup event beyond band: %+v", ev)
		}
	}
}

func TestRefinementRunSingleEnhancedItem(t *testing.T) {
	gen := &fakeGenerator{}
	runner, reg, _ := newTestRunner(&fakeAnalyzer{enhanced: "crisp studio photo of a mug, 50mm lens"}, gen)

	task := newTask(domain.TaskKindRefinement, `{"image_url":"https://x/old.png","prompt":"make it brighter"}`)
	if err := runner.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(gen.requests) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(gen.requests))
	}
	if gen.requests[0].Prompt != "crisp studio photo of a mug, 50mm lens" {
		t.Fatalf("enhanced prompt not used: %q", gen.requests[0].Prompt)
	}
	if gen.requests[0].Strength != refinementStrength {
		t.Fatalf("strength = %v", gen.requests[0].Strength)
	}
	if reg.status[task.ID] != domain.TaskStatusCompleted || reg.progress[task.ID] != 100 {
		t.Fatalf("status=%s progress=%d", reg.status[task.ID], reg.progress[task.ID])
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	runner, _, _ := newTestRunner(&fakeAnalyzer{}, &fakeGenerator{})
	task := newTask(domain.TaskKind("collage"), `{}`)
	if err := runner.Run(context.Background(), task); !errors.Is(err, domain.ErrUnsupportedKind) {
		t.Fatalf("Run() error = %v, want ErrUnsupportedKind", err)
	}
}

func TestRunRejectsMalformedInput(t *testing.T) {
	runner, _, _ := newTestRunner(&fakeAnalyzer{}, &fakeGenerator{})
	task := newTask(domain.TaskKindGenesis, `{not json`)
	if err := runner.Run(context.Background(), task); err == nil {
		t.Fatalf("Run() expected decode error")
	}
}

func TestStyleLabel(t *testing.T) {
	if got := styleLabel("  minimal   STUDIO "); got != "Minimal Studio" {
		t.Fatalf("styleLabel = %q", got)
	}
	if got := styleLabel(""); got != "Clean Commercial" {
		t.Fatalf("styleLabel(empty) = %q", got)
	}
}
