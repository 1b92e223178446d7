// Package handlers exposes the task service over HTTP: submission,
// polling, listing, credit balance and the live progress stream.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/hub"
	"studio/internal/registry"
)

// Dispatcher hands admitted tasks to the background execution side.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string) error
}

// App bundles the dependencies shared by all handlers.
type App struct {
	Registry   *registry.Service
	Ledger     domain.CreditLedger
	Dispatcher Dispatcher
	Hub        *hub.Hub
	Log        zerolog.Logger
}

func NewApp(reg *registry.Service, ledger domain.CreditLedger, dispatcher Dispatcher, h *hub.Hub, log zerolog.Logger) *App {
	return &App{Registry: reg, Ledger: ledger, Dispatcher: dispatcher, Hub: h, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// taskResponse is the wire shape of a task record.
type taskResponse struct {
	ID             string          `json:"id"`
	Kind           domain.TaskKind `json:"kind"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	OutputImages   []string        `json:"output_images,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreditsCharged int             `json:"credits_charged"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toTaskResponse(t *domain.Task) taskResponse {
	resp := taskResponse{
		ID:             t.ID,
		Kind:           t.Kind,
		Status:         string(t.Status),
		Progress:       t.Progress,
		Input:          json.RawMessage(t.InputJSON),
		ErrorMessage:   t.ErrorMessage,
		CreditsCharged: t.CreditsCharged,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	}
	if len(t.OutputJSON) > 0 {
		resp.Output = json.RawMessage(t.OutputJSON)
		var out domain.TaskOutput
		if err := json.Unmarshal(t.OutputJSON, &out); err == nil {
			resp.OutputImages = out.ImageURLs()
		}
	}
	return resp
}

// ownedTask loads a task and hides other users' tasks behind ErrNotFound.
func (a *App) ownedTask(ctx context.Context, id, userID string) (*domain.Task, error) {
	task, err := a.Registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return task, nil
}

func (a *App) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient credits")
	default:
		a.Log.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal error")
	}
}
