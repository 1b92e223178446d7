package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/middleware"
	"studio/internal/pipeline"
)

// CreateGenesis submits a studio_genesis task: one product photo expanded
// into a detail-page image set.
func (a *App) CreateGenesis(w http.ResponseWriter, r *http.Request) {
	var in pipeline.GenesisInput
	if !a.decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.ImageURL) == "" {
		a.error(w, http.StatusBadRequest, "image_url is required")
		return
	}
	a.createTask(w, r, domain.TaskKindGenesis, in)
}

// CreateMirror submits an aesthetic_mirror task: replicate a reference
// image's look onto the user's product photo.
func (a *App) CreateMirror(w http.ResponseWriter, r *http.Request) {
	var in pipeline.MirrorInput
	if !a.decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.ProductImageURL) == "" || strings.TrimSpace(in.StyleImageURL) == "" {
		a.error(w, http.StatusBadRequest, "product_image_url and style_image_url are required")
		return
	}
	a.createTask(w, r, domain.TaskKindMirror, in)
}

// CreateRefinement submits a refinement task: regenerate one image under an
// edited prompt.
func (a *App) CreateRefinement(w http.ResponseWriter, r *http.Request) {
	var in pipeline.RefinementInput
	if !a.decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.ImageURL) == "" || strings.TrimSpace(in.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "image_url and prompt are required")
		return
	}
	a.createTask(w, r, domain.TaskKindRefinement, in)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// createTask admits the task against the caller's credit balance and hands
// it to the dispatcher. The response is a snapshot; clients follow up via
// polling or the event stream.
func (a *App) createTask(w http.ResponseWriter, r *http.Request, kind domain.TaskKind, input any) {
	userID := middleware.UserIDFromContext(r.Context())

	inputJSON, err := json.Marshal(input)
	if err != nil {
		a.taskError(w, err)
		return
	}

	task := &domain.Task{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Status:         domain.TaskStatusPending,
		InputJSON:      inputJSON,
		CreditsCharged: kind.CreditCost(),
	}

	if err := a.Ledger.AdmitTask(r.Context(), task); err != nil {
		a.taskError(w, err)
		return
	}

	a.Log.Info().
		Str("task_id", task.ID).
		Str("user_id", userID).
		Str("kind", string(kind)).
		Int("credits", task.CreditsCharged).
		Msg("handlers: task admitted")

	if err := a.Dispatcher.Dispatch(r.Context(), task.ID); err != nil {
		// The charge stands; the task stays pending for manual requeue.
		a.Log.Error().Err(err).Str("task_id", task.ID).Msg("handlers: dispatch failed")
		a.error(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	a.json(w, http.StatusAccepted, toTaskResponse(task))
}

// GetTask returns the current task snapshot.
func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	task, err := a.ownedTask(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.taskError(w, err)
		return
	}
	a.json(w, http.StatusOK, toTaskResponse(task))
}

// ListTasks returns the caller's tasks newest first.
func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	tasks, err := a.Registry.List(r.Context(), userID, limit, offset)
	if err != nil {
		a.taskError(w, err)
		return
	}

	items := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, toTaskResponse(&tasks[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"tasks": items})
}
