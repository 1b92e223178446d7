package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/middleware"
)

// TaskEvents streams progress events for one task as server-sent events.
// The first event is a snapshot of the stored record, so late subscribers
// see the current state even though the hub does not replay history. The
// stream ends after a terminal event or when the client disconnects.
func (a *App) TaskEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	task, err := a.ownedTask(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.taskError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// A run takes minutes; the stream must outlive the server's write
	// timeout, which covers the whole response.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		a.Log.Debug().Err(err).Str("task_id", task.ID).Msg("handlers: clear write deadline unsupported")
	}

	ch := a.Hub.Subscribe(task.ID)
	defer a.Hub.Unsubscribe(task.ID, ch)

	// Re-read after subscribing: a terminal transition between the first
	// read and the subscription would otherwise never reach this stream,
	// since the hub does not replay. Duplicates are harmless.
	if current, err := a.Registry.Get(r.Context(), task.ID); err == nil {
		task = current
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, snapshotEvent(task)); err != nil {
		return
	}
	flusher.Flush()
	if task.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := writeEvent(w, ev); err != nil {
				a.Log.Warn().Err(err).Str("task_id", task.ID).Msg("handlers: event write failed")
				return
			}
			flusher.Flush()
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func snapshotEvent(task *domain.Task) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		Status:   task.Status,
		Progress: task.Progress,
		Error:    task.ErrorMessage,
	}
	if len(task.OutputJSON) > 0 {
		var out domain.TaskOutput
		if err := json.Unmarshal(task.OutputJSON, &out); err == nil {
			ev.OutputImages = out.ImageURLs()
		}
	}
	return ev
}

func writeEvent(w http.ResponseWriter, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
