package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/middleware"
	"studio/pkg/zip"
)

const maxDownloadImageBytes = 32 << 20

var downloadClient = &http.Client{Timeout: 60 * time.Second}

// DownloadTask streams the successful output images of a completed task as
// one zip archive. Images that cannot be fetched are skipped rather than
// failing the whole download.
func (a *App) DownloadTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	task, err := a.ownedTask(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		a.taskError(w, err)
		return
	}
	if task.Status != domain.TaskStatusCompleted {
		a.error(w, http.StatusConflict, "task has no downloadable output yet")
		return
	}

	var out domain.TaskOutput
	if err := json.Unmarshal(task.OutputJSON, &out); err != nil {
		a.taskError(w, err)
		return
	}
	urls := out.ImageURLs()
	if len(urls) == 0 {
		a.error(w, http.StatusConflict, "task produced no images")
		return
	}

	assets := make([]zip.Asset, 0, len(urls))
	for i, url := range urls {
		data, err := a.fetchImage(r, url)
		if err != nil {
			a.Log.Warn().Err(err).Str("task_id", task.ID).Str("url", url).Msg("handlers: download fetch failed")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("image-%02d%s", i+1, imageExtension(url)),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusBadGateway, "no images could be fetched")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.ID+".zip"))
	if err := zip.Archive(w, assets); err != nil {
		a.Log.Error().Err(err).Str("task_id", task.ID).Msg("handlers: archive write failed")
	}
}

func (a *App) fetchImage(r *http.Request, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadImageBytes))
}

func imageExtension(url string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	}
	return ".png"
}
