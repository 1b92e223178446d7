// Package registry owns task entities and their state transitions. It is
// the source of truth polled by clients; live observers go through the hub.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service mediates all task reads and lifecycle mutations. Other components
// hold task ids, never direct mutation rights; the batch engine is the sole
// writer of progress and output during a run.
type Service struct {
	repo domain.TaskRepository
	log  zerolog.Logger
}

// New creates a registry service over the given repository.
func New(repo domain.TaskRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Get fetches a task by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the user's tasks ordered by recency.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// MarkProcessing moves a pending task into processing. Exactly one caller
// can win this transition per task id, which is what bounds execution to
// at most one background run.
func (s *Service) MarkProcessing(ctx context.Context, id string) error {
	if err := s.repo.MarkProcessing(ctx, id); err != nil {
		return fmt.Errorf("mark processing %s: %w", id, err)
	}
	s.log.Info().Str("task_id", id).Msg("registry: task processing")
	return nil
}

// RecordProgress stores a progress value for a running task. Values are
// clamped so stored progress never decreases; the clamped value is returned
// and is what observers should see.
func (s *Service) RecordProgress(ctx context.Context, id string, progress int) (int, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.repo.RecordProgress(ctx, id, progress)
}

// MarkCompleted finalizes a running task with its output. Progress is fixed
// at 100. Calling from a terminal state returns ErrInvalidTransition and
// never overwrites prior output.
func (s *Service) MarkCompleted(ctx context.Context, id string, output []byte) error {
	if err := s.repo.MarkCompleted(ctx, id, output); err != nil {
		return fmt.Errorf("mark completed %s: %w", id, err)
	}
	s.log.Info().Str("task_id", id).Msg("registry: task completed")
	return nil
}

// MarkFailed finalizes a running task with a human-readable error.
func (s *Service) MarkFailed(ctx context.Context, id string, message string) error {
	if err := s.repo.MarkFailed(ctx, id, message); err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	s.log.Warn().Str("task_id", id).Str("error", message).Msg("registry: task failed")
	return nil
}
