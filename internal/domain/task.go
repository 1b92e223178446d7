package domain

import "time"

// TaskKind enumerates the supported generation pipelines.
type TaskKind string

const (
	TaskKindGenesis    TaskKind = "studio_genesis"
	TaskKindMirror     TaskKind = "aesthetic_mirror"
	TaskKindRefinement TaskKind = "refinement"
)

// Valid reports whether the kind is one of the supported pipelines.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindGenesis, TaskKindMirror, TaskKindRefinement:
		return true
	}
	return false
}

// CreditCost returns the fixed admission cost for the kind.
func (k TaskKind) CreditCost() int {
	switch k {
	case TaskKindGenesis:
		return 10
	case TaskKindMirror:
		return 15
	case TaskKindRefinement:
		return 5
	}
	return 0
}

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether a task may move between the two states.
// The lifecycle is monotone: pending -> processing -> completed|failed.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	}
	return false
}

// Task represents one submitted generation job. The task record is the
// source of truth polled by clients after the submission request returns.
type Task struct {
	ID             string
	UserID         string
	Kind           TaskKind
	Status         TaskStatus
	Progress       int
	InputJSON      []byte
	OutputJSON     []byte
	ErrorMessage   string
	CreditsCharged int
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// BatchItem is the outcome of one unit of work inside a task's batch.
// Order is the 1-based position in the original input sequence; the full
// ordered list, failures inline, becomes the task output.
type BatchItem struct {
	Order    int    `json:"order"`
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskOutput is the persisted result of a completed task.
type TaskOutput struct {
	Items []BatchItem `json:"items"`
}

// ImageURLs returns the URLs of successful items in batch order.
func (o TaskOutput) ImageURLs() []string {
	urls := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Success && item.ImageURL != "" {
			urls = append(urls, item.ImageURL)
		}
	}
	return urls
}
