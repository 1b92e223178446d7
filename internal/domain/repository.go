package domain

import "context"

// TaskRepository defines persistence for task entities. Mutators enforce the
// lifecycle state machine at the storage layer: calls from an invalid source
// state return ErrInvalidTransition and leave the record untouched.
type TaskRepository interface {
	GetByID(ctx context.Context, id string) (*Task, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Task, error)
	MarkProcessing(ctx context.Context, id string) error
	// RecordProgress clamps to the stored value (never decreases) and returns
	// the effective progress. Valid only while the task is processing.
	RecordProgress(ctx context.Context, id string, progress int) (int, error)
	MarkCompleted(ctx context.Context, id string, output []byte) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// CreditLedger gates task creation on the owner's credit balance.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	// AdmitTask atomically debits task.CreditsCharged from the owner's
	// balance and persists the pending task as one unit of work. It returns
	// ErrInsufficientCredits, with no side effects, when the balance does
	// not cover the cost. Credits are never refunded afterwards, even when
	// the task ultimately fails.
	AdmitTask(ctx context.Context, task *Task) error
}
