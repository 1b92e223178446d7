package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

const defaultCredits = 100

// CreditLedgerPG implements domain.CreditLedger backed by PostgreSQL.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a new credit ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Balance returns the user's current credit balance. Unknown users report
// the starting balance they would be created with.
func (r *CreditLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return defaultCredits, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AdmitTask debits the task's cost and inserts the pending task in one
// transaction. A conditional debit keeps the balance check and the charge
// atomic under concurrent submissions; either everything lands or nothing
// does, and the charge is never reversed later.
func (r *CreditLedgerPG) AdmitTask(ctx context.Context, task *domain.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("admit task: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// First submission creates the account with the signup grant.
	if _, err := tx.Exec(ctx, `
INSERT INTO users (id, credits)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING;
`, task.UserID, defaultCredits); err != nil {
		return fmt.Errorf("admit task: ensure user: %w", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE users
SET credits = credits - $2
WHERE id = $1 AND credits >= $2;
`, task.UserID, task.CreditsCharged)
	if err != nil {
		return fmt.Errorf("admit task: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_entries (user_id, task_id, amount, reason)
VALUES ($1, $2, $3, $4);
`, task.UserID, task.ID, -task.CreditsCharged, string(task.Kind)); err != nil {
		return fmt.Errorf("admit task: ledger entry: %w", err)
	}

	if err := tx.QueryRow(ctx, `
INSERT INTO tasks (id, user_id, kind, status, progress, input_json, credits_charged)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at;
`,
		task.ID,
		task.UserID,
		task.Kind,
		task.Status,
		task.Progress,
		task.InputJSON,
		task.CreditsCharged,
	).Scan(&task.CreatedAt); err != nil {
		return fmt.Errorf("admit task: insert task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("admit task: commit: %w", err)
	}
	return nil
}
