package operations

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Repository describes the pending-operation queue. Implementations are
// backed by the local SQLite database.
type Repository interface {
	// Queue appends a new operation with status=pending and retries=0,
	// assigning id, offline id and creation time when absent. Returns the
	// locally generated id.
	Queue(ctx context.Context, op *models.PendingOperation) (string, error)

	// GetPending returns all operations not yet synced (pending and failed),
	// oldest first, optionally narrowed by filter.
	GetPending(ctx context.Context, filter models.OperationFilter) ([]models.PendingOperation, error)

	// GetFailed returns operations whose retries are exhausted.
	GetFailed(ctx context.Context) ([]models.PendingOperation, error)

	// GetByID returns a single operation.
	GetByID(ctx context.Context, id string) (*models.PendingOperation, error)

	// UpdateStatus transitions an operation and stamps last_attempt_at.
	// Recording an attempt error increments the retry counter, whether the
	// operation ends up failed or goes back to pending for a later retry.
	UpdateStatus(ctx context.Context, id string, status models.OperationStatus, lastError string) error

	// Remove deletes an operation. Removing a non-existent id is not an error.
	Remove(ctx context.Context, id string) error

	// ResetFailed is the operator-triggered retry: failed operations go back
	// to pending with retries=0. Returns the number of operations reset.
	ResetFailed(ctx context.Context) (int, error)

	// CountPending recounts operations with status=pending.
	CountPending(ctx context.Context) (int, error)
}
