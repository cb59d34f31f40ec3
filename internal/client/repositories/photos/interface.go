package photos

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Repository is the large-blob variant of the operation queue. Photos carry
// their binary payload and a parent record reference.
type Repository interface {
	// Save queues a captured photo with status=pending and retries=0,
	// assigning id and creation time when absent.
	Save(ctx context.Context, photo *models.PendingPhoto) (string, error)

	// GetPending returns unsynced photos, oldest first. A non-empty parentID
	// narrows the result to one parent record.
	GetPending(ctx context.Context, parentID string) ([]models.PendingPhoto, error)

	// UpdateStatus transitions a photo and stamps last_attempt_at. Recording
	// an attempt error increments the retry counter, whether the photo ends
	// up failed or goes back to pending.
	UpdateStatus(ctx context.Context, id string, status models.OperationStatus, lastError string) error

	// Remove deletes a photo. Removing a non-existent id is not an error.
	Remove(ctx context.Context, id string) error

	// ResetFailed returns exhausted photos to pending with retries=0.
	ResetFailed(ctx context.Context) (int, error)

	// CountPending recounts photos with status=pending.
	CountPending(ctx context.Context) (int, error)
}
