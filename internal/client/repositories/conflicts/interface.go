package conflicts

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Repository is the append-only conflict audit log. Records are immutable
// after creation; there is deliberately no update or delete.
type Repository interface {
	// Append stores a new conflict record, assigning id and resolution time
	// when absent, and returns the id.
	Append(ctx context.Context, record *models.ConflictRecord) (string, error)

	// List returns all recorded conflicts, newest first.
	List(ctx context.Context) ([]models.ConflictRecord, error)

	// ListByOfflineID returns the conflicts recorded for one local write.
	ListByOfflineID(ctx context.Context, offlineID string) ([]models.ConflictRecord, error)
}
