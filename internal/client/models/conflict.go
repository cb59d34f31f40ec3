package models

import (
	"encoding/json"
	"time"
)

// Resolution says which side a recorded conflict was settled on.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepServer Resolution = "keep_server"
	ResolutionMerge      Resolution = "merge"
)

// ConflictRecord is an immutable audit entry appended whenever the sync
// engine detects divergence between a queued local write and the server's
// current record. Never mutated after creation.
type ConflictRecord struct {
	ID string

	// OfflineID references the local operation that hit the conflict.
	OfflineID string
	Type      string

	LocalData  json.RawMessage
	ServerData json.RawMessage

	// ConflictingFields lists the business fields that diverged.
	ConflictingFields []string

	Resolution Resolution
	ResolvedAt time.Time
}
