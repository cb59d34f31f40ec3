package models

import "time"

// PendingPhoto is a captured binary attachment queued for upload. Photos are
// queued separately from generic operations because of their size and the
// multipart/binary encoding they need on the wire.
type PendingPhoto struct {
	ID string

	// ParentID links the photo to the record it documents. The parent may
	// itself still be pending, in which case this is the parent's OfflineID.
	ParentID string

	FileName string
	MimeType string
	Data     []byte

	Status  OperationStatus
	Retries int

	LastError     string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}
