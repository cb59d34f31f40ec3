// Package models defines the on-device data model of the fieldsync engine:
// queued operations, pending photos, cached reference entities and the
// append-only conflict log.
package models

import (
	"encoding/json"
	"time"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	// StatusPending marks an operation waiting for (or between) sync attempts.
	StatusPending OperationStatus = "pending"
	// StatusFailed marks an operation whose retries are exhausted. Terminal
	// until an explicit operator reset.
	StatusFailed OperationStatus = "failed"
	// StatusSynced marks an operation acknowledged by the server.
	StatusSynced OperationStatus = "synced"
)

// PendingOperation is a queued, not-yet-acknowledged mutation captured while
// the device may be offline. Created by the write façade, owned by the sync
// engine once queued, removed on server acknowledgement.
type PendingOperation struct {
	// ID is the local row identifier.
	ID string

	// Type is the logical record type the operation mutates
	// (e.g. "unit_entry", "job_edit").
	Type string

	// Endpoint and Method describe the HTTP call to replay. The engine does
	// not interpret Payload beyond passing it through.
	Endpoint string
	Method   string
	Payload  json.RawMessage

	// OfflineID is a client-generated identifier, assigned before the server
	// has ever seen the record so screens can reference it immediately.
	OfflineID string

	Status  OperationStatus
	Retries int

	LastError     string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}

// OperationFilter narrows GetPending queries. Zero values match everything.
type OperationFilter struct {
	Type     string
	Endpoint string
}
