// Package services is what the UI layer talks to: an optimistic write facade
// over the local store plus a read-through cache for server-owned reference
// data. Nothing here blocks on the network.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/sync"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// kickDelay is how long a save waits before nudging the engine, so a burst
// of edits coalesces into one cycle.
const kickDelay = 500 * time.Millisecond

// SaveRequest describes one user mutation to capture locally.
type SaveRequest struct {
	Type     string
	Endpoint string
	Method   string
	Data     map[string]any
}

// SaveResult reports how a save went. Success=false never means the user's
// input is gone: it means the device could not even persist locally, and Err
// says why.
type SaveResult struct {
	Success   bool
	OfflineID string
	Data      json.RawMessage
	Err       error
}

// CaptureService is the write facade. Saves land in SQLite immediately and
// sync whenever connectivity allows.
type CaptureService struct {
	store  *store.Store
	engine *sync.Engine
	log    logging.Logger
	saving atomic.Bool
}

func NewCaptureService(st *store.Store, engine *sync.Engine, log logging.Logger) *CaptureService {
	if log == nil {
		log = logging.Discard()
	}
	return &CaptureService{store: st, engine: engine, log: log}
}

// SaveOptimistic persists the mutation locally and returns at once. The
// returned record carries a device-generated offline id the screen can key
// on before the server has ever seen it.
func (s *CaptureService) SaveOptimistic(ctx context.Context, req SaveRequest) SaveResult {
	s.saving.Store(true)
	defer s.saving.Store(false)

	if err := s.store.Init(ctx); err != nil {
		s.log.Error(ctx, "optimistic save failed", "type", req.Type, "error", err)
		return SaveResult{Err: err}
	}

	payload, err := json.Marshal(req.Data)
	if err != nil {
		return SaveResult{Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	op := &models.PendingOperation{
		Type:     req.Type,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Payload:  payload,
	}
	if _, err := s.store.Operations.Queue(ctx, op); err != nil {
		s.log.Error(ctx, "optimistic save failed", "type", req.Type, "error", err)
		return SaveResult{Err: err}
	}

	s.log.Debug(ctx, "operation captured", "type", req.Type, "offline_id", op.OfflineID)

	if s.engine.IsOnline() {
		s.engine.KickAfter(kickDelay)
	}
	return SaveResult{Success: true, OfflineID: op.OfflineID, Data: payload}
}

// SavePhoto captures a photo against a parent record, same contract as
// SaveOptimistic.
func (s *CaptureService) SavePhoto(ctx context.Context, parentID, fileName, mimeType string, data []byte) SaveResult {
	s.saving.Store(true)
	defer s.saving.Store(false)

	if err := s.store.Init(ctx); err != nil {
		s.log.Error(ctx, "photo save failed", "parent", parentID, "error", err)
		return SaveResult{Err: err}
	}

	photo := &models.PendingPhoto{
		ParentID: parentID,
		FileName: fileName,
		MimeType: mimeType,
		Data:     data,
	}
	if _, err := s.store.Photos.Save(ctx, photo); err != nil {
		s.log.Error(ctx, "photo save failed", "parent", parentID, "error", err)
		return SaveResult{Err: err}
	}

	if s.engine.IsOnline() {
		s.engine.KickAfter(kickDelay)
	}
	return SaveResult{Success: true, OfflineID: photo.ID}
}

// PendingCount recounts unsynced operations and photos from the store; it is
// never a cached number.
func (s *CaptureService) PendingCount(ctx context.Context) (int, error) {
	if err := s.store.Init(ctx); err != nil {
		return 0, err
	}
	ops, err := s.store.Operations.CountPending(ctx)
	if err != nil {
		return 0, err
	}
	photos, err := s.store.Photos.CountPending(ctx)
	if err != nil {
		return 0, err
	}
	return ops + photos, nil
}

func (s *CaptureService) HasPending(ctx context.Context) bool {
	count, err := s.PendingCount(ctx)
	return err == nil && count > 0
}

func (s *CaptureService) IsSyncing() bool {
	return s.engine.IsSyncing()
}

// SyncStatusText renders the engine state for a status line.
func (s *CaptureService) SyncStatusText(ctx context.Context) string {
	if s.saving.Load() {
		return "saving..."
	}

	status, lastErr := s.engine.Status()
	switch status {
	case sync.StatusSyncing:
		return "syncing..."
	case sync.StatusConflict:
		return "conflict resolved, server version kept"
	case sync.StatusError:
		if lastErr != nil {
			return fmt.Sprintf("sync error: %s", lastErr)
		}
		return "sync error"
	}

	count, err := s.PendingCount(ctx)
	if err != nil {
		return fmt.Sprintf("storage unavailable: %s", err)
	}
	if count > 0 {
		if !s.engine.IsOnline() {
			return fmt.Sprintf("offline, %d change(s) saved locally", count)
		}
		return fmt.Sprintf("%d change(s) waiting to sync", count)
	}
	if status == sync.StatusSynced {
		return "all changes synced"
	}
	return "idle"
}
