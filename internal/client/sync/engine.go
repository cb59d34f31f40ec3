// Package sync drains the local pending-operation queue against the remote
// API. One cycle at a time: replay operations oldest first, then upload
// pending photos, recording conflicts and scheduling backed-off retries for
// whatever failed.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/blob"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/conflict"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// errInterrupted marks a drain phase cut short by cancellation or
// connectivity loss. The remainder stays pending; it is not a cycle error.
var errInterrupted = errors.New("sync cycle interrupted")

// kickTimerKey reserves a slot in the retry-timer registry for the
// post-write coalescing timer.
const kickTimerKey = "kick"

// Status is the engine's externally visible state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Config tunes one engine. Zero values fall back to the defaults below.
type Config struct {
	// EndpointFilter restricts a cycle to operations for one endpoint.
	// Empty means everything.
	EndpointFilter string

	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        5,
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// Result summarizes one cycle. Offline and AlreadyRunning mark cycles that
// never started; everything else is zero on those.
type Result struct {
	Offline        bool
	AlreadyRunning bool

	Synced    int
	Failed    int
	Conflicts int
	Skipped   int

	PhotosSynced int
	PhotosFailed int
}

// ConflictCallback is invoked before a conflict is resolved, with the local
// payload, the server's version and the names of the diverging fields.
type ConflictCallback func(ctx context.Context, local, server map[string]any, fields []string)

type Engine struct {
	store   *store.Store
	api     api.Client
	photos  blob.Uploader
	cfg     Config
	backoff Backoff
	log     logging.Logger
	bus     *eventBus

	onConflict ConflictCallback

	online  atomic.Bool
	syncing atomic.Bool
	// mu serializes cycles; TryLock makes a second concurrent trigger a
	// silent no-op instead of queueing work.
	mu gosync.Mutex

	statusMu gosync.Mutex
	status   Status
	lastErr  error

	timersMu gosync.Mutex
	timers   map[string]*time.Timer
}

// NewEngine wires the engine. photos may be nil when the device captures no
// photos; the photo phase is then skipped.
func NewEngine(st *store.Store, client api.Client, photos blob.Uploader, cfg Config, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:   st,
		api:     client,
		photos:  photos,
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Multiplier: cfg.BackoffMultiplier},
		log:     log,
		bus:     newEventBus(log),
		status:  StatusIdle,
		timers:  make(map[string]*time.Timer),
	}
}

// Subscribe registers a listener for sync lifecycle events and returns its
// unsubscribe function.
func (e *Engine) Subscribe(fn Listener) func() {
	return e.bus.subscribe(fn)
}

// OnConflict sets the conflict notification callback. Call before the first
// cycle; the engine does not lock around it.
func (e *Engine) OnConflict(fn ConflictCallback) {
	e.onConflict = fn
}

// OnSyncComplete subscribes fn to end-of-cycle notifications with the synced
// and failed counts. Returns the unsubscribe function.
func (e *Engine) OnSyncComplete(fn func(synced, failed int)) func() {
	return e.bus.subscribe(func(ev Event) {
		if ev.Name != EventSyncComplete {
			return
		}
		if p, ok := ev.Payload.(CompletePayload); ok {
			fn(p.Synced, p.Failed)
		}
	})
}

// SetOnline records the device's connectivity. An offline-to-online edge
// triggers a background sync cycle.
func (e *Engine) SetOnline(online bool) {
	prev := e.online.Swap(online)
	if online && !prev {
		e.log.Info(context.Background(), "connectivity restored, starting sync")
		go func() {
			_, _ = e.SyncPendingOperations(context.Background())
		}()
	}
}

func (e *Engine) IsOnline() bool { return e.online.Load() }

func (e *Engine) IsSyncing() bool { return e.syncing.Load() }

// Status returns the engine state and, for StatusError, the last recorded
// error.
func (e *Engine) Status() (Status, error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status, e.lastErr
}

// KickAfter schedules a background cycle after the given delay. Used by the
// write facade so a burst of saves coalesces into one cycle. The timer lives
// in the retry-timer registry, so ForceSync and Close cancel it.
func (e *Engine) KickAfter(d time.Duration) {
	e.scheduleRetry(kickTimerKey, d)
}

// ForceSync cancels pending retry timers and runs a cycle immediately.
func (e *Engine) ForceSync(ctx context.Context) (*Result, error) {
	e.cancelScheduledRetries()
	return e.SyncPendingOperations(ctx)
}

// RetryFailed returns exhausted operations and photos to the pending queue
// with a fresh retry budget, then runs a cycle when online. Returns how many
// items were reset.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	if err := e.store.Init(ctx); err != nil {
		return 0, err
	}

	ops, err := e.store.Operations.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	photos, err := e.store.Photos.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}

	if ops+photos > 0 && e.online.Load() {
		go func() {
			_, _ = e.SyncPendingOperations(context.Background())
		}()
	}
	return ops + photos, nil
}

// SyncPendingOperations runs one sync cycle. While the device is offline it
// returns immediately with Result.Offline set; while another cycle is in
// flight it returns with Result.AlreadyRunning set. Neither is an error.
func (e *Engine) SyncPendingOperations(ctx context.Context) (*Result, error) {
	if !e.online.Load() {
		e.bus.emit(Event{Name: EventSyncOffline})
		return &Result{Offline: true}, nil
	}
	if !e.mu.TryLock() {
		return &Result{AlreadyRunning: true}, nil
	}
	defer e.mu.Unlock()

	e.syncing.Store(true)
	defer e.syncing.Store(false)

	if err := e.store.Init(ctx); err != nil {
		e.setStatus(StatusError, err)
		return nil, err
	}

	e.setStatus(StatusSyncing, nil)
	e.bus.emit(Event{Name: EventSyncStart})
	e.log.Info(ctx, "sync cycle started")

	result := &Result{}
	drainErr := e.drainOperations(ctx, result)
	if drainErr == nil && e.photos != nil {
		drainErr = e.drainPhotos(ctx, result)
	}

	failed := result.Failed + result.PhotosFailed
	synced := result.Synced + result.PhotosSynced

	switch {
	case drainErr != nil && !errors.Is(drainErr, errInterrupted):
		// A store read failure must stay visible, not pass for a clean
		// idle cycle.
		e.setStatus(StatusError, drainErr)
	case failed > 0:
		e.statusMu.Lock()
		e.status = StatusError
		e.statusMu.Unlock()
	case drainErr != nil:
		// Mid-cycle connectivity loss leaves the remainder pending for the
		// next online edge.
		e.setStatus(StatusIdle, nil)
	default:
		e.setStatus(StatusSynced, nil)
		e.stampLastSync(ctx)
	}

	e.bus.emit(Event{Name: EventSyncComplete, Payload: CompletePayload{Synced: synced, Failed: failed}})
	e.log.Info(ctx, "sync cycle finished",
		"synced", synced, "failed", failed, "conflicts", result.Conflicts, "skipped", result.Skipped)
	return result, nil
}

// drainOperations replays the queue oldest first. Returns errInterrupted
// when the cycle was cut short by cancellation or connectivity loss, or the
// underlying error when the queue could not be read.
func (e *Engine) drainOperations(ctx context.Context, result *Result) error {
	ops, err := e.store.Operations.GetPending(ctx, models.OperationFilter{Endpoint: e.cfg.EndpointFilter})
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}

	for i := range ops {
		op := &ops[i]

		if ctx.Err() != nil || !e.online.Load() {
			e.log.Warn(ctx, "sync cycle aborted", "remaining", len(ops)-i)
			e.bus.emit(Event{Name: EventSyncOffline})
			return errInterrupted
		}
		if op.Retries >= e.cfg.MaxRetries {
			result.Skipped++
			continue
		}

		resp, err := e.api.Execute(ctx, op)
		switch {
		case err != nil:
			e.recordOperationFailure(ctx, op, err)
			result.Failed++
		case resp.Conflict:
			e.resolveConflict(ctx, op, resp.ServerData)
			result.Conflicts++
		default:
			if err := e.store.Operations.Remove(ctx, op.ID); err != nil {
				e.log.Error(ctx, "failed to remove synced operation", "id", op.ID, "error", err)
			}
			result.Synced++
			e.log.Debug(ctx, "operation synced", "id", op.ID, "type", op.Type)
		}
	}
	return nil
}

func (e *Engine) drainPhotos(ctx context.Context, result *Result) error {
	photos, err := e.store.Photos.GetPending(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load pending photos: %w", err)
	}

	for i := range photos {
		photo := &photos[i]

		if ctx.Err() != nil || !e.online.Load() {
			e.log.Warn(ctx, "photo phase aborted", "remaining", len(photos)-i)
			e.bus.emit(Event{Name: EventSyncOffline})
			return errInterrupted
		}
		if photo.Retries >= e.cfg.MaxRetries {
			result.Skipped++
			continue
		}

		if err := e.photos.Upload(ctx, photo); err != nil {
			e.recordPhotoFailure(ctx, photo, err)
			e.bus.emit(Event{Name: EventPhotoFailed, Payload: PhotoPayload{ID: photo.ID, ParentID: photo.ParentID, FileName: photo.FileName}})
			result.PhotosFailed++
			continue
		}
		if err := e.store.Photos.Remove(ctx, photo.ID); err != nil {
			e.log.Error(ctx, "failed to remove synced photo", "id", photo.ID, "error", err)
		}
		e.bus.emit(Event{Name: EventPhotoSynced, Payload: PhotoPayload{ID: photo.ID, ParentID: photo.ParentID, FileName: photo.FileName}})
		result.PhotosSynced++
	}
	return nil
}

// recordOperationFailure counts the attempt and either parks the operation
// as failed or schedules a backed-off retry.
func (e *Engine) recordOperationFailure(ctx context.Context, op *models.PendingOperation, cause error) {
	e.setErr(cause)

	if op.Retries+1 >= e.cfg.MaxRetries {
		if err := e.store.Operations.UpdateStatus(ctx, op.ID, models.StatusFailed, cause.Error()); err != nil {
			e.log.Error(ctx, "failed to mark operation failed", "id", op.ID, "error", err)
		}
		e.setErr(fmt.Errorf("%w: %s", common.ErrRetriesExhausted, cause))
		e.log.Warn(ctx, "operation retries exhausted", "id", op.ID, "type", op.Type, "error", cause)
		return
	}

	if err := e.store.Operations.UpdateStatus(ctx, op.ID, models.StatusPending, cause.Error()); err != nil {
		e.log.Error(ctx, "failed to record operation attempt", "id", op.ID, "error", err)
		return
	}

	delay := e.backoff.Delay(op.Retries)
	e.scheduleRetry(op.ID, delay)
	e.log.Debug(ctx, "operation retry scheduled", "id", op.ID, "attempt", op.Retries+1, "delay", delay)
}

func (e *Engine) recordPhotoFailure(ctx context.Context, photo *models.PendingPhoto, cause error) {
	e.setErr(cause)

	status := models.StatusPending
	if photo.Retries+1 >= e.cfg.MaxRetries {
		status = models.StatusFailed
		e.log.Warn(ctx, "photo retries exhausted", "id", photo.ID, "error", cause)
	}
	if err := e.store.Photos.UpdateStatus(ctx, photo.ID, status, cause.Error()); err != nil {
		e.log.Error(ctx, "failed to record photo attempt", "id", photo.ID, "error", err)
		return
	}
	if status == models.StatusPending {
		e.scheduleRetry("photo:"+photo.ID, e.backoff.Delay(photo.Retries))
	}
}

// resolveConflict applies the server-wins policy: record the divergence in
// the conflict log, refresh the local cache with the server's version and
// drop the queued operation.
func (e *Engine) resolveConflict(ctx context.Context, op *models.PendingOperation, serverData []byte) {
	var local, server map[string]any
	if err := json.Unmarshal(op.Payload, &local); err != nil {
		local = nil
	}
	if err := json.Unmarshal(serverData, &server); err != nil {
		e.log.Error(ctx, "conflict response carried malformed server data", "id", op.ID, "error", err)
		e.recordOperationFailure(ctx, op, fmt.Errorf("%w: malformed conflict payload", common.ErrServerRejected))
		return
	}

	cmp := conflict.CompareFields(local, server)
	fields := conflict.ConflictingFieldNames(cmp)

	e.setStatus(StatusConflict, nil)
	e.bus.emit(Event{Name: EventConflict, Payload: ConflictPayload{
		OfflineID: op.OfflineID,
		Type:      op.Type,
		Fields:    fields,
	}})
	e.notifyConflict(ctx, local, server, fields)

	if _, err := e.store.Conflicts.Append(ctx, &models.ConflictRecord{
		OfflineID:         op.OfflineID,
		Type:              op.Type,
		LocalData:         op.Payload,
		ServerData:        serverData,
		ConflictingFields: fields,
		Resolution:        models.ResolutionKeepServer,
	}); err != nil {
		e.log.Error(ctx, "failed to append conflict record", "id", op.ID, "error", err)
	}

	if id, ok := server["id"].(string); ok && id != "" {
		if err := e.store.Entities.Put(ctx, &models.CachedEntity{
			ID:   id,
			Kind: op.Type,
			Data: serverData,
		}); err != nil {
			e.log.Error(ctx, "failed to cache server version", "id", id, "error", err)
		}
	}

	if err := e.store.Operations.Remove(ctx, op.ID); err != nil {
		e.log.Error(ctx, "failed to remove conflicted operation", "id", op.ID, "error", err)
	}
	e.log.Info(ctx, "conflict resolved server-wins", "offline_id", op.OfflineID, "fields", fields)
}

// notifyConflict shields the cycle from a panicking callback.
func (e *Engine) notifyConflict(ctx context.Context, local, server map[string]any, fields []string) {
	if e.onConflict == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(ctx, "conflict callback panicked", "panic", r)
		}
	}()
	e.onConflict(ctx, local, server, fields)
}

func (e *Engine) scheduleRetry(key string, delay time.Duration) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()

	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(delay, func() {
		e.timersMu.Lock()
		delete(e.timers, key)
		e.timersMu.Unlock()

		if e.online.Load() {
			_, _ = e.SyncPendingOperations(context.Background())
		}
	})
}

func (e *Engine) cancelScheduledRetries() {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
}

func (e *Engine) stampLastSync(ctx context.Context) {
	value := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := e.store.KV.Set(ctx, common.KVKeyLastSyncAt, []byte(value), nil); err != nil {
		e.log.Warn(ctx, "failed to stamp last sync time", "error", err)
	}
}

func (e *Engine) setStatus(status Status, err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status = status
	e.lastErr = err
}

// setErr records the most recent item error without touching the state; the
// cycle decides the final status once every item has been attempted.
func (e *Engine) setErr(err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.lastErr = err
}

// Close stops outstanding retry timers. Pending work stays in the store for
// the next process lifetime.
func (e *Engine) Close() {
	e.cancelScheduledRetries()
}
