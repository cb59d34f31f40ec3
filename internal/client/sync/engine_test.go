package sync

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/blob"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/operations"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      gosync.Mutex
	calls   int
	handler func(op *models.PendingOperation) (*api.Response, error)
	block   chan struct{}
}

func (f *fakeAPI) Execute(ctx context.Context, op *models.PendingOperation) (*api.Response, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(op)
	}
	return &api.Response{StatusCode: 200}, nil
}

func (f *fakeAPI) UploadPhoto(ctx context.Context, photo *models.PendingPhoto) (*api.Response, error) {
	return &api.Response{StatusCode: 201}, nil
}

func (f *fakeAPI) Fetch(ctx context.Context, endpoint string) ([]byte, error) { return nil, nil }

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu       gosync.Mutex
	uploaded []string
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, photo *models.PendingPhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, photo.ID)
	return nil
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(":memory:", nil)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// inertConfig keeps retry timers far in the future so they never fire during
// a test.
func inertConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour
	return cfg
}

func newTestEngine(t *testing.T, st *store.Store, client api.Client, photos blob.Uploader, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(st, client, photos, cfg, nil)
	t.Cleanup(e.Close)
	return e
}

func queueOp(t *testing.T, st *store.Store, endpoint string) *models.PendingOperation {
	t.Helper()
	op := &models.PendingOperation{
		Type:     "unit_entry",
		Endpoint: endpoint,
		Method:   "POST",
		Payload:  json.RawMessage(`{"quantity":10,"notes":"first pass"}`),
	}
	_, err := st.Operations.Queue(context.Background(), op)
	require.NoError(t, err)
	return op
}

type failingOperations struct {
	operations.Repository
	err error
}

func (f *failingOperations) GetPending(ctx context.Context, filter models.OperationFilter) ([]models.PendingOperation, error) {
	return nil, f.err
}

type failingPhotos struct {
	photos.Repository
	err error
}

func (f *failingPhotos) GetPending(ctx context.Context, parentID string) ([]models.PendingPhoto, error) {
	return nil, f.err
}

func TestSync_Offline(t *testing.T) {
	st := setupStore(t)
	client := &fakeAPI{}
	e := newTestEngine(t, st, client, nil, inertConfig())

	queueOp(t, st, "/api/units")

	var gotOffline bool
	unsub := e.Subscribe(func(ev Event) {
		if ev.Name == EventSyncOffline {
			gotOffline = true
		}
	})
	defer unsub()

	result, err := e.SyncPendingOperations(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Offline)
	assert.Equal(t, 0, client.callCount())
	assert.True(t, gotOffline)

	count, err := st.Operations.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSync_DrainsQueueOldestFirst(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	var order []string
	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		order = append(order, op.ID)
		return &api.Response{StatusCode: 200}, nil
	}}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	first := queueOp(t, st, "/api/units")
	second := queueOp(t, st, "/api/units")

	var events []EventName
	unsub := e.Subscribe(func(ev Event) { events = append(events, ev.Name) })
	defer unsub()

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{first.ID, second.ID}, order)

	count, err := st.Operations.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	status, _ := e.Status()
	assert.Equal(t, StatusSynced, status)
	assert.Equal(t, []EventName{EventSyncStart, EventSyncComplete}, events)

	// Successful cycles stamp the last sync time.
	value, _, err := st.KV.Get(ctx, common.KVKeyLastSyncAt)
	require.NoError(t, err)
	assert.NotEmpty(t, value)
}

func TestSync_OperationReadFailureSetsErrorStatus(t *testing.T) {
	st := setupStore(t)
	e := newTestEngine(t, st, &fakeAPI{}, nil, inertConfig())
	e.online.Store(true)

	st.Operations = &failingOperations{Repository: st.Operations, err: errors.New("disk I/O error")}

	result, err := e.SyncPendingOperations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)

	// A queue read failure must not pass for a clean idle cycle.
	status, lastErr := e.Status()
	assert.Equal(t, StatusError, status)
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "disk I/O error")
}

func TestSync_PhotoReadFailureSetsErrorStatus(t *testing.T) {
	st := setupStore(t)
	e := newTestEngine(t, st, &fakeAPI{}, &fakeUploader{}, inertConfig())
	e.online.Store(true)

	st.Photos = &failingPhotos{Repository: st.Photos, err: errors.New("disk I/O error")}

	_, err := e.SyncPendingOperations(context.Background())
	require.NoError(t, err)

	status, lastErr := e.Status()
	assert.Equal(t, StatusError, status)
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "disk I/O error")
}

func TestKickAfter_TimerIsCancellable(t *testing.T) {
	st := setupStore(t)
	client := &fakeAPI{}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	e.KickAfter(time.Hour)

	e.timersMu.Lock()
	_, registered := e.timers[kickTimerKey]
	e.timersMu.Unlock()
	require.True(t, registered)

	// ForceSync cancels the coalescing timer along with the retry timers.
	_, err := e.ForceSync(context.Background())
	require.NoError(t, err)

	e.KickAfter(time.Hour)
	e.Close()

	e.timersMu.Lock()
	remaining := len(e.timers)
	e.timersMu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestSync_OnSyncCompleteReceivesCounts(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	e := newTestEngine(t, st, &fakeAPI{}, nil, inertConfig())
	e.online.Store(true)

	queueOp(t, st, "/api/units")
	queueOp(t, st, "/api/units")

	var gotSynced, gotFailed int
	unsub := e.OnSyncComplete(func(synced, failed int) {
		gotSynced, gotFailed = synced, failed
	})
	defer unsub()

	_, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gotSynced)
	assert.Equal(t, 0, gotFailed)
}

func TestSync_AutoTriggerOnOnlineEdge(t *testing.T) {
	st := setupStore(t)
	client := &fakeAPI{}
	e := newTestEngine(t, st, client, nil, inertConfig())

	queueOp(t, st, "/api/units")
	queueOp(t, st, "/api/units")

	e.SetOnline(true)

	require.Eventually(t, func() bool {
		count, err := st.Operations.CountPending(context.Background())
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A repeated online report is not an edge and must not re-trigger.
	calls := client.callCount()
	e.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.callCount())
}

func TestSync_TransientFailureSchedulesRetry(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	cause := errors.New("connection reset")
	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return nil, cause
	}}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	op := queueOp(t, st, "/api/units")

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := st.Operations.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "connection reset", got.LastError)
	require.NotNil(t, got.LastAttemptAt)

	status, lastErr := e.Status()
	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, lastErr, cause)
}

func TestSync_RetriesExhausted(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return nil, errors.New("boom")
	}}
	cfg := inertConfig()
	cfg.MaxRetries = 2
	e := newTestEngine(t, st, client, nil, cfg)
	e.online.Store(true)

	op := queueOp(t, st, "/api/units")

	// First failure keeps it pending, second parks it as failed.
	_, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	_, err = e.SyncPendingOperations(ctx)
	require.NoError(t, err)

	got, err := st.Operations.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 2, got.Retries)

	// An exhausted operation is excluded from further cycles.
	calls := client.callCount()
	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, client.callCount())
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
}

func TestSync_RetryCounterIncreasesPerAttempt(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return nil, errors.New("boom")
	}}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	op := queueOp(t, st, "/api/units")

	for attempt := 1; attempt <= 4; attempt++ {
		_, err := e.SyncPendingOperations(ctx)
		require.NoError(t, err)

		got, err := st.Operations.GetByID(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.Retries)
	}
}

func TestSync_ConflictServerWins(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	serverData := []byte(`{"id":"unit-9","quantity":12,"notes":"first pass"}`)
	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return &api.Response{StatusCode: 409, Conflict: true, ServerData: serverData}, nil
	}}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	var cbFields []string
	e.OnConflict(func(ctx context.Context, local, server map[string]any, fields []string) {
		cbFields = fields
	})

	var conflictEvents []ConflictPayload
	unsub := e.Subscribe(func(ev Event) {
		if ev.Name == EventConflict {
			conflictEvents = append(conflictEvents, ev.Payload.(ConflictPayload))
		}
	})
	defer unsub()

	op := queueOp(t, st, "/api/units")

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Failed)

	// The losing write is gone from the queue.
	count, err := st.Operations.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Only quantity diverged; notes matched.
	assert.Equal(t, []string{"quantity"}, cbFields)
	require.Len(t, conflictEvents, 1)
	assert.Equal(t, op.OfflineID, conflictEvents[0].OfflineID)
	assert.Equal(t, []string{"quantity"}, conflictEvents[0].Fields)

	// The divergence is on the audit log, resolved server-wins.
	records, err := st.Conflicts.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, op.OfflineID, records[0].OfflineID)
	assert.Equal(t, models.ResolutionKeepServer, records[0].Resolution)
	assert.Equal(t, []string{"quantity"}, records[0].ConflictingFields)

	// The server's version replaced the local cache entry.
	entity, err := st.Entities.Get(ctx, "unit_entry", "unit-9")
	require.NoError(t, err)
	assert.JSONEq(t, string(serverData), string(entity.Data))
}

func TestSync_ConflictCallbackPanicDoesNotAbortCycle(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return &api.Response{StatusCode: 409, Conflict: true, ServerData: []byte(`{"quantity":1}`)}, nil
	}}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)
	e.OnConflict(func(ctx context.Context, local, server map[string]any, fields []string) {
		panic("listener bug")
	})

	queueOp(t, st, "/api/units")

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
}

func TestSync_SingleFlight(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	client := &fakeAPI{block: make(chan struct{})}
	e := newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	queueOp(t, st, "/api/units")

	done := make(chan *Result, 1)
	go func() {
		result, _ := e.SyncPendingOperations(ctx)
		done <- result
	}()

	require.Eventually(t, e.IsSyncing, time.Second, time.Millisecond)

	// A second trigger while one cycle is in flight is a silent no-op.
	second, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.True(t, second.AlreadyRunning)

	close(client.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.Equal(t, 1, client.callCount())
}

func TestSync_MidCycleOfflineLeavesRemainderPending(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	var e *Engine
	client := &fakeAPI{}
	client.handler = func(op *models.PendingOperation) (*api.Response, error) {
		// Connectivity drops after the first item.
		e.SetOnline(false)
		return &api.Response{StatusCode: 200}, nil
	}
	e = newTestEngine(t, st, client, nil, inertConfig())
	e.online.Store(true)

	queueOp(t, st, "/api/units")
	queueOp(t, st, "/api/units")

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, client.callCount())

	count, err := st.Operations.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSync_PhotoPhase(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	uploader := &fakeUploader{}
	e := newTestEngine(t, st, &fakeAPI{}, uploader, inertConfig())
	e.online.Store(true)

	var photoEvents []Event
	unsubscribe := e.Subscribe(func(ev Event) {
		if ev.Name == EventPhotoSynced || ev.Name == EventPhotoFailed {
			photoEvents = append(photoEvents, ev)
		}
	})
	defer unsubscribe()

	photo := &models.PendingPhoto{ParentID: "unit-7", FileName: "meter.jpg", Data: []byte{1, 2, 3}}
	_, err := st.Photos.Save(ctx, photo)
	require.NoError(t, err)

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosSynced)
	assert.Equal(t, []string{photo.ID}, uploader.uploaded)

	require.Len(t, photoEvents, 1)
	assert.Equal(t, EventPhotoSynced, photoEvents[0].Name)
	assert.Equal(t, PhotoPayload{ID: photo.ID, ParentID: "unit-7", FileName: "meter.jpg"}, photoEvents[0].Payload)

	count, err := st.Photos.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSync_PhotoFailureCounts(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	uploader := &fakeUploader{err: errors.New("bucket unreachable")}
	e := newTestEngine(t, st, &fakeAPI{}, uploader, inertConfig())
	e.online.Store(true)

	photo := &models.PendingPhoto{ParentID: "unit-7", FileName: "meter.jpg", Data: []byte{1}}
	_, err := st.Photos.Save(ctx, photo)
	require.NoError(t, err)

	result, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhotosFailed)

	pending, err := st.Photos.GetPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Equal(t, "bucket unreachable", pending[0].LastError)
}

func TestRetryFailed(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	client := &fakeAPI{handler: func(op *models.PendingOperation) (*api.Response, error) {
		return nil, errors.New("boom")
	}}
	cfg := inertConfig()
	cfg.MaxRetries = 1
	e := newTestEngine(t, st, client, nil, cfg)
	e.online.Store(true)

	op := queueOp(t, st, "/api/units")
	_, err := e.SyncPendingOperations(ctx)
	require.NoError(t, err)

	got, err := st.Operations.GetByID(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	// The operator reset restores a fresh retry budget.
	e.online.Store(false)
	count, err := e.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err = st.Operations.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.Retries)
}

func TestSync_ListenerPanicDoesNotAbortCycle(t *testing.T) {
	st := setupStore(t)

	e := newTestEngine(t, st, &fakeAPI{}, nil, inertConfig())
	e.online.Store(true)

	unsub := e.Subscribe(func(ev Event) { panic("bad listener") })
	defer unsub()

	queueOp(t, st, "/api/units")

	result, err := e.SyncPendingOperations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}
