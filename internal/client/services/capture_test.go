package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/sync"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	fetchBody []byte
	fetchErr  error
}

func (s *stubAPI) Execute(ctx context.Context, op *models.PendingOperation) (*api.Response, error) {
	return &api.Response{StatusCode: 200}, nil
}

func (s *stubAPI) UploadPhoto(ctx context.Context, photo *models.PendingPhoto) (*api.Response, error) {
	return &api.Response{StatusCode: 201}, nil
}

func (s *stubAPI) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	return s.fetchBody, s.fetchErr
}

func (s *stubAPI) Ping(ctx context.Context) error { return nil }

func setupCapture(t *testing.T) (*CaptureService, *store.Store) {
	t.Helper()
	st := store.New(":memory:", nil)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	engine := sync.NewEngine(st, &stubAPI{}, nil, sync.DefaultConfig(), nil)
	t.Cleanup(engine.Close)

	return NewCaptureService(st, engine, nil), st
}

func TestSaveOptimistic(t *testing.T) {
	svc, st := setupCapture(t)
	ctx := context.Background()

	result := svc.SaveOptimistic(ctx, SaveRequest{
		Type:     "unit_entry",
		Endpoint: "/api/units",
		Method:   "POST",
		Data:     map[string]any{"quantity": 10, "notes": "first pass"},
	})

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.OfflineID)
	assert.JSONEq(t, `{"quantity":10,"notes":"first pass"}`, string(result.Data))

	// The write is durable regardless of connectivity.
	pending, err := st.Operations.GetPending(ctx, models.OperationFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.OfflineID, pending[0].OfflineID)
	assert.Equal(t, models.StatusPending, pending[0].Status)
}

func TestSaveOptimistic_StorageFailure(t *testing.T) {
	st := store.New("/nonexistent-dir/fieldsync.db", nil)
	t.Cleanup(func() { _ = st.Close() })
	engine := sync.NewEngine(st, &stubAPI{}, nil, sync.DefaultConfig(), nil)
	t.Cleanup(engine.Close)
	svc := NewCaptureService(st, engine, nil)

	// Must report the failure, never panic.
	result := svc.SaveOptimistic(context.Background(), SaveRequest{
		Type:     "unit_entry",
		Endpoint: "/api/units",
		Method:   "POST",
		Data:     map[string]any{"quantity": 1},
	})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, common.ErrStorageUnavailable)
}

func TestSavePhoto(t *testing.T) {
	svc, st := setupCapture(t)
	ctx := context.Background()

	result := svc.SavePhoto(ctx, "unit-7", "meter.jpg", "image/jpeg", []byte{0xff, 0xd8})
	require.NoError(t, result.Err)
	assert.True(t, result.Success)

	count, err := st.Photos.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPendingCount(t *testing.T) {
	svc, _ := setupCapture(t)
	ctx := context.Background()

	count, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.False(t, svc.HasPending(ctx))

	svc.SaveOptimistic(ctx, SaveRequest{Type: "unit_entry", Endpoint: "/api/units", Method: "POST", Data: map[string]any{"q": 1}})
	svc.SavePhoto(ctx, "unit-7", "a.jpg", "image/jpeg", []byte{1})

	count, err = svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, svc.HasPending(ctx))
}

func TestSyncStatusText(t *testing.T) {
	svc, _ := setupCapture(t)
	ctx := context.Background()

	assert.Equal(t, "idle", svc.SyncStatusText(ctx))

	svc.SaveOptimistic(ctx, SaveRequest{Type: "unit_entry", Endpoint: "/api/units", Method: "POST", Data: map[string]any{"q": 1}})
	assert.Equal(t, "offline, 1 change(s) saved locally", svc.SyncStatusText(ctx))
}

func TestSyncStatusText_StorageUnavailable(t *testing.T) {
	st := store.New("/nonexistent-dir/fieldsync.db", nil)
	t.Cleanup(func() { _ = st.Close() })
	engine := sync.NewEngine(st, &stubAPI{}, nil, sync.DefaultConfig(), nil)
	t.Cleanup(engine.Close)
	svc := NewCaptureService(st, engine, nil)

	assert.Contains(t, svc.SyncStatusText(context.Background()), "storage unavailable")
}
