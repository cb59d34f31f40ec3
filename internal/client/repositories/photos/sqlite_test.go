package photos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE pending_photos (
  id TEXT PRIMARY KEY,
  parent_id TEXT NOT NULL,
  file_name TEXT NOT NULL DEFAULT '',
  mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
  data BLOB NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  retries INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  last_attempt_at INTEGER
);
`)
	require.NoError(t, err)

	return db
}

func TestSaveAndGetPending(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	photo := &models.PendingPhoto{
		ParentID: "offline-123",
		FileName: "wall.jpg",
		MimeType: "image/jpeg",
		Data:     []byte{0xff, 0xd8, 0xff},
	}
	id, err := r.Save(ctx, photo)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	other := &models.PendingPhoto{ParentID: "offline-456", Data: []byte{0x01}}
	_, err = r.Save(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", other.MimeType)

	all, err := r.GetPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byParent, err := r.GetPending(ctx, "offline-123")
	require.NoError(t, err)
	require.Len(t, byParent, 1)
	assert.Equal(t, "wall.jpg", byParent[0].FileName)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, byParent[0].Data)
}

func TestGetPending_SameTimestampKeepsInsertionOrder(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Second)
	first := &models.PendingPhoto{ID: "zzzz-first", ParentID: "unit-1", Data: []byte{1}, CreatedAt: ts}
	second := &models.PendingPhoto{ID: "aaaa-second", ParentID: "unit-1", Data: []byte{2}, CreatedAt: ts}
	_, err := r.Save(ctx, first)
	require.NoError(t, err)
	_, err = r.Save(ctx, second)
	require.NoError(t, err)

	pending, err := r.GetPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "zzzz-first", pending[0].ID)
	assert.Equal(t, "aaaa-second", pending[1].ID)
}

func TestUpdateStatus_RetriesAndRemove(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	photo := &models.PendingPhoto{ParentID: "p", Data: []byte{0x01}}
	id, err := r.Save(ctx, photo)
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus(ctx, id, models.StatusFailed, "timeout"))

	pending, err := r.GetPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Equal(t, "timeout", pending[0].LastError)
	assert.NotNil(t, pending[0].LastAttemptAt)

	require.NoError(t, r.Remove(ctx, id))
	require.NoError(t, r.Remove(ctx, id)) // idempotent

	count, err := r.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestResetFailed(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	photo := &models.PendingPhoto{ParentID: "p", Data: []byte{0x01}}
	id, err := r.Save(ctx, photo)
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus(ctx, id, models.StatusFailed, "boom"))

	count, err := r.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pending, err := r.GetPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, 0, pending[0].Retries)
}
