package kv

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, nonce BLOB);`)
	require.NoError(t, err)

	return db
}

func TestGet_MissingKeyIsNil(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	value, nonce, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Nil(t, nonce)
}

func TestSetGet_PlainAndSealed(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "plain", []byte("v1"), nil))
	value, nonce, err := r.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Nil(t, nonce)

	require.NoError(t, r.Set(ctx, "sealed", []byte("ciphertext"), []byte("nonce123")))
	value, nonce, err = r.Get(ctx, "sealed")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), value)
	assert.Equal(t, []byte("nonce123"), nonce)

	// Upsert replaces both value and nonce.
	require.NoError(t, r.Set(ctx, "sealed", []byte("v2"), nil))
	value, nonce, err = r.Get(ctx, "sealed")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
	assert.Nil(t, nonce)
}

func TestDeleteAndClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte("1"), nil))
	require.NoError(t, r.Set(ctx, "b", []byte("2"), nil))

	require.NoError(t, r.Delete(ctx, "a"))
	require.NoError(t, r.Delete(ctx, "a")) // idempotent

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, list)

	require.NoError(t, r.Clear(ctx))
	list, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
