package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, entity *models.CachedEntity) error {
	entity.CachedAt = time.Now().UTC()

	query := `INSERT INTO cached_entities (kind, id, data, cached_at) values (?, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at
	`
	_, err := r.db.ExecContext(ctx, query, entity.Kind, entity.ID, []byte(entity.Data), entity.CachedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to cache entity %s/%s: %w", entity.Kind, entity.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kind, id string) (*models.CachedEntity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT kind, id, data, cached_at FROM cached_entities WHERE kind = ? AND id = ?`, kind, id)

	var (
		entity   models.CachedEntity
		data     []byte
		cachedAt int64
	)
	err := row.Scan(&entity.Kind, &entity.ID, &data, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached entity %s/%s: %w", kind, id, err)
	}

	entity.Data = data
	entity.CachedAt = time.Unix(cachedAt, 0).UTC()
	return &entity, nil
}

func (r *SQLiteRepository) List(ctx context.Context, kind string) ([]models.CachedEntity, error) {
	query := `SELECT kind, id, data, cached_at FROM cached_entities`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached entities: %w", err)
	}
	defer rows.Close()

	var result []models.CachedEntity
	for rows.Next() {
		var (
			entity   models.CachedEntity
			data     []byte
			cachedAt int64
		)
		if err := rows.Scan(&entity.Kind, &entity.ID, &data, &cachedAt); err != nil {
			return nil, err
		}
		entity.Data = data
		entity.CachedAt = time.Unix(cachedAt, 0).UTC()
		result = append(result, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Unix()

	result, err := r.db.ExecContext(ctx, `DELETE FROM cached_entities WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cached entities: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}
