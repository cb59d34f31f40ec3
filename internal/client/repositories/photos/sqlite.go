package photos

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, photo *models.PendingPhoto) (string, error) {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	if photo.MimeType == "" {
		photo.MimeType = "application/octet-stream"
	}
	photo.Status = models.StatusPending
	photo.Retries = 0

	query := `INSERT INTO pending_photos (id, parent_id, file_name, mime_type, data, status, retries, last_error, created_at)
			values (?, ?, ?, ?, ?, ?, 0, '', ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		photo.ID, photo.ParentID, photo.FileName, photo.MimeType, photo.Data, photo.Status, photo.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to save pending photo: %w", err)
	}
	return photo.ID, nil
}

func (r *SQLiteRepository) GetPending(ctx context.Context, parentID string) ([]models.PendingPhoto, error) {
	query := `SELECT id, parent_id, file_name, mime_type, data, status, retries, last_error, created_at, last_attempt_at
		FROM pending_photos WHERE status != ?`
	args := []any{models.StatusSynced}

	if parentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, parentID)
	}
	// rowid breaks timestamp ties in insertion order.
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending photos: %w", err)
	}
	defer rows.Close()

	var result []models.PendingPhoto
	for rows.Next() {
		var (
			photo         models.PendingPhoto
			createdAt     int64
			lastAttemptAt sql.NullInt64
		)
		err := rows.Scan(&photo.ID, &photo.ParentID, &photo.FileName, &photo.MimeType, &photo.Data,
			&photo.Status, &photo.Retries, &photo.LastError, &createdAt, &lastAttemptAt)
		if err != nil {
			return nil, err
		}
		photo.CreatedAt = time.UnixMilli(createdAt).UTC()
		if lastAttemptAt.Valid {
			t := time.UnixMilli(lastAttemptAt.Int64).UTC()
			photo.LastAttemptAt = &t
		}
		result = append(result, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status models.OperationStatus, lastError string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := time.Now().UTC().UnixMilli()

		var query string
		if status == models.StatusFailed || lastError != "" {
			query = `UPDATE pending_photos SET status = ?, last_error = ?, last_attempt_at = ?, retries = retries + 1 WHERE id = ?`
		} else {
			query = `UPDATE pending_photos SET status = ?, last_error = ?, last_attempt_at = ? WHERE id = ?`
		}

		result, err := tx.ExecContext(ctx, query, status, lastError, now, id)
		if err != nil {
			return fmt.Errorf("failed to update photo status: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return common.ErrorNotFound
		}
		return nil
	})
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove pending photo: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_photos SET status = ?, retries = 0, last_error = '' WHERE status = ?`,
		models.StatusPending, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed photos: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_photos WHERE status = ?`, models.StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending photos: %w", err)
	}
	return count, nil
}
