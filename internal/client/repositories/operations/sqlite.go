package operations

import (
	"context"
	"database/sql"
	"errors"
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

const operationColumns = `id, type, endpoint, method, payload, offline_id, status, retries, last_error, created_at, last_attempt_at`

func (r *SQLiteRepository) Queue(ctx context.Context, op *models.PendingOperation) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.OfflineID == "" {
		op.OfflineID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.Status = models.StatusPending
	op.Retries = 0

	query := `INSERT INTO pending_operations (id, type, endpoint, method, payload, offline_id, status, retries, last_error, created_at)
			values (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.Type, op.Endpoint, op.Method, []byte(op.Payload), op.OfflineID, op.Status, op.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to queue operation: %w", err)
	}
	return op.ID, nil
}

func (r *SQLiteRepository) GetPending(ctx context.Context, filter models.OperationFilter) ([]models.PendingOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE status != ?`
	args := []any{models.StatusSynced}

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Endpoint != "" {
		query += ` AND endpoint = ?`
		args = append(args, filter.Endpoint)
	}
	// rowid breaks timestamp ties in insertion order, so a burst of saves
	// replays exactly as captured.
	query += ` ORDER BY created_at ASC, rowid ASC`

	return r.selectOperations(ctx, query, args...)
}

func (r *SQLiteRepository) GetFailed(ctx context.Context) ([]models.PendingOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM pending_operations WHERE status = ? ORDER BY created_at ASC, rowid ASC`
	return r.selectOperations(ctx, query, models.StatusFailed)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.PendingOperation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM pending_operations WHERE id = ?`, id)

	op, err := scanOperation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// UpdateStatus runs inside a transaction: the retry counter increment must
// not race with a concurrent delete of the same row.
//
// The counter increments whenever an attempt error is recorded. A transient
// failure therefore counts even though the operation goes back to pending.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status models.OperationStatus, lastError string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := time.Now().UTC().UnixMilli()

		var query string
		if status == models.StatusFailed || lastError != "" {
			query = `UPDATE pending_operations SET status = ?, last_error = ?, last_attempt_at = ?, retries = retries + 1 WHERE id = ?`
		} else {
			query = `UPDATE pending_operations SET status = ?, last_error = ?, last_attempt_at = ? WHERE id = ?`
		}

		result, err := tx.ExecContext(ctx, query, status, lastError, now, id)
		if err != nil {
			return fmt.Errorf("failed to update operation status: %w", err)
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
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, retries = 0, last_error = '' WHERE status = ?`,
		models.StatusPending, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed operations: %w", err)
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
		`SELECT COUNT(*) FROM pending_operations WHERE status = ?`, models.StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) selectOperations(ctx context.Context, query string, args ...any) ([]models.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanOperation(scan func(dest ...any) error) (*models.PendingOperation, error) {
	var (
		op            models.PendingOperation
		payload       []byte
		createdAt     int64
		lastAttemptAt sql.NullInt64
	)

	err := scan(&op.ID, &op.Type, &op.Endpoint, &op.Method, &payload, &op.OfflineID,
		&op.Status, &op.Retries, &op.LastError, &createdAt, &lastAttemptAt)
	if err != nil {
		return nil, err
	}

	op.Payload = payload
	op.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastAttemptAt.Valid {
		t := time.UnixMilli(lastAttemptAt.Int64).UTC()
		op.LastAttemptAt = &t
	}
	return &op, nil
}
