package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, record *models.ConflictRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ResolvedAt.IsZero() {
		record.ResolvedAt = time.Now().UTC()
	}

	fields, err := json.Marshal(record.ConflictingFields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conflicting fields: %w", err)
	}

	query := `INSERT INTO conflict_log (id, offline_id, type, local_data, server_data, conflicting_fields, resolution, resolved_at)
			values (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.OfflineID, record.Type, []byte(record.LocalData), []byte(record.ServerData),
		string(fields), record.Resolution, record.ResolvedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to append conflict record: %w", err)
	}
	return record.ID, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ConflictRecord, error) {
	return r.selectRecords(ctx,
		`SELECT id, offline_id, type, local_data, server_data, conflicting_fields, resolution, resolved_at
		FROM conflict_log ORDER BY resolved_at DESC, id`)
}

func (r *SQLiteRepository) ListByOfflineID(ctx context.Context, offlineID string) ([]models.ConflictRecord, error) {
	return r.selectRecords(ctx,
		`SELECT id, offline_id, type, local_data, server_data, conflicting_fields, resolution, resolved_at
		FROM conflict_log WHERE offline_id = ? ORDER BY resolved_at DESC, id`, offlineID)
}

func (r *SQLiteRepository) selectRecords(ctx context.Context, query string, args ...any) ([]models.ConflictRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflict records: %w", err)
	}
	defer rows.Close()

	var result []models.ConflictRecord
	for rows.Next() {
		var (
			record     models.ConflictRecord
			localData  []byte
			serverData []byte
			fields     string
			resolvedAt int64
		)
		err := rows.Scan(&record.ID, &record.OfflineID, &record.Type, &localData, &serverData,
			&fields, &record.Resolution, &resolvedAt)
		if err != nil {
			return nil, err
		}

		record.LocalData = localData
		record.ServerData = serverData
		record.ResolvedAt = time.Unix(resolvedAt, 0).UTC()
		if err := json.Unmarshal([]byte(fields), &record.ConflictingFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflicting fields: %w", err)
		}
		result = append(result, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
