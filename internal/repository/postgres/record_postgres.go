package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"docmerge/internal/model"
	"docmerge/internal/repository"
)

// RecordPostgres is a PostgreSQL implementation of repository.RecordRepository.
// The whole record is kept as a JSONB body; id, entity and timestamps are
// mirrored into columns for lookup and ordering.
type RecordPostgres struct {
	db *sql.DB
}

// NewRecordPostgres creates a new RecordPostgres repository.
func NewRecordPostgres(db *sql.DB) *RecordPostgres {
	return &RecordPostgres{db: db}
}

var _ repository.RecordRepository = (*RecordPostgres)(nil)

// Ping verifies the database connection.
func (r *RecordPostgres) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts a new record row.
func (r *RecordPostgres) Create(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	const q = `
		INSERT INTO records (id, entity, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.ExecContext(ctx, q, rec.ID, rec.Entity, body, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// FindByID fetches a single record by entity and ID.
func (r *RecordPostgres) FindByID(ctx context.Context, entity, id string) (*model.Record, error) {
	const q = `
		SELECT body
		FROM records
		WHERE id = $1 AND entity = $2
	`
	var body []byte
	if err := r.db.QueryRowContext(ctx, q, id, entity).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return decode(body)
}

// Update overwrites the stored body of an existing record.
func (r *RecordPostgres) Update(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	const q = `
		UPDATE records
		SET body = $3, updated_at = $4
		WHERE id = $1 AND entity = $2
	`
	res, err := r.db.ExecContext(ctx, q, rec.ID, rec.Entity, body, rec.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns records of one entity using LIMIT/OFFSET pagination and a total count.
func (r *RecordPostgres) List(ctx context.Context, entity string, pq repository.PageQuery) (*repository.PageResult[model.Record], error) {
	const qCount = `SELECT COUNT(*) FROM records WHERE entity = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, entity).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT body
		FROM records
		WHERE entity = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, entity, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Record, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decode(body)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Record]{
		Items: items,
		Total: total,
	}, nil
}

// Delete removes a record. It does not return an error if the row does not exist.
func (r *RecordPostgres) Delete(ctx context.Context, entity, id string) error {
	const q = `DELETE FROM records WHERE id = $1 AND entity = $2`
	_, err := r.db.ExecContext(ctx, q, id, entity)
	return err
}

func decode(body []byte) (*model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	fill(&rec)
	return &rec, nil
}

// fill allocates maps a stored body may carry as null.
func fill(rec *model.Record) {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if rec.Singles == nil {
		rec.Singles = map[string]string{}
	}
	if rec.Arrays == nil {
		rec.Arrays = map[string][]string{}
	}
	if rec.Collections == nil {
		rec.Collections = map[string][]model.SubDocument{}
	}
}
