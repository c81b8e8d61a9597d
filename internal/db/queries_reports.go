package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveReport stores a generated report.
func (d *DB) SaveReport(ctx context.Context, r Report) error {
	_, err := d.conn.ExecContext(ctx,
		"INSERT INTO reports (id, dataset_id, format, body, created_at) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.DatasetID, r.Format, r.Body, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", r.ID, err)
	}
	return nil
}

// GetReport returns the report with the given id, or nil if there is none.
func (d *DB) GetReport(ctx context.Context, id string) (*Report, error) {
	var r Report
	var created string
	err := d.conn.QueryRowContext(ctx,
		"SELECT id, dataset_id, format, body, created_at FROM reports WHERE id = ?", id,
	).Scan(&r.ID, &r.DatasetID, &r.Format, &r.Body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting report: %w", err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}
