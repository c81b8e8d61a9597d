package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveAlert records an alert.
func (d *DB) SaveAlert(ctx context.Context, a Alert) error {
	recipients, err := json.Marshal(a.Recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}
	_, err = d.conn.ExecContext(ctx,
		"INSERT INTO alerts (id, type, severity, message, recipients, delivered, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Type, a.Severity, a.Message, string(recipients), a.Delivered, formatTime(a.SentAt),
	)
	if err != nil {
		return fmt.Errorf("saving alert %s: %w", a.ID, err)
	}
	return nil
}

// ListAlerts returns the most recent alerts first, optionally filtered by severity.
func (d *DB) ListAlerts(ctx context.Context, severity string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, type, severity, message, recipients, delivered, sent_at FROM alerts"
	var args []any
	if severity != "" {
		query += " WHERE severity = ?"
		args = append(args, severity)
	}
	query += " ORDER BY sent_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// MarkAlertDelivered flags an alert as delivered.
func (d *DB) MarkAlertDelivered(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, "UPDATE alerts SET delivered = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking alert delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}

// PruneBefore deletes reports and alerts older than cutoff.
func (d *DB) PruneBefore(ctx context.Context, cutoff time.Time) (reports, alerts int64, err error) {
	ts := formatTime(cutoff)
	res, err := d.conn.ExecContext(ctx, "DELETE FROM reports WHERE created_at < ?", ts)
	if err != nil {
		return 0, 0, fmt.Errorf("pruning reports: %w", err)
	}
	reports, _ = res.RowsAffected()
	res, err = d.conn.ExecContext(ctx, "DELETE FROM alerts WHERE sent_at < ?", ts)
	if err != nil {
		return reports, 0, fmt.Errorf("pruning alerts: %w", err)
	}
	alerts, _ = res.RowsAffected()
	return reports, alerts, nil
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var out []Alert
	for rows.Next() {
		var a Alert
		var recipients, sent string
		var delivered int
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &recipients, &delivered, &sent); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &a.Recipients); err != nil {
			return nil, fmt.Errorf("decoding recipients for %s: %w", a.ID, err)
		}
		t, err := parseTime(sent)
		if err != nil {
			return nil, err
		}
		a.SentAt = t
		a.Delivered = delivered == 1
		out = append(out, a)
	}
	return out, rows.Err()
}
