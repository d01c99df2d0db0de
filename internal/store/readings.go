package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertReading persists a newly captured reading.
func (db *DB) InsertReading(r *Reading) error {
	return db.InsertReadingContext(context.Background(), r)
}

// InsertReadingContext persists a reading with context support.
func (db *DB) InsertReadingContext(ctx context.Context, r *Reading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reading: %w", err)
	}

	query := `
	INSERT INTO readings (
		id, client_id, residence_id, route_id, value,
		notes, photo_path, status, remote_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		r.ID,
		r.ClientID,
		r.ResidenceID,
		r.RouteID,
		r.Value,
		r.Notes,
		r.PhotoPath,
		string(r.Status),
		r.RemoteID,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading %s: %w", r.ID, err)
	}
	return nil
}

// GetPendingReadings returns all readings awaiting up-sync, oldest first.
// The ordering is stable (created_at, then id) so sync sessions process
// the queue deterministically.
func (db *DB) GetPendingReadings() ([]*Reading, error) {
	return db.GetPendingReadingsContext(context.Background())
}

// GetPendingReadingsContext returns pending readings with context support.
func (db *DB) GetPendingReadingsContext(ctx context.Context) ([]*Reading, error) {
	query := readingColumns + `
	FROM readings
	WHERE status = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetReadingByID retrieves a single reading.
// Returns sql.ErrNoRows if the reading is not found.
func (db *DB) GetReadingByID(ctx context.Context, id string) (*Reading, error) {
	row := db.conn.QueryRowContext(ctx, readingColumns+" FROM readings WHERE id = ?", id)
	return scanReading(row)
}

// MarkSynced transitions a reading to Synced with the backend-assigned
// remote ID. The remote ID is what makes the reading synced; the two are
// always written together.
func (db *DB) MarkSynced(id, remoteID string) error {
	return db.MarkSyncedContext(context.Background(), id, remoteID)
}

// MarkSyncedContext marks a reading synced with context support.
func (db *DB) MarkSyncedContext(ctx context.Context, id, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("cannot mark reading %s synced without a remote ID", id)
	}
	query := `UPDATE readings SET status = ?, remote_id = ? WHERE id = ?`
	if _, err := db.conn.ExecContext(ctx, query, string(StatusSynced), remoteID, id); err != nil {
		return fmt.Errorf("failed to mark reading %s synced: %w", id, err)
	}
	return nil
}

// MarkError parks a locally unsyncable reading so it stops churning the
// up-sync queue. The payload is untouched; ResetErrors returns it later.
func (db *DB) MarkError(id string) error {
	return db.MarkErrorContext(context.Background(), id)
}

// MarkErrorContext parks a reading with context support.
func (db *DB) MarkErrorContext(ctx context.Context, id string) error {
	query := `UPDATE readings SET status = ? WHERE id = ? AND status = ?`
	if _, err := db.conn.ExecContext(ctx, query, string(StatusError), id, string(StatusPending)); err != nil {
		return fmt.Errorf("failed to mark reading %s errored: %w", id, err)
	}
	return nil
}

// ResetErrors returns all parked readings to the pending queue for the
// next sync cycle. Returns the number of readings reset.
func (db *DB) ResetErrors() (int, error) {
	return db.ResetErrorsContext(context.Background())
}

// ResetErrorsContext resets errored readings with context support.
func (db *DB) ResetErrorsContext(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE readings SET status = ? WHERE status = ?`,
		string(StatusPending), string(StatusError))
	if err != nil {
		return 0, fmt.Errorf("failed to reset errored readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset readings: %w", err)
	}
	return int(n), nil
}

// CountReadingsByStatus returns how many readings are in each status.
func (db *DB) CountReadingsByStatus(ctx context.Context) (map[ReadingStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM readings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	defer rows.Close()

	counts := make(map[ReadingStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan reading count: %w", err)
		}
		counts[ReadingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reading counts: %w", err)
	}
	return counts, nil
}

const readingColumns = `
	SELECT id, client_id, residence_id, route_id, value,
	       notes, photo_path, status, remote_id, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var r Reading
	var status, createdAt string
	var remoteID sql.NullString

	err := row.Scan(
		&r.ID,
		&r.ClientID,
		&r.ResidenceID,
		&r.RouteID,
		&r.Value,
		&r.Notes,
		&r.PhotoPath,
		&status,
		&remoteID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = ReadingStatus(status)
	r.RemoteID = remoteID.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

func scanReadings(rows *sql.Rows) ([]*Reading, error) {
	var readings []*Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating readings: %w", err)
	}
	return readings, nil
}
