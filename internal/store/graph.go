package store

import (
	"context"
	"fmt"
	"time"
)

// The graph inserts below are all "insert if absent": down-sync may run
// any number of times against the same remote graph without duplicating
// rows or clobbering edits the reader made locally since the last pull.

// InsertRoute inserts a route if no row with the same ID exists.
func (db *DB) InsertRoute(r *Route) error {
	return db.InsertRouteContext(context.Background(), r)
}

// InsertRouteContext inserts a route with context support.
func (db *DB) InsertRouteContext(ctx context.Context, r *Route) error {
	if r.ID == "" {
		return fmt.Errorf("route ID cannot be empty")
	}
	query := `
	INSERT INTO routes (id, name, reader_id, synced_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.Name, r.ReaderID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert route %s: %w", r.ID, err)
	}
	return nil
}

// InsertStreet inserts a street if no row with the same ID exists.
func (db *DB) InsertStreet(s *Street) error {
	return db.InsertStreetContext(context.Background(), s)
}

// InsertStreetContext inserts a street with context support.
func (db *DB) InsertStreetContext(ctx context.Context, s *Street) error {
	if s.ID == "" {
		return fmt.Errorf("street ID cannot be empty")
	}
	query := `
	INSERT INTO streets (id, route_id, name)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := db.conn.ExecContext(ctx, query, s.ID, s.RouteID, s.Name); err != nil {
		return fmt.Errorf("failed to insert street %s: %w", s.ID, err)
	}
	return nil
}

// InsertResidence inserts a residence if no row with the same ID exists.
func (db *DB) InsertResidence(r *Residence) error {
	return db.InsertResidenceContext(context.Background(), r)
}

// InsertResidenceContext inserts a residence with context support.
func (db *DB) InsertResidenceContext(ctx context.Context, r *Residence) error {
	if r.ID == "" {
		return fmt.Errorf("residence ID cannot be empty")
	}
	query := `
	INSERT INTO residences (id, street_id, address, meter_serial)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := db.conn.ExecContext(ctx, query, r.ID, r.StreetID, r.Address, r.MeterSerial); err != nil {
		return fmt.Errorf("failed to insert residence %s: %w", r.ID, err)
	}
	return nil
}

// InsertClient inserts a client if no row with the same ID exists.
func (db *DB) InsertClient(c *Client) error {
	return db.InsertClientContext(context.Background(), c)
}

// InsertClientContext inserts a client with context support.
func (db *DB) InsertClientContext(ctx context.Context, c *Client) error {
	if c.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	query := `
	INSERT INTO clients (id, residence_id, name, account_number)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := db.conn.ExecContext(ctx, query, c.ID, c.ResidenceID, c.Name, c.AccountNumber); err != nil {
		return fmt.Errorf("failed to insert client %s: %w", c.ID, err)
	}
	return nil
}

// GraphCounts summarizes the materialized route graph for status output.
type GraphCounts struct {
	Routes     int
	Streets    int
	Residences int
	Clients    int
}

// CountGraph returns row counts for each graph table.
func (db *DB) CountGraph(ctx context.Context) (GraphCounts, error) {
	var counts GraphCounts
	tables := []struct {
		name string
		dest *int
	}{
		{"routes", &counts.Routes},
		{"streets", &counts.Streets},
		{"residences", &counts.Residences},
		{"clients", &counts.Clients},
	}
	for _, tbl := range tables {
		err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl.name).Scan(tbl.dest)
		if err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", tbl.name, err)
		}
	}
	return counts, nil
}
