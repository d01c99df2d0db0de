package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReadingStatus tracks a reading's position in the sync lifecycle.
type ReadingStatus string

const (
	// StatusPending means the reading was captured locally and has not
	// been accepted by the backend yet.
	StatusPending ReadingStatus = "pending"

	// StatusSynced means the backend accepted the reading and assigned
	// it a remote ID. A reading is synced if and only if RemoteID is set.
	StatusSynced ReadingStatus = "synced"

	// StatusError means the reading is locally unsyncable (for example a
	// payload that cannot be built) and is parked until ResetErrors
	// returns it to the queue.
	StatusError ReadingStatus = "error"
)

// Reading is one locally captured meter reading.
type Reading struct {
	// ID is the client-generated UUID, assigned at capture time so the
	// record has a stable identity before the backend ever sees it.
	ID string

	// ClientID, ResidenceID, and RouteID tie the reading into the route
	// graph. Any of them may be empty for ad hoc readings taken outside
	// the assigned route.
	ClientID    string
	ResidenceID string
	RouteID     string

	// Value is the meter register value as captured in the field.
	Value float64

	// Notes holds free-form reader annotations.
	Notes string

	// PhotoPath references the locally stored meter photo, if any.
	PhotoPath string

	Status   ReadingStatus
	RemoteID string

	CreatedAt time.Time
}

// NewReading creates a pending reading with a fresh client-generated ID.
func NewReading(clientID, residenceID, routeID string, value float64) *Reading {
	return &Reading{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		ResidenceID: residenceID,
		RouteID:     routeID,
		Value:       value,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks programming-contract invariants before persistence.
func (r *Reading) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("reading ID cannot be empty")
	}
	if r.Status == "" {
		return fmt.Errorf("reading %s has no status", r.ID)
	}
	if r.Status == StatusSynced && r.RemoteID == "" {
		return fmt.Errorf("reading %s marked synced without a remote ID", r.ID)
	}
	return nil
}

// Route is a day's assignment unit for one reader.
type Route struct {
	ID       string
	Name     string
	ReaderID string
}

// Street belongs to a route.
type Street struct {
	ID      string
	RouteID string
	Name    string
}

// Residence belongs to a street and carries the physical meter.
type Residence struct {
	ID          string
	StreetID    string
	Address     string
	MeterSerial string
}

// Client is the account holder at a residence.
type Client struct {
	ID            string
	ResidenceID   string
	Name          string
	AccountNumber string
}
