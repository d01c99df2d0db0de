package remote

import "time"

// RouteGraph is the day's assignment graph for one reader, as served by
// the backend. The hierarchy is route -> street -> residence -> client,
// every node carrying a stable backend-assigned identifier.
type RouteGraph struct {
	Routes []RemoteRoute `json:"routes"`
}

// Empty reports whether the graph carries no assignments.
func (g *RouteGraph) Empty() bool {
	return g == nil || len(g.Routes) == 0
}

// RemoteRoute is one route assignment.
type RemoteRoute struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Streets []RemoteStreet `json:"streets"`
}

// RemoteStreet is one street within a route.
type RemoteStreet struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Residences []RemoteResidence `json:"residences"`
}

// RemoteResidence is one metered residence on a street.
type RemoteResidence struct {
	ID          string        `json:"id"`
	Address     string        `json:"address"`
	MeterSerial string        `json:"meter_serial,omitempty"`
	Client      *RemoteClient `json:"client,omitempty"`
}

// RemoteClient is the account holder at a residence.
type RemoteClient struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number,omitempty"`
}

// ReadingPayload is the up-sync wire format for one captured reading.
//
// ClientID, ResidenceID, and RouteID are required by the backend schema;
// callers substitute the documented placeholder for any the reading does
// not carry instead of failing validation client-side.
type ReadingPayload struct {
	ReadingID   string    `json:"reading_id"`
	ClientID    string    `json:"client_id"`
	ResidenceID string    `json:"residence_id"`
	RouteID     string    `json:"route_id"`
	Value       float64   `json:"value"`
	Notes       string    `json:"notes,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
}

// insertResponse is the backend's reply to a reading insert.
type insertResponse struct {
	ID string `json:"id"`
}
