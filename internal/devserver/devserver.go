// Package devserver implements an in-memory mock of the meter-reading
// backend with the exact wire contract the remote client expects.
//
// It backs the metermockd command for local development and the remote
// client's tests, and carries failure-injection knobs so sync scenarios
// (flaky links, rejected readings) can be reproduced deterministically.
package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
)

// Server is the in-memory backend state.
type Server struct {
	mu sync.Mutex

	// graphs maps reader ID to that reader's assignment graph.
	graphs map[string]*remote.RouteGraph

	// readings maps assigned remote ID to the accepted payload.
	readings map[string]remote.ReadingPayload

	// byReadingID maps client reading ID to remote ID, so a retried
	// insert is idempotent instead of duplicating.
	byReadingID map[string]string

	// statuses maps remote ID to backend-side status.
	statuses map[string]string

	// failReadings forces a status code for specific client reading IDs.
	failReadings map[string]int

	// flakyRemaining makes the next N requests fail with 503.
	flakyRemaining int

	// requestCount counts every API request served (health included).
	requestCount int

	logger *log.Logger
}

// New creates an empty mock backend.
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		graphs:       make(map[string]*remote.RouteGraph),
		readings:     make(map[string]remote.ReadingPayload),
		byReadingID:  make(map[string]string),
		statuses:     make(map[string]string),
		failReadings: make(map[string]int),
		logger:       logger,
	}
}

// Router returns the HTTP router serving the backend API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/readers/{readerID}/route-graph", s.handleRouteGraph).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/readings", s.handleInsertReading).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/readings/{remoteID}/status", s.handleUpdateStatus).Methods(http.MethodPatch)
	return r
}

// SetRouteGraph installs the assignment graph served for a reader.
func (s *Server) SetRouteGraph(readerID string, graph *remote.RouteGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[readerID] = graph
}

// FailReading makes inserts of the given client reading ID fail with the
// given HTTP status until cleared with status 0.
func (s *Server) FailReading(readingID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failReadings, readingID)
		return
	}
	s.failReadings[readingID] = status
}

// SetFlaky makes the next n requests fail with 503, whatever they are.
func (s *Server) SetFlaky(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flakyRemaining = n
}

// ReadingCount returns how many distinct readings were accepted.
func (s *Server) ReadingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

// RequestCount returns how many API requests were served.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// AcceptedReading returns the stored payload for a client reading ID.
func (s *Server) AcceptedReading(readingID string) (remote.ReadingPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remoteID, ok := s.byReadingID[readingID]
	if !ok {
		return remote.ReadingPayload{}, false
	}
	payload, ok := s.readings[remoteID]
	return payload, ok
}

// Status returns the backend-side status for a remote ID.
func (s *Server) Status(remoteID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[remoteID]
	return st, ok
}

// admit applies the flaky knob and request accounting. Returns false if
// the request was consumed by failure injection.
func (s *Server) admit(w http.ResponseWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCount++
	if s.flakyRemaining > 0 {
		s.flakyRemaining--
		writeError(w, http.StatusServiceUnavailable, "injected flake")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRouteGraph(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}
	readerID := mux.Vars(r)["readerID"]

	s.mu.Lock()
	graph, ok := s.graphs[readerID]
	s.mu.Unlock()

	if !ok {
		// Unknown reader gets an empty graph, not an error: a reader with
		// no assignments is a normal state.
		graph = &remote.RouteGraph{}
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleInsertReading(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}

	var payload remote.ReadingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed reading payload")
		return
	}
	if payload.ReadingID == "" {
		writeError(w, http.StatusUnprocessableEntity, "reading_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.failReadings[payload.ReadingID]; ok {
		writeError(w, status, "injected failure for "+payload.ReadingID)
		return
	}

	// Idempotent on the client-generated ID: a retried insert returns the
	// same remote ID instead of duplicating the reading.
	if remoteID, ok := s.byReadingID[payload.ReadingID]; ok {
		writeJSON(w, http.StatusOK, map[string]string{"id": remoteID})
		return
	}

	remoteID := "srv-" + uuid.NewString()
	s.readings[remoteID] = payload
	s.byReadingID[payload.ReadingID] = remoteID
	s.statuses[remoteID] = "received"
	s.logger.Debug("accepted reading", "reading_id", payload.ReadingID, "remote_id", remoteID)

	writeJSON(w, http.StatusCreated, map[string]string{"id": remoteID})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}
	remoteID := mux.Vars(r)["remoteID"]

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.readings[remoteID]; !ok {
		writeError(w, http.StatusNotFound, "unknown reading "+remoteID)
		return
	}
	s.statuses[remoteID] = body.Status
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
