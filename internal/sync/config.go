package sync

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
)

// PlaceholderID substitutes for any foreign key a reading does not
// carry. The backend treats it as "unassigned" rather than rejecting
// the payload.
const PlaceholderID = "UNASSIGNED"

// Config holds tunables shared by both engines and the coordinator.
//
// Batch sizes are fixed constants rather than derived from payload size:
// the point is bounded remote load and simple, deterministic accounting.
type Config struct {
	// RouteBatchSize is how many top-level route units go in one
	// down-sync batch.
	RouteBatchSize int

	// ResidenceBatchSize chunks the residences nested inside one unit.
	ResidenceBatchSize int

	// ReadingBatchSize is how many pending readings go in one up-sync
	// batch.
	ReadingBatchSize int

	// InterBatchPause is the fixed pause between batches. Backpressure
	// courtesy toward a possibly fragile link, not a correctness
	// requirement.
	InterBatchPause time.Duration

	// RetryPolicy governs every remote call both engines make.
	RetryPolicy retry.Policy

	// DownDeadline and UpDeadline are the session wall-clock budgets.
	DownDeadline time.Duration
	UpDeadline   time.Duration

	// Logger for engine activity.
	Logger *log.Logger

	// Events receives sync lifecycle events (nil means discard).
	Events EventSink
}

// DefaultConfig returns the production tuning.
func DefaultConfig() *Config {
	return &Config{
		RouteBatchSize:     5,
		ResidenceBatchSize: 25,
		ReadingBatchSize:   10,
		InterBatchPause:    500 * time.Millisecond,
		RetryPolicy:        retry.DefaultPolicy(),
		DownDeadline:       10 * time.Minute,
		UpDeadline:         5 * time.Minute,
		Logger:             log.Default(),
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// normalize fills zero values so a partially specified config works.
func (c *Config) normalize() {
	if c.RouteBatchSize <= 0 {
		c.RouteBatchSize = 5
	}
	if c.ResidenceBatchSize <= 0 {
		c.ResidenceBatchSize = 25
	}
	if c.ReadingBatchSize <= 0 {
		c.ReadingBatchSize = 10
	}
	if c.RetryPolicy.GrowthFactor <= 0 {
		c.RetryPolicy = retry.DefaultPolicy()
	}
	if c.DownDeadline <= 0 {
		c.DownDeadline = 10 * time.Minute
	}
	if c.UpDeadline <= 0 {
		c.UpDeadline = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Events == nil {
		c.Events = noopSink{}
	}
}
