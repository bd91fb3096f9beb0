package monitor

import (
	"errors"
	"time"
)

// Status is the observed health of a site from one region.
type Status string

// Status values persisted with every tick.
const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusUp || s == StatusDown
}

// Site is a monitored URL as stored in the registry.
type Site struct {
	ID  string
	URL string
}

// WorkEntry is one "check this site" record claimed from the work log.
type WorkEntry struct {
	EntryID string
	SiteID  string
	URL     string
}

// Outcome is a single measurement of one site from one region. Once it has
// been persisted it is called a tick.
type Outcome struct {
	ID             string    `json:"id"`
	SiteID         string    `json:"websiteId"`
	RegionID       string    `json:"regionId"`
	Status         Status    `json:"status"`
	ResponseTimeMs int64     `json:"responseTime"`
	ErrorMessage   *string   `json:"errorMessage"`
	ResponseBody   *string   `json:"responseBody,omitempty"`
	ObservedAt     time.Time `json:"timestamp"`
}

// ProbeResult is what a Prober reports for a single HTTP check.
type ProbeResult struct {
	Status       Status
	StatusCode   int
	ResponseTime time.Duration
	ErrorMessage *string
	Body         *string
}

// BatchStats is a point-in-time copy of a batch consumer's counters.
// Processed counts outcomes handed to the store; Dropped counts undecodable
// queue items that were trimmed without being stored.
type BatchStats struct {
	Processed       int64     `json:"processed"`
	Dropped         int64     `json:"dropped"`
	Failed          int64     `json:"failed"`
	QueueLength     int64     `json:"queue_length"`
	LastBatchSize   int       `json:"last_batch_size"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	StartedAt       time.Time `json:"started_at"`
}

var (
	// ErrMalformedEntry marks a work log entry that is missing required fields.
	ErrMalformedEntry = errors.New("malformed work entry")
	// ErrLeaseHeld is returned when another consumer replica owns the drain lease.
	ErrLeaseHeld = errors.New("drain lease held by another consumer")
)
