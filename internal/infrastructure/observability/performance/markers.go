// Package performance provides performance markers for tracking operations
// and their aggregation per operation name.
package performance

import (
	"sync"
	"time"
)

// Marker represents a single performance measurement for an operation
type Marker struct {
	Operation string         `json:"operation"` // e.g., "track:pageview", "track:identify"
	SiteID    string         `json:"siteId"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Completed bool           `json:"completed"`

	mu sync.Mutex
}

// Complete marks the operation as finished and calculates its duration
func (m *Marker) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Completed {
		return // Prevent double completion
	}

	m.EndTime = time.Now()
	m.Duration = m.EndTime.Sub(m.StartTime)
	m.Completed = true
}

// SetSuccess marks the operation as successful or failed
func (m *Marker) SetSuccess(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Success = success
}

// SetError sets an error message and marks the operation as failed
func (m *Marker) SetError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err.Error()
	m.Success = false
}

// AddMetadata adds key-value metadata to the marker
func (m *Marker) AddMetadata(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

func (m *Marker) metadata() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		out[k] = v
	}
	return out
}

func (m *Marker) snapshot() (op string, completed, success bool, d time.Duration, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Operation, m.Completed, m.Success, m.Duration, m.EndTime
}

// OperationSummary aggregates completed markers sharing an operation name
type OperationSummary struct {
	Operation       string        `json:"operation"`
	Count           int           `json:"count"`
	Failures        int           `json:"failures"`
	AverageDuration time.Duration `json:"averageDuration"`
	MaxDuration     time.Duration `json:"maxDuration"`
}
