package performance

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	markers map[string]*Marker // Active and completed markers by unique ID
	mu      sync.RWMutex
	started time.Time
	config  *TrackerConfig
	seq     uint64
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers    int           `json:"maxMarkers"`    // Maximum number of markers to retain
	Retention     time.Duration `json:"retention"`     // How long completed markers are kept
	SlowThreshold time.Duration `json:"slowThreshold"` // Completed operations slower than this are logged
	Logger        *slog.Logger  `json:"-"`
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:    10000,
		Retention:     time.Hour,
		SlowThreshold: 2 * time.Second,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	return &Tracker{
		markers: make(map[string]*Marker),
		started: time.Now(),
		config:  config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, siteID string) *Marker {
	marker := &Marker{
		Operation: operation,
		SiteID:    siteID,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true, // Assume success until proven otherwise
	}

	t.mu.Lock()
	t.seq++
	t.markers[fmt.Sprintf("%s_%d", operation, t.seq)] = marker
	if len(t.markers) > t.config.MaxMarkers {
		t.cleanupLocked(time.Now())
	}
	t.mu.Unlock()

	return marker
}

// CompleteOperation completes marker and logs it when it ran slow
func (t *Tracker) CompleteOperation(marker *Marker) {
	if marker == nil {
		return
	}
	marker.Complete()

	op, _, success, d, _ := marker.snapshot()
	if t.config.Logger != nil && t.config.SlowThreshold > 0 && d > t.config.SlowThreshold {
		t.config.Logger.Warn("Slow operation", "operation", op, "siteId", marker.SiteID, "duration", d, "success", success, "metadata", marker.metadata())
	}
}

// Summaries aggregates completed markers per operation, sorted by name
func (t *Tracker) Summaries() []OperationSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byOp := make(map[string]*OperationSummary)
	totals := make(map[string]time.Duration)
	for _, m := range t.markers {
		op, completed, success, d, _ := m.snapshot()
		if !completed {
			continue
		}
		s, ok := byOp[op]
		if !ok {
			s = &OperationSummary{Operation: op}
			byOp[op] = s
		}
		s.Count++
		if !success {
			s.Failures++
		}
		if d > s.MaxDuration {
			s.MaxDuration = d
		}
		totals[op] += d
	}

	out := make([]OperationSummary, 0, len(byOp))
	for op, s := range byOp {
		s.AverageDuration = totals[op] / time.Duration(s.Count)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Cleanup removes old markers to prevent memory leaks
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanupLocked(time.Now())
}

func (t *Tracker) cleanupLocked(now time.Time) {
	cutoff := now.Add(-t.config.Retention)
	for id, m := range t.markers {
		_, completed, _, _, end := m.snapshot()
		if completed && end.Before(cutoff) {
			delete(t.markers, id)
		}
	}

	// Maintain max markers limit
	if len(t.markers) > t.config.MaxMarkers {
		count := 0
		for id := range t.markers {
			if count >= t.config.MaxMarkers/2 {
				delete(t.markers, id)
			}
			count++
		}
	}
}

// GetOverallStats returns overall tracker statistics
func (t *Tracker) GetOverallStats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	activeCount := 0
	completedCount := 0
	for _, m := range t.markers {
		if _, completed, _, _, _ := m.snapshot(); completed {
			completedCount++
		} else {
			activeCount++
		}
	}

	return map[string]any{
		"trackerUptime":       time.Since(t.started).String(),
		"totalMarkers":        len(t.markers),
		"activeOperations":    activeCount,
		"completedOperations": completedCount,
		"memoryUsageMB":       memStats.Alloc / (1024 * 1024),
	}
}
