package errors

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the in-memory error record buffer.
const DefaultHistoryCapacity = 500

// Record is an append-only snapshot of one handled failure.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       ErrorType `json:"type"`
	Severity   Severity  `json:"severity"`
	Op         string    `json:"op"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
}

// Stats aggregates the recorded history for health checks.
type Stats struct {
	Total      int               `json:"total"`
	ByType     map[ErrorType]int `json:"by_type"`
	BySeverity map[string]int    `json:"by_severity"`
	LastError  time.Time         `json:"last_error"`
}

// History is a capacity-bounded ring of error records. Guarded records
// can arrive from concurrent flows (login vs. message-send), so access
// is mutex-protected.
type History struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewHistory creates a bounded error history. A non-positive capacity
// falls back to the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a record, evicting the oldest when at capacity.
func (h *History) Add(err error) {
	rec := Record{
		Timestamp: time.Now(),
		Type:      ErrorTypeUnknown,
		Severity:  SeverityMedium,
		Message:   err.Error(),
	}
	var typed *Error
	if As(err, &typed) {
		rec.Type = typed.Type
		rec.Severity = typed.Severity
		rec.Op = typed.Op
		rec.Message = typed.Message
		rec.RetryCount = typed.RetryCount
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= h.capacity {
		copy(h.records, h.records[1:])
		h.records = h.records[:len(h.records)-1]
	}
	h.records = append(h.records, rec)
}

// Recent returns up to n most recent records, newest last.
func (h *History) Recent(n int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, n)
	copy(out, h.records[len(h.records)-n:])
	return out
}

// CountSince counts records at or above the given severity within the window.
func (h *History) CountSince(since time.Time, min Severity) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Timestamp.Before(since) {
			break
		}
		if h.records[i].Severity >= min {
			count++
		}
	}
	return count
}

// Stats returns aggregate statistics over the recorded history.
func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{
		Total:      len(h.records),
		ByType:     make(map[ErrorType]int),
		BySeverity: make(map[string]int),
	}
	for _, rec := range h.records {
		stats.ByType[rec.Type]++
		stats.BySeverity[rec.Severity.String()]++
		if rec.Timestamp.After(stats.LastError) {
			stats.LastError = rec.Timestamp
		}
	}
	return stats
}
