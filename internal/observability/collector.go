// Package observability provides metrics collection and tracing for CLI operations.
package observability

import (
	"sync"
	"time"
)

// OperationInfo names a high-level CLI operation, e.g. "auth.login".
type OperationInfo struct {
	Name string
}

// RequestInfo describes an outbound HTTP request.
type RequestInfo struct {
	Method string
	URL    string
}

// RequestResult describes the outcome of an outbound HTTP request.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	TotalRequests   int           `json:"total_requests"`
	FailedRequests  int           `json:"failed_requests"`
	TotalOperations int           `json:"total_operations"`
	FailedOps       int           `json:"failed_operations"`
	TotalLatency    time.Duration `json:"total_latency_ns"`
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime       time.Time
	totalRequests   int
	failedRequests  int
	totalOperations int
	failedOps       int
	totalLatency    time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an HTTP request. Transport errors and
// non-2xx responses both count as failed.
func (c *SessionCollector) RecordRequest(info RequestInfo, result RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += result.Duration
	if result.Error != nil || result.StatusCode < 200 || result.StatusCode > 299 {
		c.failedRequests++
	}
}

// RecordOperation records metrics for a high-level operation.
func (c *SessionCollector) RecordOperation(_ OperationInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalOperations++
	if err != nil {
		c.failedOps++
	}
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:       c.startTime,
		EndTime:         time.Now(),
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		TotalOperations: c.totalOperations,
		FailedOps:       c.failedOps,
		TotalLatency:    c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.totalOperations = 0
	c.failedOps = 0
	c.totalLatency = 0
}
