package guardkit

import (
	"sync"
	"time"
)

// CallMetrics summarises calls to a dependency (status provider queries, store writes).
type CallMetrics struct {
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	LastFailure     time.Time     `json:"last_failure"`
	LastError       string        `json:"last_error"`
	LastReset       time.Time     `json:"last_reset"`
}

// callMonitor holds the internal call monitoring state
type callMonitor struct {
	mu            sync.Mutex
	totalCount    int64
	successCount  int64
	failureCount  int64
	totalDuration time.Duration
	maxDuration   time.Duration
	minDuration   time.Duration
	lastFailure   time.Time
	lastError     string
	lastReset     time.Time
}

func newCallMonitor() *callMonitor {
	return &callMonitor{
		minDuration: time.Hour, // Initialize to a large value
		lastReset:   time.Now(),
	}
}

// record registers a completed call.
func (m *callMonitor) record(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCount++
	m.totalDuration += duration
	if err == nil {
		m.successCount++
	} else {
		m.failureCount++
		m.lastFailure = time.Now()
		m.lastError = err.Error()
	}
	if duration > m.maxDuration {
		m.maxDuration = duration
	}
	if duration < m.minDuration {
		m.minDuration = duration
	}
}

func (m *callMonitor) metrics() CallMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.totalCount > 0 {
		avg = m.totalDuration / time.Duration(m.totalCount)
	}
	return CallMetrics{
		TotalCalls:      m.totalCount,
		SuccessfulCalls: m.successCount,
		FailedCalls:     m.failureCount,
		AverageDuration: avg,
		MaxDuration:     m.maxDuration,
		MinDuration:     m.minDuration,
		LastFailure:     m.lastFailure,
		LastError:       m.lastError,
		LastReset:       m.lastReset,
	}
}

func (m *callMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCount = 0
	m.successCount = 0
	m.failureCount = 0
	m.totalDuration = 0
	m.maxDuration = 0
	m.minDuration = time.Hour
	m.lastFailure = time.Time{}
	m.lastError = ""
	m.lastReset = time.Now()
}

// healthy reports whether the failure rate stays under 5%.
// Fewer than 10 calls is always healthy.
func (m *callMonitor) healthy() bool {
	cm := m.metrics()
	if cm.TotalCalls < 10 {
		return true
	}
	return float64(cm.FailedCalls)/float64(cm.TotalCalls) <= 0.05
}
