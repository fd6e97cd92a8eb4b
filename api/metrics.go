package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertMFAFailureSpike AlertType = "mfa_failure_spike"
	AlertCSRFSpike       AlertType = "csrf_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding-window counters over audit events and
// fires the alert callback when a threshold is crossed. A spike in MFA
// failures suggests a stolen first factor being brute-forced; a CSRF
// spike suggests an active forgery attempt against a logged-in operator.
type metricsCollector struct {
	mu sync.Mutex

	mfaFailures  []time.Time
	mfaWindow    time.Duration
	mfaThreshold int

	csrfRejects   []time.Time
	csrfWindow    time.Duration
	csrfThreshold int

	alertFn AlertFunc
}

const (
	defaultMFAFailureWindow    = 5 * time.Minute
	defaultMFAFailureThreshold = 20
	defaultCSRFWindow          = 5 * time.Minute
	defaultCSRFThreshold       = 30
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		mfaWindow:     defaultMFAFailureWindow,
		mfaThreshold:  defaultMFAFailureThreshold,
		csrfWindow:    defaultCSRFWindow,
		csrfThreshold: defaultCSRFThreshold,
		alertFn:       alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditMFAFailure:
		m.record(&m.mfaFailures, m.mfaWindow, m.mfaThreshold, AlertEvent{
			Type:    AlertMFAFailureSpike,
			Message: "MFA failure rate exceeds threshold",
		})
	case AuditCSRFRejected:
		m.record(&m.csrfRejects, m.csrfWindow, m.csrfThreshold, AlertEvent{
			Type:    AlertCSRFSpike,
			Message: "CSRF rejection rate exceeds threshold",
		})
	}
}

func (m *metricsCollector) record(times *[]time.Time, window time.Duration, threshold int, alert AlertEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	*times = append(*times, now)
	*times = trimWindow(*times, now, window)

	if len(*times) >= threshold {
		alert.Count = len(*times)
		alert.Threshold = threshold
		alert.Timestamp = now
		m.alertFn(alert)
		// Reset to avoid repeated alerts within the same spike.
		*times = (*times)[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
