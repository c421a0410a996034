package leadveil

import (
	"sync"
	"time"
)

// Metrics is the process-wide counter bundle. Counters are monotonic;
// timestamps may race across writers but never corrupt (single mutex).
type Metrics struct {
	mu sync.Mutex

	startedAt        time.Time
	webhookEvents    int64
	endedCounted     int64
	dedupeDropped    int64
	lastError        string
	lastErrorAt      time.Time
	lastFlush        time.Time
	lastSweep        time.Time
	lastIndexRefresh time.Time
}

// MetricsSnapshot is the JSON view returned by the admin status endpoint.
type MetricsSnapshot struct {
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	WebhookEvents    int64  `json:"webhookEvents"`
	EndedCounted     int64  `json:"endedCounted"`
	DedupeDropped    int64  `json:"dedupeDropped"`
	LastError        string `json:"lastError,omitempty"`
	LastErrorAt      string `json:"lastErrorAt,omitempty"`
	LastFlush        string `json:"lastFlush,omitempty"`
	LastSweep        string `json:"lastSweep,omitempty"`
	LastIndexRefresh string `json:"lastIndexRefresh,omitempty"`
}

// NewMetrics creates a Metrics bundle anchored at now.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// IncWebhookEvents counts one received webhook event.
func (m *Metrics) IncWebhookEvents() {
	m.mu.Lock()
	m.webhookEvents++
	m.mu.Unlock()
}

// IncEndedCounted counts one accepted call-ended event.
func (m *Metrics) IncEndedCounted() {
	m.mu.Lock()
	m.endedCounted++
	m.mu.Unlock()
}

// IncDedupeDropped counts one event suppressed by the dedupe cache.
func (m *Metrics) IncDedupeDropped() {
	m.mu.Lock()
	m.dedupeDropped++
	m.mu.Unlock()
}

// SetLastError records err as the most recent failure. Nil is ignored.
func (m *Metrics) SetLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
	m.mu.Unlock()
}

// MarkFlush records a completed flush cycle.
func (m *Metrics) MarkFlush() {
	m.mu.Lock()
	m.lastFlush = time.Now()
	m.mu.Unlock()
}

// MarkSweep records a completed unlock sweep.
func (m *Metrics) MarkSweep() {
	m.mu.Lock()
	m.lastSweep = time.Now()
	m.mu.Unlock()
}

// MarkIndexRefresh records a completed leads-index refresh.
func (m *Metrics) MarkIndexRefresh() {
	m.mu.Lock()
	m.lastIndexRefresh = time.Now()
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy for the admin API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
		WebhookEvents: m.webhookEvents,
		EndedCounted:  m.endedCounted,
		DedupeDropped: m.dedupeDropped,
		LastError:     m.lastError,
	}
	if !m.lastErrorAt.IsZero() {
		snap.LastErrorAt = m.lastErrorAt.UTC().Format(time.RFC3339)
	}
	if !m.lastFlush.IsZero() {
		snap.LastFlush = m.lastFlush.UTC().Format(time.RFC3339)
	}
	if !m.lastSweep.IsZero() {
		snap.LastSweep = m.lastSweep.UTC().Format(time.RFC3339)
	}
	if !m.lastIndexRefresh.IsZero() {
		snap.LastIndexRefresh = m.lastIndexRefresh.UTC().Format(time.RFC3339)
	}
	return snap
}
