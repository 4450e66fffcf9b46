package metrics

import "sync"

// Event counter names.
const (
	EventCallsInitiated   = "calls_initiated"
	EventCallsAccepted    = "calls_accepted"
	EventCallsRejected    = "calls_rejected"
	EventCallsCancelled   = "calls_cancelled"
	EventCallsTimedOut    = "calls_timed_out"
	EventCallsFailed      = "calls_failed"
	EventCallsUnavailable = "calls_unavailable"
	EventCallsEnded       = "calls_ended"
	EventBusyRejects      = "busy_rejects"
	EventStaleDropped     = "stale_events_dropped"
	EventMediaFallbacks   = "media_fallbacks"
	EventSignalingDrops   = "signaling_messages_dropped"
	EventRecordingsSaved  = "recordings_saved"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment wanting a real metrics backend can scrape the registry via
// PrometheusHandler; this type exists to keep call-flow accounting testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
