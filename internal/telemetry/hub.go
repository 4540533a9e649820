// Package telemetry collects streaming statistics from the monitor and
// exposes them over HTTP for dashboards and scripts.
package telemetry

import (
	"sync"
	"time"
)

// Sample captures one streaming status point.
type Sample struct {
	Timestamp        time.Time      `json:"timestamp"`
	Streaming        bool           `json:"streaming"`
	Frequencies      map[int]uint64 `json:"frequencies,omitempty"`
	BatchesDelivered uint64         `json:"batchesDelivered"`
	DatagramsDropped uint64         `json:"datagramsDropped"`
	PeakOffsetHz     float64        `json:"peakOffsetHz"`
	PeakPowerDB      float64        `json:"peakPowerDb"`
}

// Reporter captures telemetry samples.
type Reporter interface {
	Report(sample Sample)
}

// Hub keeps a bounded sample history and fans live updates out to
// subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
}

// NewHub builds a hub retaining up to historyLimit samples.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Sample]struct{}),
	}
}

// Report implements Reporter and records a new sample. Slow subscribers
// miss updates rather than stall the reporter.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Latest returns the most recent sample, if any.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return Sample{}, false
	}
	return h.history[len(h.history)-1], true
}

// Subscribe registers a listener for live updates. The returned cancel
// function unregisters and closes the channel.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// MultiReporter fans samples out to several destinations.
type MultiReporter []Reporter

// Report forwards the sample to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}
