package webmonitor

import (
	"sync"

	"github.com/dj-oyu/face-overlay/internal/overlay"
)

// Monitor keeps the latest overlay and a short history of non-empty ones for
// the status endpoints.
type Monitor struct {
	mu          sync.Mutex
	historySize int
	version     uint64
	latest      *overlay.Event
	history     []overlay.Event
}

// NewMonitor creates a Monitor remembering the last historySize non-empty overlays
func NewMonitor(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{historySize: historySize}
}

// Update stores a new overlay. Empty overlays replace latest but are not
// kept in history.
func (m *Monitor) Update(ev overlay.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.version++
	m.latest = &ev
	if len(ev.Annotations) > 0 {
		m.history = append([]overlay.Event{ev}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
}

// Snapshot returns the latest overlay (nil before the first one), a copy of
// the history, newest first, and the update count.
func (m *Monitor) Snapshot() (*overlay.Event, []overlay.Event, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *overlay.Event
	if m.latest != nil {
		cp := *m.latest
		latest = &cp
	}
	history := make([]overlay.Event, len(m.history))
	copy(history, m.history)
	return latest, history, m.version
}
