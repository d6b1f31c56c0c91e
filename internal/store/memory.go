package store

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds the restart history.
const DefaultHistorySize = 100

// RestartRecord describes one supervised lifetime that has ended.
type RestartRecord struct {
	Epoch     uint64        `json:"epoch"`
	Reason    string        `json:"reason"`
	PID       int           `json:"pid"`
	ExitCode  int           `json:"exit_code"`
	Graceful  bool          `json:"graceful"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Uptime    time.Duration `json:"uptime"`
}

// History is a tiny in-memory ring of restart records. It lives as long as the
// supervisor process and is never persisted.
type History struct {
	mu    sync.RWMutex
	size  int
	items []RestartRecord
	total int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

func (h *History) Append(r RestartRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Uptime == 0 && !r.StartedAt.IsZero() && !r.EndedAt.IsZero() {
		r.Uptime = r.EndedAt.Sub(r.StartedAt)
	}
	h.items = append(h.items, r)
	if len(h.items) > h.size {
		h.items = append(h.items[:0:0], h.items[len(h.items)-h.size:]...)
	}
	h.total++
}

// List returns a copy, oldest first.
func (h *History) List() []RestartRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RestartRecord, len(h.items))
	copy(out, h.items)
	return out
}

// Len is the number of records currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Total counts every record ever appended, including evicted ones.
func (h *History) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Last returns the newest record.
func (h *History) Last() (RestartRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return RestartRecord{}, false
	}
	return h.items[len(h.items)-1], true
}
