package jseval

import (
	"sync"
	"time"
)

// ExecLogEntry is one thing a script did, as seen from the host.
type ExecLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Level     string         `json:"level,omitempty"`
	Name      string         `json:"name,omitempty"`
	Args      []any          `json:"args,omitempty"`
	Error     string         `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Collector gathers log entries from one execution, capped at limit entries.
type Collector struct {
	mu      sync.Mutex
	limit   int
	entries []ExecLogEntry
	dropped int
}

func NewCollector(limit int) *Collector {
	if limit <= 0 {
		limit = 200
	}
	return &Collector{limit: limit}
}

func (c *Collector) Add(e ExecLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.limit {
		c.dropped++
		return
	}
	c.entries = append(c.entries, e)
}

func (c *Collector) Entries() []ExecLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ExecLogEntry(nil), c.entries...)
}

func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
