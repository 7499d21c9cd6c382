package agent

import (
	"sync"
	"time"
)

// maxHistoryPerUser caps the per-user query history. The oldest entry is
// dropped when a new one would exceed the cap.
const maxHistoryPerUser = 50

// defaultHistoryLimit is how many entries History returns when the caller
// does not ask for a specific count.
const defaultHistoryLimit = 20

// Record is one executed query and its outcome.
type Record struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes recorded activity across all users.
type Stats struct {
	Users        int `json:"users"`
	TotalQueries int `json:"total_queries"`
}

// History keeps a bounded per-user log of executed queries.
type History struct {
	mu      sync.RWMutex
	entries map[string][]Record
	now     func() time.Time
}

// NewHistory creates an empty history store.
func NewHistory() *History {
	return &History{
		entries: make(map[string][]Record),
		now:     time.Now,
	}
}

// Add records one query outcome for the user.
func (h *History) Add(userID, query, response string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := append(h.entries[userID], Record{
		Query:     query,
		Response:  response,
		Success:   success,
		Timestamp: h.now(),
	})
	if len(records) > maxHistoryPerUser {
		records = records[len(records)-maxHistoryPerUser:]
	}
	h.entries[userID] = records
}

// Recent returns up to limit of the user's most recent records in
// chronological order. limit <= 0 selects the default.
func (h *History) Recent(userID string, limit int) []Record {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.entries[userID]
	if len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// Clear drops the user's history. Reports whether anything was removed.
func (h *History) Clear(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries[userID]) == 0 {
		return false
	}
	delete(h.entries, userID)
	return true
}

// Stats returns activity counters across all users.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Users: len(h.entries)}
	for _, records := range h.entries {
		s.TotalQueries += len(records)
	}
	return s
}
