package llmcall

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHistorySize is the number of calls kept when no size is configured.
const DefaultHistorySize = 500

// Store keeps the most recent calls in memory. Older calls are evicted once
// the configured size is reached.
type Store struct {
	calls *lru.Cache[string, *Call]
}

// NewStore creates a call store holding up to size calls.
func NewStore(size int) *Store {
	if size <= 0 {
		size = DefaultHistorySize
	}
	// lru.New only fails for a non-positive size.
	calls, _ := lru.New[string, *Call](size)
	return &Store{calls: calls}
}

// QueryFilter specifies filters for listing calls.
type QueryFilter struct {
	RequestID   string
	DocumentSHA string
	Provider    string
	Model       string
	Outcome     string
	After       *time.Time
	Before      *time.Time
	Success     *bool
	Limit       int
	Offset      int
}

// Add stores a call, evicting the oldest when full.
func (s *Store) Add(call *Call) {
	if call == nil {
		return
	}
	s.calls.Add(call.ID, call)
}

// Len returns the number of stored calls.
func (s *Store) Len() int {
	return s.calls.Len()
}

// Get retrieves a single call by ID. Returns nil if not found.
func (s *Store) Get(id string) *Call {
	call, ok := s.calls.Peek(id)
	if !ok {
		return nil
	}
	return call
}

// List returns calls matching the filter, newest first.
func (s *Store) List(filter QueryFilter) []Call {
	var out []Call
	for _, c := range s.calls.Values() {
		if filter.matches(c) {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Call{}
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []Call{}
	}
	return out
}

// CountByOutcome returns call counts grouped by parse outcome. Failed calls
// are counted under their error kind.
func (s *Store) CountByOutcome() map[string]int {
	counts := make(map[string]int)
	for _, c := range s.calls.Values() {
		switch {
		case c.Success:
			counts[c.Outcome]++
		case c.ErrorKind != "":
			counts[c.ErrorKind]++
		default:
			counts["error"]++
		}
	}
	return counts
}

func (f QueryFilter) matches(c *Call) bool {
	if f.RequestID != "" && c.RequestID != f.RequestID {
		return false
	}
	if f.DocumentSHA != "" && c.DocumentSHA != f.DocumentSHA {
		return false
	}
	if f.Provider != "" && c.Provider != f.Provider {
		return false
	}
	if f.Model != "" && c.Model != f.Model {
		return false
	}
	if f.Outcome != "" && c.Outcome != f.Outcome {
		return false
	}
	if f.Success != nil && c.Success != *f.Success {
		return false
	}
	if f.After != nil && !c.Timestamp.After(*f.After) {
		return false
	}
	if f.Before != nil && !c.Timestamp.Before(*f.Before) {
		return false
	}
	return true
}
