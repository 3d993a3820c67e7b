// Package audit keeps a bounded in-memory record of management writes.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is how many entries a Store keeps before dropping the
// oldest.
const DefaultCapacity = 500

// Entry is one successful write to the management API.
type Entry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Details   json.RawMessage `json:"details"`
	Timestamp time.Time       `json:"timestamp"`
}

// ListParams holds the query filters for listing audit entries.
type ListParams struct {
	Action   string
	Resource string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Store is a ring of the most recent entries. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{entries: make([]Entry, capacity), now: time.Now}
}

// Insert records an entry and returns it with its ID and timestamp set.
func (s *Store) Insert(action, resource string, details json.RawMessage) Entry {
	if details == nil {
		details = json.RawMessage("{}")
	}
	e := Entry{
		ID:        uuid.New().String(),
		Action:    action,
		Resource:  resource,
		Details:   details,
		Timestamp: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return e
}

// List returns matching entries newest first, plus the number of matches
// before paging.
func (s *Store) List(params ListParams) ([]Entry, int) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.entries)
	}

	var matched []Entry
	for i := 1; i <= n; i++ {
		e := s.entries[(s.next-i+len(s.entries))%len(s.entries)]
		if params.matches(e) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	if params.Offset >= total {
		return []Entry{}, total
	}
	end := params.Offset + params.Limit
	if end > total {
		end = total
	}
	return matched[params.Offset:end], total
}

func (p ListParams) matches(e Entry) bool {
	if p.Action != "" && e.Action != p.Action {
		return false
	}
	if p.Resource != "" && e.Resource != p.Resource {
		return false
	}
	if !p.From.IsZero() && e.Timestamp.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && e.Timestamp.After(p.To) {
		return false
	}
	return true
}
