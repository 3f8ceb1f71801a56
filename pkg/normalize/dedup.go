package normalize

import (
	"container/list"
	"sync"
)

const DefaultDedupSize = 1024

// seenSet remembers the most recent source event IDs.
type seenSet struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

func newSeenSet(max int) *seenSet {
	if max <= 0 {
		max = DefaultDedupSize
	}
	return &seenSet{max: max, order: list.New(), items: make(map[string]*list.Element, max)}
}

// mark records id and reports whether it was new. Check and insert happen
// under one lock so two concurrent submissions of the same id cannot both win.
func (s *seenSet) mark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[id]; ok {
		s.order.MoveToFront(el)
		return false
	}
	s.items[id] = s.order.PushFront(id)
	for s.order.Len() > s.max {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(string))
	}
	return true
}

// forget drops id so a later retry of the same event is accepted.
func (s *seenSet) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[id]; ok {
		s.order.Remove(el)
		delete(s.items, id)
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
