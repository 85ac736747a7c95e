// Package sublist is the observer registry of the dashboard gateway.
package sublist

import (
	"sync"
)

// Subscriber receives pushed frames. Push must not block, it reports closed once the
// subscriber is gone so the list can drop it.
type Subscriber interface {
	Push(sender string, d []byte) (closed bool)
}

type Sublist struct {
	mu   sync.Mutex
	list map[string]Subscriber
}

func NewSublist() *Sublist {
	return &Sublist{list: make(map[string]Subscriber)}
}

func (s *Sublist) Subscribe(key string, sub Subscriber) {
	s.mu.Lock()
	s.list[key] = sub
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(key string) {
	s.mu.Lock()
	delete(s.list, key)
	s.mu.Unlock()
}

// Send pushes d to every subscriber and returns how many accepted it. Closed
// subscribers are pruned.
func (s *Sublist) Send(sender string, d []byte) int {
	n := 0
	s.mu.Lock()
	for key, sub := range s.list {
		closed := sub.Push(sender, d)
		if closed {
			delete(s.list, key)
			continue
		}
		n++
	}
	s.mu.Unlock()
	return n
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
