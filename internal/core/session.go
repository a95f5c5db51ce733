package core

import "sync"

// session is a small keyed store shared by the steps of one workflow.
// It survives StartScan so values set before a run are visible during it.
type session struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func newSession() *session {
	return &session{values: make(map[string]interface{})}
}

func (s *session) set(key string, value interface{}) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *session) get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// increment adds delta to the integer at key. Missing or non-integer values start from zero.
func (s *session) increment(key string, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur int64
	switch v := s.values[key].(type) {
	case int64:
		cur = v
	case int:
		cur = int64(v)
	}
	cur += delta
	s.values[key] = cur
	return cur
}

func (s *session) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

func (s *session) clear() {
	s.mu.Lock()
	s.values = make(map[string]interface{})
	s.mu.Unlock()
}
