package facility

import "sync"

// sessionSlots admits one served session per device at a time.
type sessionSlots struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newSessionSlots() *sessionSlots {
	return &sessionSlots{busy: make(map[string]struct{})}
}

func (s *sessionSlots) Acquire(deviceID string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[deviceID]; ok {
		return nil, false
	}
	s.busy[deviceID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.busy, deviceID)
			s.mu.Unlock()
		})
	}, true
}
