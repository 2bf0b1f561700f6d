package credential

import (
	"sync"
	"sync/atomic"
)

// Store holds the latest credential. Get is lock-free; Set swaps the whole
// value and then notifies subscribers in the order values were stored.
type Store struct {
	current atomic.Pointer[Credential]

	setMu       sync.Mutex
	subMu       sync.RWMutex
	nextID      int
	subscribers map[int]func(Credential)
}

func NewStore() *Store {
	return &Store{subscribers: map[int]func(Credential){}}
}

func (s *Store) Get() (Credential, bool) {
	c := s.current.Load()
	if c == nil {
		return Credential{}, false
	}
	return *c, true
}

func (s *Store) Set(c Credential) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	stored := c
	s.current.Store(&stored)

	s.subMu.RLock()
	callbacks := make([]func(Credential), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		callbacks = append(callbacks, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range callbacks {
		fn(stored)
	}
}

// Subscribe registers fn for every subsequent Set. Callbacks run on the
// setter's goroutine and must not call Set.
func (s *Store) Subscribe(fn func(Credential)) func() {
	if fn == nil {
		panic("credential.Store.Subscribe: callback must not be nil")
	}
	s.subMu.Lock()
	if s.subscribers == nil {
		s.subscribers = map[int]func(Credential){}
	}
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}
