package chat

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// store is the capacity strategy behind a Registry. Callers hold Registry.mu.
type store interface {
	Get(key string) (*Session, bool)
	Add(key string, session *Session)
	Remove(key string)
	Len() int
}

// unboundedStore never evicts.
type unboundedStore struct {
	items map[string]*Session
}

func newUnboundedStore() *unboundedStore {
	return &unboundedStore{items: make(map[string]*Session)}
}

func (s *unboundedStore) Get(key string) (*Session, bool) {
	session, ok := s.items[key]
	return session, ok
}

func (s *unboundedStore) Add(key string, session *Session) {
	s.items[key] = session
}

func (s *unboundedStore) Remove(key string) {
	delete(s.items, key)
}

func (s *unboundedStore) Len() int {
	return len(s.items)
}

// lruStore evicts the least recently accessed session once full.
type lruStore struct {
	cache    *lru.Cache[string, *Session]
	removing bool
}

func newLRUStore(capacity int, onEvict func(key string, session *Session)) (*lruStore, error) {
	s := &lruStore{}
	cache, err := lru.NewWithEvict(capacity, func(key string, session *Session) {
		// Explicit removals are not evictions.
		if s.removing {
			return
		}
		onEvict(key, session)
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *lruStore) Get(key string) (*Session, bool) {
	return s.cache.Get(key)
}

func (s *lruStore) Add(key string, session *Session) {
	s.cache.Add(key, session)
}

func (s *lruStore) Remove(key string) {
	s.removing = true
	s.cache.Remove(key)
	s.removing = false
}

func (s *lruStore) Len() int {
	return s.cache.Len()
}
