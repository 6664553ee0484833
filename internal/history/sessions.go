package history

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/helper"
)

// Sessions maps session ids to their History. When more than maxSessions
// are open the least recently used one is forgotten.
type Sessions struct {
	mu    sync.Mutex
	cache *lru.Cache
	limit int
}

func NewSessions(historyLimit, maxSessions int) *Sessions {
	cache := lru.New(maxSessions)
	cache.OnEvicted = func(key lru.Key, _ interface{}) {
		log.Debug().Interface("session_id", key).Msg("session evicted")
	}
	return &Sessions{cache: cache, limit: historyLimit}
}

// Get returns the history for id. An empty or unknown id starts a new
// session; the returned id is the one to use for the next request.
func (s *Sessions) Get(id string) (string, *History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if h, ok := s.cache.Get(id); ok {
			return id, h.(*History), nil
		}
	}
	if id == "" {
		var err error
		if id, err = helper.GenerateUUID(); err != nil {
			return "", nil, err
		}
	}
	h := New(s.limit)
	s.cache.Add(id, h)
	return id, h, nil
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
