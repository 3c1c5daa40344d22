package dashboard

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "konut_sessions_created_total",
		Help: "Dashboard sessions created",
	})
	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "konut_sessions_evicted_total",
		Help: "Dashboard sessions evicted by size or idle time",
	})
)

// Factory builds a fresh Dashboard for a new session.
type Factory func(ctx context.Context) (*Dashboard, error)

// Sessions maps session ids to their own Dashboard so no two users share
// signal state. Idle sessions expire after the TTL and the least recently
// used session is dropped when the table is full.
type Sessions struct {
	cache   *expirable.LRU[string, *Dashboard]
	factory Factory
	group   singleflight.Group
}

func NewSessions(maxSessions int, ttl time.Duration, factory Factory) *Sessions {
	onEvict := func(string, *Dashboard) { sessionsEvicted.Inc() }
	return &Sessions{
		cache:   expirable.NewLRU(maxSessions, onEvict, ttl),
		factory: factory,
	}
}

// Get returns the Dashboard of session id, creating it on first use.
// Concurrent first requests of one session share a single Dashboard.
func (s *Sessions) Get(ctx context.Context, id string) (*Dashboard, error) {
	if d, ok := s.cache.Get(id); ok {
		return d, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		if d, ok := s.cache.Get(id); ok {
			return d, nil
		}
		d, err := s.factory(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, d)
		sessionsCreated.Inc()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dashboard), nil
}

// Peek returns the Dashboard of session id without creating one.
func (s *Sessions) Peek(id string) (*Dashboard, bool) {
	return s.cache.Peek(id)
}

func (s *Sessions) Remove(id string) {
	s.cache.Remove(id)
}

// Purge drops every session and reports how many there were.
func (s *Sessions) Purge() int {
	n := s.cache.Len()
	s.cache.Purge()
	return n
}

func (s *Sessions) Len() int {
	return s.cache.Len()
}
