package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry routes every command for an invite code to the one actor that
// owns that session. Actors are created on first use, recover their state
// from the store, and are evicted when idle (durable state makes eviction
// safe). The registry is passed by reference; there is no package-level
// instance.
type Registry struct {
	store       Store
	broadcaster Broadcaster

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry(store Store, broadcaster Broadcaster) *Registry {
	return &Registry{
		store:       store,
		broadcaster: broadcaster,
		actors:      make(map[string]*Actor),
	}
}

// Get returns the actor for the invite code, creating and recovering it on
// first use.
func (r *Registry) Get(ctx context.Context, inviteCode string) (*Actor, error) {
	r.mu.Lock()
	actor, ok := r.actors[inviteCode]
	if !ok {
		actor = NewActor(inviteCode, r.store, r.broadcaster)
		r.actors[inviteCode] = actor
	}
	r.mu.Unlock()

	if err := actor.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return actor, nil
}

// Evict drops the actor for the invite code. The next Get recovers it from
// durable storage.
func (r *Registry) Evict(inviteCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, inviteCode)
}

// EvictIdle drops every actor whose last command is older than maxIdle and
// returns how many were evicted.
func (r *Registry) EvictIdle(maxIdle time.Duration) int64 {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted int64
	for code, actor := range r.actors {
		if actor.LastActive().Before(cutoff) {
			delete(r.actors, code)
			evicted++
			log.Debug().Str("inviteCode", code).Msg("evicted idle session actor")
		}
	}
	return evicted
}

// Len reports how many actors are resident.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
