package flow

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Registry holds active flows, keyed by flow ID, with a sliding idle TTL.
// A flow that goes quiet is evicted and torn down, the server-side
// equivalent of the user closing the tab.
type Registry struct {
	cache *ttlcache.Cache[string, *Flow]
}

// NewRegistry creates a Registry whose flows expire after ttl of inactivity.
func NewRegistry(ttl time.Duration) *Registry {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Flow](ttl),
	)
	cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *Flow]) {
		item.Value().Teardown()
	})
	go cache.Start()

	return &Registry{cache: cache}
}

// Put registers a flow.
func (r *Registry) Put(f *Flow) {
	r.cache.Set(f.ID(), f, ttlcache.DefaultTTL)
}

// Get returns the flow with the given ID, refreshing its idle TTL.
func (r *Registry) Get(id string) (*Flow, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Remove evicts a flow immediately, tearing it down.
func (r *Registry) Remove(id string) {
	r.cache.Delete(id)
}

// Stop terminates the registry's background cleanup.
func (r *Registry) Stop() {
	r.cache.Stop()
}
