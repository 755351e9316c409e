package ledger

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// KVStore is the minimal storage surface the ledger needs. Implementations
// hold serialized attempt records keyed by "{purpose}:{identity}" and live
// only for the working session; the ledger layers its own lazy lock expiry
// on top, so a store's TTL is a backstop, not the lockout clock.
type KVStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// TTLStore is the default in-memory KVStore, bounded by a per-entry TTL so
// abandoned records age out without a sweep of our own.
type TTLStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewTTLStore creates a TTLStore whose entries expire ttl after their last
// write.
func NewTTLStore(ttl time.Duration) *TTLStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &TTLStore{cache: cache}
}

// Get implements KVStore.Get.
func (s *TTLStore) Get(key string) (string, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Set implements KVStore.Set.
func (s *TTLStore) Set(key, value string) error {
	s.cache.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

// Remove implements KVStore.Remove.
func (s *TTLStore) Remove(key string) error {
	s.cache.Delete(key)
	return nil
}

// Stop terminates the cache's background cleanup.
func (s *TTLStore) Stop() {
	s.cache.Stop()
}
