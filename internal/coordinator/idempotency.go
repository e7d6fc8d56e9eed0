package coordinator

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/memcord/memcord/internal/model"
)

// idemCache remembers update results per client idempotency token for a
// retention window. A duplicate token within the window returns the
// previously computed result without re-executing the update.
type idemCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newIdemCache(ttl time.Duration) (*idemCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &idemCache{cache: cache, ttl: ttl}, nil
}

func (c *idemCache) key(userID, token string) string {
	return userID + "|" + token
}

func (c *idemCache) get(userID, token string) (*model.Memory, bool) {
	v, ok := c.cache.Get(c.key(userID, token))
	if !ok {
		return nil, false
	}
	m, ok := v.(*model.Memory)
	return m, ok
}

func (c *idemCache) put(userID, token string, m *model.Memory) {
	c.cache.SetWithTTL(c.key(userID, token), m, 1, c.ttl)
	// ristretto applies sets asynchronously; flush so a duplicate request
	// racing right behind this one observes the stored result.
	c.cache.Wait()
}
