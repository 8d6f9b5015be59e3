package fetcher

import (
	"math/rand/v2"
	"sync"
)

// UserAgentSource yields the User-Agent header value for the next request.
type UserAgentSource interface {
	UserAgent() string
}

// FixedUserAgent always returns the same value.
type FixedUserAgent string

// UserAgent implements UserAgentSource.
func (f FixedUserAgent) UserAgent() string {
	return string(f)
}

// RotatingUserAgents picks a random entry of its pool on every call.
type RotatingUserAgents struct {
	mu   sync.Mutex
	pool []string
	rng  *rand.Rand
}

// NewRotatingUserAgents builds a rotating source. A nil rng uses a randomly seeded generator.
func NewRotatingUserAgents(pool []string, rng *rand.Rand) *RotatingUserAgents {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RotatingUserAgents{pool: append([]string(nil), pool...), rng: rng}
}

// UserAgent implements UserAgentSource. An empty pool yields "" and the
// transport default header is sent.
func (r *RotatingUserAgents) UserAgent() string {
	if len(r.pool) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.rng.IntN(len(r.pool))]
}
