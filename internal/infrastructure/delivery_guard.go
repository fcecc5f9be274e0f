package infrastructure

import (
	"commercebot/internal/entities"
	"sync"
	"time"
)

// DeliveryGuard remembers recently handled inbound messages so that webhook
// retries are processed once. State is per process.
type DeliveryGuard struct {
	ttl  time.Duration
	seen map[string]time.Time
	mu   sync.Mutex

	lastSweep time.Time
	now       func() time.Time
}

func NewDeliveryGuard(ttl time.Duration) *DeliveryGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DeliveryGuard{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen marks the message as handled and reports whether it already was.
// Messages without an id are never considered duplicates.
func (g *DeliveryGuard) Seen(platform entities.Platform, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := string(platform) + ":" + messageID

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)

	if at, ok := g.seen[key]; ok && now.Sub(at) < g.ttl {
		return true
	}
	g.seen[key] = now
	return false
}

// sweep drops expired keys at most once per ttl. Caller holds mu.
func (g *DeliveryGuard) sweep(now time.Time) {
	if now.Sub(g.lastSweep) < g.ttl {
		return
	}
	for k, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, k)
		}
	}
	g.lastSweep = now
}

// Len is the number of remembered messages.
func (g *DeliveryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
