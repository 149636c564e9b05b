package fleet

import (
	"time"

	"personal/discord_gateway/src/client"
)

// gate decides when a shard may identify. Shards share a bucket when
// shard % maxConcurrency is equal; each bucket identifies at most once per
// spacing, and no more identifies start than the session start limit has left.
type gate struct {
	spacing        time.Duration
	maxConcurrency int
	total          int
	remaining      int
	window         time.Duration
	resetAt        time.Time

	next map[int]time.Time
	now  func() time.Time
}

func newGate(limit client.SessionStartLimit, spacing time.Duration, now func() time.Time) *gate {
	g := &gate{
		spacing:        spacing,
		maxConcurrency: limit.MaxConcurrency,
		total:          limit.Total,
		remaining:      limit.Remaining,
		window:         24 * time.Hour,
		next:           make(map[int]time.Time),
		now:            now,
	}
	if g.maxConcurrency <= 0 {
		g.maxConcurrency = 1
	}
	if g.total <= 0 {
		// no limit information; only spacing applies
		g.total = -1
		g.remaining = -1
	}
	g.resetAt = now().Add(limit.ResetAfterDuration())
	return g
}

// reserve books the next identify slot for shard and returns how long to
// wait before using it.
func (g *gate) reserve(shard int) time.Duration {
	now := g.now()
	at := now

	bucket := shard % g.maxConcurrency
	if next, ok := g.next[bucket]; ok && next.After(at) {
		at = next
	}

	if g.total > 0 {
		if !at.Before(g.resetAt) {
			g.refill(at)
		}
		if g.remaining <= 0 {
			if g.resetAt.After(at) {
				at = g.resetAt
			}
			g.refill(at)
		}
		g.remaining--
	}

	g.next[bucket] = at.Add(g.spacing)
	return at.Sub(now)
}

func (g *gate) refill(at time.Time) {
	g.remaining = g.total
	for !g.resetAt.After(at) {
		g.resetAt = g.resetAt.Add(g.window)
	}
}
