// Package fleet runs a set of shards in one process: it paces their
// identifies, reconnects them after recoverable closes, drives the shared
// heartbeat check and fans their events into one stream.
package fleet

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/opcodes"
)

// Shard is the part of *client.Gateway the coordinator drives.
type Shard interface {
	ID() int
	Run(ctx context.Context)
	Login(ctx context.Context) error
	Close(code int, flushWait time.Duration) error
	CheckHeartbeat()
	Status() client.Status
	Events() <-chan client.Event
}

type Options struct {
	// Limit is the session start limit reported by the gateway.
	Limit client.SessionStartLimit
	// IdentifySpacing is the pause between identifies of one bucket.
	IdentifySpacing time.Duration

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// HeartbeatTick is how often every shard is asked to check its heartbeat.
	HeartbeatTick time.Duration
	// CloseFlush is the flush window used when the fleet stops.
	CloseFlush  time.Duration
	StopTimeout time.Duration

	EventBuffer int
}

func DefaultOptions() Options {
	return Options{
		Limit:             client.SessionStartLimit{MaxConcurrency: 1},
		IdentifySpacing:   5 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 2 * time.Minute,
		HeartbeatTick:     time.Second,
		CloseFlush:        time.Second,
		StopTimeout:       10 * time.Second,
		EventBuffer:       1024,
	}
}

// Coordinator owns the shards of one process.
type Coordinator struct {
	opts    Options
	log     *zap.Logger
	metrics *Metrics

	ids    []int
	shards map[int]Shard
	gate   *gate
	events chan client.Event
	queue  chan int

	stopping atomic.Bool
	stopped  chan int

	// logins tracks Login calls in flight so stop can close what they opened.
	logins sync.WaitGroup

	mu       sync.Mutex
	failures map[int]int
	dead     map[int]bool
}

func New(shards []Shard, opts Options, log *zap.Logger, metrics *Metrics) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Coordinator{
		opts:     opts,
		log:      log,
		metrics:  metrics,
		shards:   make(map[int]Shard, len(shards)),
		gate:     newGate(opts.Limit, opts.IdentifySpacing, time.Now),
		events:   make(chan client.Event, opts.EventBuffer),
		queue:    make(chan int, len(shards)),
		stopped:  make(chan int, len(shards)),
		failures: make(map[int]int),
		dead:     make(map[int]bool),
	}
	for _, s := range shards {
		c.shards[s.ID()] = s
		c.ids = append(c.ids, s.ID())
	}
	sort.Ints(c.ids)
	return c
}

// Events is the fan-in of every shard's event stream. It is closed when Run
// returns.
func (c *Coordinator) Events() <-chan client.Event {
	return c.events
}

// Run connects every shard and keeps them connected until ctx is cancelled,
// then closes them all with CloseUserTerminate.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.events)

	runCtx, cancelShards := context.WithCancel(context.Background())
	defer cancelShards()

	var shards sync.WaitGroup
	for _, id := range c.ids {
		shard := c.shards[id]
		shards.Add(2)
		go func() {
			defer shards.Done()
			shard.Run(runCtx)
		}()
		go func() {
			defer shards.Done()
			c.forward(ctx, shard)
		}()
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		c.heartbeats(ctx)
	}()
	go func() {
		defer workers.Done()
		c.connectLoop(ctx, runCtx)
	}()

	c.log.Info("starting shards", zap.Ints("shards", c.ids), zap.Int("max_concurrency", c.gate.maxConcurrency))
	for _, id := range c.ids {
		c.queue <- id
	}

	<-ctx.Done()
	workers.Wait()
	c.stop()
	cancelShards()
	shards.Wait()
}

// Statuses returns a snapshot of every shard ordered by shard id.
func (c *Coordinator) Statuses() []client.Status {
	statuses := make([]client.Status, 0, len(c.ids))
	for _, id := range c.ids {
		statuses = append(statuses, c.shards[id].Status())
	}
	return statuses
}

func (c *Coordinator) connectLoop(ctx, runCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			shard := c.shards[id]
			var wait time.Duration
			if !shard.Status().Resumable {
				wait = c.gate.reserve(id)
			}
			go c.connect(ctx, runCtx, shard, wait)
		}
	}
}

func (c *Coordinator) connect(ctx, runCtx context.Context, shard Shard, wait time.Duration) {
	log := c.log.With(zap.Int("shard", shard.ID()))
	if wait > 0 {
		log.Debug("waiting for identify slot", zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	c.mu.Lock()
	if c.stopping.Load() {
		c.mu.Unlock()
		return
	}
	c.logins.Add(1)
	c.mu.Unlock()

	err := shard.Login(runCtx)
	c.logins.Done()
	if err != nil {
		log.Warn("could not log in", zap.Error(err))
		c.requeue(ctx, shard.ID())
	}
}

// requeue schedules another login after a backoff that doubles with every
// consecutive failure.
func (c *Coordinator) requeue(ctx context.Context, id int) {
	c.mu.Lock()
	n := c.failures[id]
	c.failures[id] = n + 1
	c.mu.Unlock()

	delay := backoff(c.opts.ReconnectDelay, c.opts.MaxReconnectDelay, n)
	c.log.Info("reconnecting shard", zap.Int("shard", id), zap.Duration("delay", delay), zap.Int("attempt", n+1))

	time.AfterFunc(delay, func() {
		select {
		case c.queue <- id:
		case <-ctx.Done():
		}
	})
}

func backoff(base, limit time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func (c *Coordinator) forward(ctx context.Context, shard Shard) {
	for e := range shard.Events() {
		c.metrics.Observe(e)
		c.handle(ctx, e)

		select {
		case c.events <- e:
		case <-ctx.Done():
			// keep draining so the shard loop never blocks on its stream
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, e client.Event) {
	switch e.Kind {
	case client.EventReady, client.EventResumed:
		c.mu.Lock()
		delete(c.failures, e.Shard)
		c.mu.Unlock()

	case client.EventClose:
		if c.stopping.Load() {
			select {
			case c.stopped <- e.Shard:
			default:
			}
			return
		}
		if !e.Verdict.Reconnect {
			c.log.Error("shard closed with an unrecoverable code",
				zap.Int("shard", e.Shard),
				zap.Int("code", e.Code),
				zap.String("reason", opcodes.CloseName(e.Code)))
			c.mu.Lock()
			c.dead[e.Shard] = true
			c.mu.Unlock()
			return
		}
		c.requeue(ctx, e.Shard)
	}
}

// Dead lists shards that will not reconnect.
func (c *Coordinator) Dead() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int
	for id := range c.dead {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Coordinator) heartbeats(ctx context.Context) {
	if c.opts.HeartbeatTick <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.HeartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.ids {
				c.shards[id].CheckHeartbeat()
			}
		}
	}
}

// stop closes every connected shard and waits for their close events.
func (c *Coordinator) stop() {
	c.mu.Lock()
	c.stopping.Store(true)
	c.mu.Unlock()
	c.logins.Wait()

	pending := 0
	for _, id := range c.ids {
		switch c.shards[id].Status().Phase {
		case client.PhaseIdle.String(), client.PhaseClosed.String():
			continue
		}
		if err := c.shards[id].Close(opcodes.CloseUserTerminate, c.opts.CloseFlush); err == nil {
			pending++
		}
	}
	c.log.Info("stopping shards", zap.Int("connected", pending))

	timeout := time.NewTimer(c.opts.StopTimeout)
	defer timeout.Stop()
	for pending > 0 {
		select {
		case <-c.stopped:
			pending--
		case <-timeout.C:
			c.log.Warn("shards did not close in time", zap.Int("remaining", pending))
			return
		}
	}
}
