package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	APIVersion = 10

	tracerName = "personal/discord_gateway/src/client"
)

// Config is fixed for the lifetime of a Gateway.
type Config struct {
	ShardID    int
	ShardCount int
	Identify   IdentifyPayload

	HeartbeatOffset time.Duration
	HeartbeatGrace  time.Duration
	HeartbeatJitter time.Duration
	// HeartbeatCloseFlush is the flush window used when a heartbeat goes unanswered.
	HeartbeatCloseFlush time.Duration

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	FlushIdle      time.Duration
	MaxCloseWait   time.Duration
	LockTimeout    time.Duration

	InboxSize   int
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		ShardCount:          1,
		HeartbeatGrace:      5 * time.Second,
		HeartbeatJitter:     5 * time.Second,
		HeartbeatCloseFlush: time.Second,
		ConnectTimeout:      10 * time.Second,
		CloseTimeout:        5 * time.Second,
		FlushIdle:           250 * time.Millisecond,
		MaxCloseWait:        time.Minute,
		LockTimeout:         2 * time.Minute,
		InboxSize:           256,
		EventBuffer:         256,
	}
}

type options struct {
	logger   *zap.Logger
	locker   IdentifyLocker
	resolver Resolver
	dialer   Dialer
	rand     func(n int64) int64
	tracing  trace.TracerProvider
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLocker(locker IdentifyLocker) Option {
	return func(o *options) { o.locker = locker }
}

func WithResolver(resolver Resolver) Option {
	return func(o *options) { o.resolver = resolver }
}

func WithDialer(dialer Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithTracerProvider sets where login spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracing = tp }
}

// Status is a snapshot of a shard, safe to read from any goroutine.
type Status struct {
	Shard     int           `json:"shard"`
	Phase     string        `json:"phase"`
	SessionID string        `json:"session_id,omitempty"`
	Sequence  int64         `json:"sequence"`
	Resumable bool          `json:"resumable"`
	Latency   time.Duration `json:"latency"`
	LastClose int           `json:"last_close,omitempty"`
}

// Gateway is the public face of one shard. Commands may be called from any
// goroutine; they are executed on the shard loop started by Run.
type Gateway struct {
	cfg      Config
	log      *zap.Logger
	tracer   trace.Tracer
	loop     *eventLoop
	session  *Session
	resolver Resolver
	events   chan Event

	urlMu sync.Mutex
	url   string

	statusMu sync.RWMutex
	status   Status
}

func New(cfg Config, opts ...Option) *Gateway {
	o := options{
		logger: zap.NewNop(),
		dialer: dialWebsocket,
		rand:   rand.Int63n,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracing == nil {
		o.tracing = otel.GetTracerProvider()
	}

	identify := cfg.Identify
	if identify.Shard == nil && cfg.ShardCount > 0 {
		identify.Shard = &[2]int{cfg.ShardID, cfg.ShardCount}
	}

	g := &Gateway{
		cfg:      cfg,
		log:      o.logger.With(zap.Int("shard", cfg.ShardID)),
		tracer:   o.tracing.Tracer(tracerName),
		loop:     newEventLoop(cfg.InboxSize),
		resolver: o.resolver,
		events:   make(chan Event, cfg.EventBuffer),
		status:   Status{Shard: cfg.ShardID, Phase: PhaseIdle.String()},
	}

	scfg := sessionConfig{
		heartbeat: heartbeatConfig{
			offset:     cfg.HeartbeatOffset,
			grace:      cfg.HeartbeatGrace,
			jitter:     cfg.HeartbeatJitter,
			closeFlush: cfg.HeartbeatCloseFlush,
		},
		transport: transportConfig{
			connectTimeout: cfg.ConnectTimeout,
			closeTimeout:   cfg.CloseTimeout,
			flushIdle:      cfg.FlushIdle,
			maxCloseWait:   cfg.MaxCloseWait,
		},
		lockTimeout: cfg.LockTimeout,
	}
	g.session = newSession(g.loop, g.log, scfg, identify, o.dialer, o.locker, o.rand, g.emit)
	return g
}

func (g *Gateway) ID() int {
	return g.cfg.ShardID
}

// Events is closed when Run returns.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Run executes the shard loop until ctx is cancelled. It must be called once.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.events)
	g.loop.Run(ctx)
	g.session.abort()
}

// Login opens a new connection: to the resume URL when the previous session
// can be resumed, otherwise to the gateway URL from the resolver. It returns
// once the dial has started; the outcome arrives on the event stream.
func (g *Gateway) Login(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "gateway.login", trace.WithAttributes(attribute.Int("shard", g.cfg.ShardID)))
	defer span.End()

	var target string
	err := g.do(ctx, func() error {
		if g.session.state.Resumable() {
			target = g.session.state.ResumeURL
		}
		return nil
	})
	if err != nil {
		return err
	}

	resuming := target != ""
	if !resuming {
		if target, err = g.gatewayURL(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve gateway url")
			return err
		}
	}
	target, err = g.connectURL(target)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Bool("resume", resuming))

	return g.do(ctx, func() error {
		if err := g.session.connect(ctx, target); err != nil {
			return err
		}
		// dialing emits nothing until the socket opens or fails
		g.syncStatus()
		return nil
	})
}

// Close shuts the current connection with code, keeping it open for flushWait
// to drain frames already on the way.
func (g *Gateway) Close(code int, flushWait time.Duration) error {
	if !g.loop.Post(func() { g.session.closeWith(code, flushWait) }) {
		return ErrClosed
	}
	return nil
}

// RequestGuildMembers sends a request-guild-members frame and returns its nonce.
func (g *Gateway) RequestGuildMembers(ctx context.Context, opts RequestGuildMembersOptions) (string, error) {
	var nonce string
	err := g.do(ctx, func() error {
		var err error
		nonce, err = g.session.requestGuildMembers(opts)
		return err
	})
	return nonce, err
}

func (g *Gateway) UpdatePresence(ctx context.Context, p Presence) error {
	return g.do(ctx, func() error {
		return g.session.updatePresence(p)
	})
}

// CheckHeartbeat asks the shard to send a heartbeat if one is due. It never
// blocks; a busy shard checks on every frame anyway.
func (g *Gateway) CheckHeartbeat() {
	g.loop.TryPost(g.session.checkHeartbeat)
}

func (g *Gateway) Status() Status {
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	return g.status
}

func (g *Gateway) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	posted := g.loop.Post(func() { errc <- fn() })
	if !posted {
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.loop.Done():
		return ErrClosed
	}
}

func (g *Gateway) gatewayURL(ctx context.Context) (string, error) {
	g.urlMu.Lock()
	defer g.urlMu.Unlock()

	if g.url != "" {
		return g.url, nil
	}
	if g.resolver == nil {
		return "", fmt.Errorf("gateway URL not set")
	}

	bot, err := g.resolver.GatewayBot(ctx)
	if err != nil {
		return "", fmt.Errorf("could not resolve gateway url: %w", err)
	}
	g.url = bot.URL
	return g.url, nil
}

func (g *Gateway) connectURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(APIVersion))
	q.Set("encoding", "json")
	if g.cfg.Identify.Compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// emit runs on the loop.
func (g *Gateway) emit(e Event) {
	e.Shard = g.cfg.ShardID
	g.refreshStatus(e)

	select {
	case g.events <- e:
	case <-g.loop.Done():
	}
}

func (g *Gateway) refreshStatus(e Event) {
	g.syncStatus()

	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	switch e.Kind {
	case EventHeartbeatAck:
		g.status.Latency = e.Latency
	case EventClose:
		g.status.LastClose = e.Code
	}
}

// syncStatus copies the session state into the snapshot. It runs on the loop.
func (g *Gateway) syncStatus() {
	s := g.session

	g.statusMu.Lock()
	defer g.statusMu.Unlock()

	g.status.Phase = s.phase.String()
	g.status.SessionID = s.state.SessionID
	g.status.Sequence = s.state.seq()
	g.status.Resumable = s.state.Resumable()
}
