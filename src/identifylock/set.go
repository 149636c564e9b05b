package identifylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "personal/discord_gateway/src/identifylock"

// lockClient is implemented by *Client.
type lockClient interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) (bool, error)
}

type Lock struct {
	Name string
	TTL  time.Duration
}

type SetConfig struct {
	// Main is taken before the ordered locks and never released; it only
	// expires, which spaces identifies out. Empty name disables it.
	Main  Lock
	Locks []Lock

	RetryInterval  time.Duration
	ReleaseTimeout time.Duration
	// Fallback treats an unreachable lock server as a granted lock.
	Fallback bool

	// TracerProvider receives acquire spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Set is the gate a shard passes before identifying.
type Set struct {
	client lockClient
	cfg    SetConfig
	log    *zap.Logger
	tracer trace.Tracer
}

type held struct {
	name  string
	token string
}

func NewSet(client lockClient, cfg SetConfig, log *zap.Logger) *Set {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &Set{client: client, cfg: cfg, log: log, tracer: cfg.TracerProvider.Tracer(tracerName)}
}

// Acquire blocks until every lock is held or ctx is done. On failure the
// locks taken so far are released before returning. The returned function
// releases the ordered locks.
func (s *Set) Acquire(ctx context.Context) (func(context.Context), error) {
	ctx, span := s.tracer.Start(ctx, "identifylock.acquire")
	defer span.End()

	if s.cfg.Main.Name != "" {
		if _, err := s.acquireOne(ctx, s.cfg.Main); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "main lock")
			return nil, err
		}
	}

	locks := make([]held, 0, len(s.cfg.Locks))
	for _, lock := range s.cfg.Locks {
		token, err := s.acquireOne(ctx, lock)
		if err != nil {
			s.release(context.WithoutCancel(ctx), locks)
			span.RecordError(err)
			span.SetStatus(codes.Error, lock.Name)
			return nil, err
		}
		locks = append(locks, held{name: lock.Name, token: token})
	}
	span.SetAttributes(attribute.Int("locks", len(locks)))

	return func(ctx context.Context) {
		s.release(ctx, locks)
	}, nil
}

func (s *Set) acquireOne(ctx context.Context, lock Lock) (string, error) {
	for attempt := 1; ; attempt++ {
		token, ok, err := s.client.Acquire(ctx, lock.Name, lock.TTL)
		switch {
		case errors.Is(err, ErrUnreachable) && s.cfg.Fallback:
			s.log.Warn("identify lock server unreachable, continuing without lock",
				zap.String("lock", lock.Name), zap.Error(err))
			return "", nil
		case err != nil && ctx.Err() != nil:
			return "", fmt.Errorf("%w: %q after %d attempts: %w", ErrNotAcquired, lock.Name, attempt, ctx.Err())
		case err != nil:
			return "", fmt.Errorf("could not acquire lock %q: %w", lock.Name, err)
		case ok:
			s.log.Debug("acquired identify lock", zap.String("lock", lock.Name), zap.Int("attempts", attempt))
			return token, nil
		}

		wait := time.NewTimer(s.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return "", fmt.Errorf("%w: %q after %d attempts: %w", ErrNotAcquired, lock.Name, attempt, ctx.Err())
		case <-wait.C:
		}
	}
}

// release gives locks back in reverse order. Locks granted by fallback have
// no token and are skipped.
func (s *Set) release(ctx context.Context, locks []held) {
	for i := len(locks) - 1; i >= 0; i-- {
		lock := locks[i]
		if lock.token == "" {
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReleaseTimeout)
		ok, err := s.client.Release(rctx, lock.name, lock.token)
		cancel()
		switch {
		case err != nil:
			s.log.Warn("could not release identify lock", zap.String("lock", lock.name), zap.Error(err))
		case !ok:
			s.log.Debug("identify lock already expired", zap.String("lock", lock.name))
		}
	}
}
