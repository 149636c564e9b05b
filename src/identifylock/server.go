package identifylock

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const maxTTL = 10 * time.Minute

type lease struct {
	token   string
	expires time.Time
}

// Server holds leases in memory and answers lock requests over NATS.
type Server struct {
	prefix string
	log    *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	leases map[string]lease
}

func NewServer(prefix string, log *zap.Logger) *Server {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		prefix: prefix,
		log:    log,
		now:    time.Now,
		leases: make(map[string]lease),
	}
}

// Acquire grants name for ttl unless an unexpired lease exists.
func (s *Server) Acquire(name string, ttl time.Duration) (string, bool) {
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[name]; ok && now.Before(l.expires) {
		return "", false
	}

	token := uuid.NewString()
	s.leases[name] = lease{token: token, expires: now.Add(ttl)}
	return token, true
}

// Release drops the lease if token still owns it.
func (s *Server) Release(name, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok || l.token != token || !s.now().Before(l.expires) {
		return false
	}
	delete(s.leases, name)
	return true
}

// Serve subscribes to the lock subjects on nc. The returned function
// unsubscribes.
func (s *Server) Serve(nc *nats.Conn) (func() error, error) {
	acquire, err := nc.Subscribe(acquireSubject(s.prefix), func(msg *nats.Msg) {
		s.respond(msg, s.handleAcquire(msg.Data))
	})
	if err != nil {
		return nil, err
	}
	release, err := nc.Subscribe(releaseSubject(s.prefix), func(msg *nats.Msg) {
		s.respond(msg, s.handleRelease(msg.Data))
	})
	if err != nil {
		_ = acquire.Unsubscribe()
		return nil, err
	}

	s.log.Info("serving identify locks", zap.String("prefix", s.prefix))
	return func() error {
		return errors.Join(acquire.Unsubscribe(), release.Unsubscribe())
	}, nil
}

func (s *Server) respond(msg *nats.Msg, data []byte) {
	if err := msg.Respond(data); err != nil {
		s.log.Warn("could not respond to lock request", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (s *Server) handleAcquire(data []byte) []byte {
	var req acquireRequest
	if err := codec.Unmarshal(data, &req); err != nil || req.Name == "" {
		return s.encode(acquireResponse{Error: "invalid acquire request"})
	}

	token, ok := s.Acquire(req.Name, time.Duration(req.TTLms)*time.Millisecond)
	s.log.Debug("acquire", zap.String("lock", req.Name), zap.Bool("granted", ok))
	return s.encode(acquireResponse{OK: ok, Token: token})
}

func (s *Server) handleRelease(data []byte) []byte {
	var req releaseRequest
	if err := codec.Unmarshal(data, &req); err != nil || req.Name == "" {
		return s.encode(releaseResponse{Error: "invalid release request"})
	}

	ok := s.Release(req.Name, req.Token)
	s.log.Debug("release", zap.String("lock", req.Name), zap.Bool("released", ok))
	return s.encode(releaseResponse{OK: ok})
}

func (s *Server) encode(v any) []byte {
	b, err := codec.Marshal(v)
	if err != nil {
		s.log.Error("could not marshal lock response", zap.Error(err))
		return []byte(`{"ok":false,"error":"internal error"}`)
	}
	return b
}
