package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"personal/discord_gateway/src/opcodes"
)

var (
	ErrNotConnected     = errors.New("gateway is not connected")
	ErrAlreadyConnected = errors.New("gateway already has an active connection")
	ErrSendRejected     = errors.New("frame was not sent")
	ErrClosed           = errors.New("gateway loop has stopped")
)

// IdentifyLocker serializes identify attempts across shards. Acquire blocks
// until every configured lock is held and returns the function that gives
// them back.
type IdentifyLocker interface {
	Acquire(ctx context.Context) (release func(context.Context), err error)
}

// Phase is where the session is in the connection lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingHello
	PhaseIdentifying
	PhaseResuming
	PhaseSteady
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseIdentifying:
		return "identifying"
	case PhaseResuming:
		return "resuming"
	case PhaseSteady:
		return "steady"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionState is what survives a reconnect when the close allows a resume.
type SessionState struct {
	SessionID          string
	Sequence           *int64
	ResumeURL          string
	Resuming           bool
	EventsDuringResume int
}

func (s *SessionState) Resumable() bool {
	return s.SessionID != "" && s.ResumeURL != ""
}

func (s *SessionState) Clear() {
	*s = SessionState{}
}

// advance moves the sequence forward. Stale values are ignored; gap is the
// number of sequence numbers skipped.
func (s *SessionState) advance(seq int64) (applied bool, gap int64) {
	if s.Sequence != nil {
		if seq <= *s.Sequence {
			return false, 0
		}
		gap = seq - *s.Sequence - 1
	}
	s.Sequence = &seq
	return true, gap
}

func (s *SessionState) seq() int64 {
	if s.Sequence == nil {
		return 0
	}
	return *s.Sequence
}

type chunkRequest struct {
	received map[int]struct{}
}

type sessionConfig struct {
	heartbeat   heartbeatConfig
	transport   transportConfig
	lockTimeout time.Duration
}

// Session is the protocol state machine of one shard. It outlives individual
// connections; transport and heartbeater are replaced on every connect.
// Everything runs on the shard loop.
type Session struct {
	loop   Loop
	log    *zap.Logger
	cfg    sessionConfig
	dial   Dialer
	locker IdentifyLocker
	rand   func(n int64) int64
	emit   func(Event)

	identify IdentifyPayload
	state    SessionState
	phase    Phase

	transport *Transport
	heartbeat *heartbeater
	chunks    map[string]*chunkRequest
	release   func(context.Context)
	lockStop  context.CancelFunc
	lastClose int
}

func newSession(loop Loop, log *zap.Logger, cfg sessionConfig, identify IdentifyPayload, dial Dialer, locker IdentifyLocker, rand func(int64) int64, emit func(Event)) *Session {
	return &Session{
		loop:     loop,
		log:      log,
		cfg:      cfg,
		dial:     dial,
		locker:   locker,
		rand:     rand,
		emit:     emit,
		identify: identify,
		chunks:   make(map[string]*chunkRequest),
	}
}

func (s *Session) connect(ctx context.Context, url string) error {
	if s.transport != nil && !s.transport.Closed() {
		return ErrAlreadyConnected
	}

	s.phase = PhaseAwaitingHello
	s.chunks = make(map[string]*chunkRequest)
	s.heartbeat = &heartbeater{
		loop:  s.loop,
		log:   s.log,
		cfg:   s.cfg.heartbeat,
		rand:  s.rand,
		send:  s.sendHeartbeatFrame,
		close: s.closeWith,
		sent:  func() { s.emit(Event{Kind: EventHeartbeatSent, Sequence: s.state.seq()}) },
		acked: func(latency time.Duration) { s.emit(Event{Kind: EventHeartbeatAck, Latency: latency}) },
	}
	s.transport = newTransport(s.loop, s.dial, s.log, s.cfg.transport, s.identify.Compress, s)
	s.transport.Connect(ctx, url)
	return nil
}

func (s *Session) closeWith(code int, flushWait time.Duration) {
	if s.transport == nil || s.transport.Closed() {
		return
	}
	s.phase = PhaseClosing
	s.transport.Close(code, flushWait)
}

func (s *Session) transportOpened(t *Transport) {
	if t != s.transport {
		return
	}
	s.log.Debug("socket open, waiting for hello")
	s.emit(Event{Kind: EventOpen})
}

func (s *Session) transportClosed(t *Transport, code int) {
	if t != s.transport {
		return
	}

	s.heartbeat.stop()
	s.cancelLockRequest()
	s.phase = PhaseClosed
	s.lastClose = code

	verdict := opcodes.Classify(code)
	if verdict.ClearSession {
		s.state.Clear()
	}
	s.state.Resuming = false
	s.state.EventsDuringResume = 0
	s.chunks = make(map[string]*chunkRequest)
	s.releaseLocks()

	s.log.Info("connection closed",
		zap.Int("code", code),
		zap.String("reason", opcodes.CloseName(code)),
		zap.Bool("reconnect", verdict.Reconnect),
		zap.Bool("clear_session", verdict.ClearSession))
	s.emit(Event{Kind: EventClose, Code: code, Verdict: verdict})
}

func (s *Session) transportFrame(t *Transport, p *Packet) {
	if t != s.transport {
		return
	}
	s.heartbeat.check()

	switch p.Op {
	case opcodes.Dispatch:
		s.handleDispatch(p)

	case opcodes.Hello:
		s.handleHello(p)

	case opcodes.Heartbeat:
		if s.state.Resuming {
			return
		}
		if !s.sendHeartbeatFrame() {
			s.log.Warn("could not answer heartbeat request")
		}

	case opcodes.HeartbeatACK:
		s.heartbeat.acknowledge()

	case opcodes.InvalidSession:
		var resumable bool
		if err := codec.Unmarshal(p.D, &resumable); err != nil {
			s.log.Warn("could not unmarshal invalid session data", zap.Error(err))
		}
		s.log.Info("session invalidated", zap.Bool("resumable", resumable))
		if !resumable {
			s.state.Clear()
			s.closeWith(opcodes.CloseInvalidSessionNewSession, 0)
			return
		}
		s.closeWith(opcodes.CloseInvalidSessionResumable, 0)

	case opcodes.Reconnect:
		s.log.Info("server requested reconnect")
		s.closeWith(opcodes.CloseReconnectRequested, 0)

	default:
		s.log.Debug("received unknown opcode", zap.Stringer("op", p.Op))
	}
}

func (s *Session) handleHello(p *Packet) {
	var hello helloData
	if err := codec.Unmarshal(p.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		s.log.Error("invalid hello", zap.Error(err), zap.Int64("interval", hello.HeartbeatInterval))
		s.closeWith(opcodes.CloseInternalError, 0)
		return
	}
	if s.phase != PhaseAwaitingHello {
		s.log.Warn("unexpected hello", zap.Stringer("phase", s.phase))
		return
	}

	s.transport.Established()
	s.heartbeat.start(time.Duration(hello.HeartbeatInterval) * time.Millisecond)

	if s.state.Resumable() {
		s.resume()
		return
	}
	s.startIdentify()
}

func (s *Session) resume() {
	s.phase = PhaseResuming
	s.state.Resuming = true
	s.state.EventsDuringResume = 0

	data := resumeData{
		Token:     s.identify.Token,
		SessionID: s.state.SessionID,
		Sequence:  s.state.seq(),
	}
	if !s.transport.Send(opcodes.Resume, data) {
		s.log.Warn("could not send resume")
		return
	}
	s.log.Info("sent resume", zap.String("session_id", data.SessionID), zap.Int64("seq", data.Sequence))
	s.emit(Event{Kind: EventResumeSent, SessionID: data.SessionID, Sequence: data.Sequence})
}

func (s *Session) startIdentify() {
	// a new session numbers its dispatches from 1 again
	s.state.Clear()
	s.phase = PhaseIdentifying
	if s.locker == nil {
		s.sendIdentify()
		return
	}

	t := s.transport
	locker := s.locker
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.lockTimeout)
	s.lockStop = cancel
	s.log.Debug("acquiring identify lock")
	// A close cancels ctx so no new lock is requested for a dead connection.
	// An answer already on the way still arrives; whatever it granted is
	// handed back in identifyLocked.
	s.loop.Async(func() func() {
		release, err := locker.Acquire(ctx)
		return func() {
			cancel()
			s.identifyLocked(t, release, err)
		}
	})
}

func (s *Session) cancelLockRequest() {
	if s.lockStop != nil {
		s.lockStop()
		s.lockStop = nil
	}
}

func (s *Session) identifyLocked(t *Transport, release func(context.Context), err error) {
	if err != nil {
		if t != s.transport || s.phase != PhaseIdentifying {
			s.log.Debug("identify lock request ended after the connection closed", zap.Error(err))
			return
		}
		s.log.Warn("could not acquire identify lock", zap.Error(err))
		s.closeWith(opcodes.CloseIdentifyLockFailed, 0)
		return
	}

	if t != s.transport || !t.Open() || s.phase != PhaseIdentifying {
		s.log.Debug("connection gone while waiting for identify lock, releasing")
		s.giveBack(release)
		return
	}

	s.release = release
	s.sendIdentify()
}

func (s *Session) sendIdentify() {
	if !s.transport.Send(opcodes.Identify, s.identify.frame()) {
		s.log.Warn("could not send identify")
		return
	}
	s.log.Info("sent identify")
	s.emit(Event{Kind: EventIdentifySent})
}

func (s *Session) releaseLocks() {
	if s.release == nil {
		return
	}
	release := s.release
	s.release = nil
	s.giveBack(release)
}

func (s *Session) giveBack(release func(context.Context)) {
	if release == nil {
		return
	}
	timeout := s.cfg.lockTimeout
	s.loop.Async(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		release(ctx)
		return nil
	})
}

func (s *Session) sendHeartbeatFrame() bool {
	var seq any
	if s.state.Sequence != nil {
		seq = *s.state.Sequence
	}
	return s.transport.Send(opcodes.Heartbeat, seq)
}

func (s *Session) handleDispatch(p *Packet) {
	if p.S != nil {
		prev := s.state.seq()
		applied, gap := s.state.advance(*p.S)
		if applied && gap > 0 {
			s.log.Warn("sequence gap", zap.Int64("previous", prev), zap.Int64("received", *p.S), zap.Int64("missed", gap))
		}
	}

	switch p.T {
	case eventReady:
		var ready readyData
		if err := codec.Unmarshal(p.D, &ready); err != nil {
			s.log.Error("could not unmarshal READY event data", zap.Error(err))
			s.closeWith(opcodes.CloseInternalError, 0)
			return
		}
		s.state.SessionID = ready.SessionID
		s.state.ResumeURL = ready.ResumeGatewayURL
		s.state.Resuming = false
		s.phase = PhaseSteady
		s.releaseLocks()
		s.log.Info("session ready", zap.String("session_id", ready.SessionID), zap.String("user", ready.User.Username))
		s.emit(Event{Kind: EventReady, SessionID: ready.SessionID})

	case eventResumed:
		replayed := s.state.EventsDuringResume
		s.state.Resuming = false
		s.state.EventsDuringResume = 0
		s.phase = PhaseSteady
		s.log.Info("session resumed", zap.Int("replayed", replayed))
		s.emit(Event{Kind: EventResumed, Replayed: replayed, SessionID: s.state.SessionID})

	default:
		if s.state.Resuming {
			s.state.EventsDuringResume++
		}
	}

	if p.T == eventGuildMembersChunk {
		s.trackChunk(p)
	}

	s.emit(Event{Kind: EventDispatch, Type: p.T, Sequence: s.state.seq(), Data: p.D})
}

func (s *Session) trackChunk(p *Packet) {
	var chunk memberChunk
	if err := codec.Unmarshal(p.D, &chunk); err != nil {
		s.log.Warn("could not unmarshal member chunk", zap.Error(err))
		return
	}
	req, ok := s.chunks[chunk.Nonce]
	if chunk.Nonce == "" || !ok {
		return
	}

	if len(chunk.NotFound) > 0 {
		delete(s.chunks, chunk.Nonce)
		s.emit(Event{Kind: EventMembersChunked, Nonce: chunk.Nonce, NotFound: true})
		return
	}

	req.received[chunk.ChunkIndex] = struct{}{}
	if len(req.received) == chunk.ChunkCount {
		delete(s.chunks, chunk.Nonce)
		s.emit(Event{Kind: EventMembersChunked, Nonce: chunk.Nonce})
	}
}

func (s *Session) requestGuildMembers(opts RequestGuildMembersOptions) (string, error) {
	if s.transport == nil || !s.transport.Open() {
		return "", ErrNotConnected
	}
	if opts.Nonce == "" {
		opts.Nonce = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if opts.Query == nil && len(opts.UserIDs) == 0 {
		empty := ""
		opts.Query = &empty
	}

	s.chunks[opts.Nonce] = &chunkRequest{received: make(map[int]struct{})}
	if !s.transport.Send(opcodes.RequestGuildMembers, opts) {
		delete(s.chunks, opts.Nonce)
		return "", ErrSendRejected
	}
	return opts.Nonce, nil
}

func (s *Session) updatePresence(p Presence) error {
	if s.transport == nil || !s.transport.Open() {
		return ErrNotConnected
	}
	if !s.transport.Send(opcodes.PresenceUpdate, p) {
		return ErrSendRejected
	}
	s.identify.SetPresence(p)
	return nil
}

func (s *Session) checkHeartbeat() {
	if s.heartbeat == nil || s.phase == PhaseClosed {
		return
	}
	s.heartbeat.check()
}

// abort drops the connection without reporting a close; used when the loop
// itself is shutting down.
func (s *Session) abort() {
	if s.heartbeat != nil {
		s.heartbeat.stop()
	}
	if s.transport != nil {
		s.transport.abort()
	}
	s.cancelLockRequest()
	s.releaseLocks()
}
