package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"personal/discord_gateway/src/opcodes"
)

const (
	maxFrameSize = 32 << 20
	writeWait    = 10 * time.Second
)

// wsConn is the part of *websocket.Conn the transport uses.
type wsConn interface {
	SetReadLimit(limit int64)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens the websocket for one connection attempt.
type Dialer func(ctx context.Context, url string) (wsConn, error)

func dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("could not connect to WebSocket: %w", err)
	}
	return conn, nil
}

type transportState int

const (
	transportIdle transportState = iota
	transportConnecting
	transportOpen
	transportFlushing
	transportClosing
	transportClosed
)

type transportHandler interface {
	transportOpened(t *Transport)
	transportFrame(t *Transport, p *Packet)
	transportClosed(t *Transport, code int)
}

type transportConfig struct {
	connectTimeout time.Duration
	closeTimeout   time.Duration
	flushIdle      time.Duration
	maxCloseWait   time.Duration
}

// Transport owns exactly one physical connection attempt. All methods run on
// the shard loop.
type Transport struct {
	loop     Loop
	dial     Dialer
	log      *zap.Logger
	cfg      transportConfig
	handler  transportHandler
	compress bool

	state     transportState
	conn      wsConn
	inflater  *Inflater
	limiter   *limiter
	closeCode int
	drained   int

	connectTimer Timer
	flushTimer   Timer
	idleTimer    Timer
	closeTimer   Timer
	safetyTimer  Timer
}

func newTransport(loop Loop, dial Dialer, log *zap.Logger, cfg transportConfig, compress bool, handler transportHandler) *Transport {
	return &Transport{
		loop:     loop,
		dial:     dial,
		log:      log,
		cfg:      cfg,
		handler:  handler,
		compress: compress,
		limiter:  newLimiter(outboundLimit, outboundReserved, outboundWindow),
	}
}

// Connect dials url off the loop. The connect watchdog runs until Established
// is called, which the session does on HELLO.
func (t *Transport) Connect(ctx context.Context, url string) {
	if t.state != transportIdle {
		t.log.Warn("connect called twice on the same transport")
		return
	}
	t.state = transportConnecting
	t.connectTimer = t.loop.AfterFunc(t.cfg.connectTimeout, t.connectTimedOut)

	t.log.Debug("dialing gateway", zap.String("url", url))
	t.loop.Async(func() func() {
		conn, err := t.dial(ctx, url)
		return func() { t.dialed(conn, err) }
	})
}

func (t *Transport) dialed(conn wsConn, err error) {
	if err != nil {
		if t.state == transportClosed {
			return
		}
		t.log.Warn("dial failed", zap.Error(err))
		t.finish(opcodes.CloseAbnormal)
		return
	}
	if t.state != transportConnecting {
		// closed while dialing
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(maxFrameSize)
	t.conn = conn
	t.state = transportOpen
	if t.compress {
		t.inflater = NewInflater()
	}
	t.limiter.reset(t.loop.Now())

	go t.readLoop(conn)
	t.handler.transportOpened(t)
}

// Established stops the connect watchdog.
func (t *Transport) Established() {
	stopTimer(&t.connectTimer)
}

func (t *Transport) connectTimedOut() {
	t.connectTimer = nil
	t.log.Warn("no hello before connect timeout", zap.Duration("timeout", t.cfg.connectTimeout))
	t.Close(opcodes.CloseConnectTimeout, 0)
}

func (t *Transport) readLoop(conn wsConn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.loop.Post(func() { t.readFailed(err) })
			return
		}
		if !t.loop.Post(func() { t.handleMessage(mt, data) }) {
			return
		}
	}
}

func (t *Transport) handleMessage(messageType int, data []byte) {
	if t.state != transportOpen && t.state != transportFlushing {
		return
	}

	raw := data
	if t.inflater != nil && messageType == websocket.BinaryMessage {
		out, complete, err := t.inflater.Write(data)
		if err != nil {
			t.log.Error("could not decompress message", zap.Error(err))
			t.Close(opcodes.CloseInternalError, 0)
			return
		}
		if !complete {
			return
		}
		raw = out
	}

	var p Packet
	if err := codec.Unmarshal(raw, &p); err != nil {
		t.log.Error("could not unmarshal message body", zap.Error(err), zap.ByteString("body", truncate(raw, 256)))
		t.Close(opcodes.CloseInternalError, 0)
		return
	}

	if t.state == transportFlushing {
		t.drained++
		t.restartIdle()
	}
	t.handler.transportFrame(t, &p)
}

func (t *Transport) readFailed(err error) {
	switch t.state {
	case transportClosed, transportIdle:
		return
	case transportFlushing, transportClosing:
		t.finish(t.closeCode)
		return
	}

	code := opcodes.CloseAbnormal
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	} else {
		t.log.Warn("could not receive message from WebSocket", zap.Error(err))
	}
	t.finish(code)
}

// Send writes one {op, d} frame. It reports false when the socket is not open
// or the outbound budget does not allow the frame.
func (t *Transport) Send(op opcodes.Op, d any) bool {
	if t.state != transportOpen && t.state != transportFlushing {
		t.log.Debug("send on a socket that is not open", zap.Stringer("op", op))
		return false
	}

	payload, err := codec.Marshal(outbound{Op: op, D: d})
	if err != nil {
		t.log.Error("could not marshal frame", zap.Stringer("op", op), zap.Error(err))
		return false
	}

	if !t.limiter.take(t.loop.Now(), op.Priority()) {
		t.log.Warn("outbound rate limit reached", zap.Stringer("op", op))
		return false
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.log.Warn("could not send frame", zap.Stringer("op", op), zap.Error(err))
		return false
	}
	return true
}

// Close starts shutting the connection down. With a flush window the socket
// keeps delivering frames until the window elapses or the server goes quiet
// for the idle period. Calling Close while already closing only logs.
func (t *Transport) Close(code int, flushWait time.Duration) {
	switch t.state {
	case transportFlushing, transportClosing:
		t.log.Warn("close already in progress", zap.Int("code", code), zap.Int("pending_code", t.closeCode))
		return
	case transportClosed:
		t.log.Warn("close on a closed transport", zap.Int("code", code))
		return
	case transportIdle, transportConnecting:
		t.closeCode = code
		t.finish(code)
		return
	}

	t.closeCode = code
	stopTimer(&t.connectTimer)
	t.safetyTimer = t.loop.AfterFunc(t.cfg.maxCloseWait, t.forceClose)

	if flushWait > 0 {
		t.state = transportFlushing
		t.flushTimer = t.loop.AfterFunc(flushWait, t.teardown)
		if t.cfg.flushIdle > 0 && t.cfg.flushIdle < flushWait {
			t.idleTimer = t.loop.AfterFunc(t.cfg.flushIdle, t.teardown)
		}
		return
	}
	t.teardown()
}

func (t *Transport) restartIdle() {
	if t.idleTimer == nil {
		return
	}
	t.idleTimer.Stop()
	t.idleTimer = t.loop.AfterFunc(t.cfg.flushIdle, t.teardown)
}

func (t *Transport) teardown() {
	if t.state != transportOpen && t.state != transportFlushing {
		return
	}
	stopTimer(&t.flushTimer)
	stopTimer(&t.idleTimer)
	if t.drained > 0 {
		t.log.Debug("drained frames before close", zap.Int("frames", t.drained))
	}

	t.state = transportClosing
	msg := websocket.FormatCloseMessage(opcodes.WireCode(t.closeCode), "")
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		t.log.Debug("could not send close frame", zap.Error(err))
		t.forceClose()
		return
	}
	t.closeTimer = t.loop.AfterFunc(t.cfg.closeTimeout, t.forceClose)
}

func (t *Transport) forceClose() {
	if t.state == transportClosed {
		return
	}
	if t.state == transportClosing {
		t.log.Warn("socket did not finish closing, terminating", zap.Int("code", t.closeCode))
	}
	t.finish(t.closeCode)
}

func (t *Transport) finish(code int) {
	if t.state == transportClosed {
		return
	}
	t.state = transportClosed

	stopTimer(&t.connectTimer)
	stopTimer(&t.flushTimer)
	stopTimer(&t.idleTimer)
	stopTimer(&t.closeTimer)
	stopTimer(&t.safetyTimer)

	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.handler.transportClosed(t, code)
}

// abort drops the socket without notifying the handler.
func (t *Transport) abort() {
	if t.state == transportClosed {
		return
	}
	t.state = transportClosed
	stopTimer(&t.connectTimer)
	stopTimer(&t.flushTimer)
	stopTimer(&t.idleTimer)
	stopTimer(&t.closeTimer)
	stopTimer(&t.safetyTimer)
	if t.conn != nil {
		_ = t.conn.Close()
	}
}

func (t *Transport) Open() bool {
	return t.state == transportOpen
}

func (t *Transport) Closed() bool {
	return t.state == transportClosed
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
