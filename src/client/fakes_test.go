package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"personal/discord_gateway/src/opcodes"
)

// fakeLoop runs everything on the test goroutine with a manual clock.
type fakeLoop struct {
	now    time.Time
	timers []*fakeTimer

	deferAsync bool
	async      []func() func()

	mu     sync.Mutex
	posted []func()
}

type fakeTimer struct {
	at      time.Time
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() { t.stopped = true }

func newFakeLoop() *fakeLoop {
	return &fakeLoop{now: time.Unix(1700000000, 0)}
}

func (l *fakeLoop) Now() time.Time { return l.now }

func (l *fakeLoop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posted = append(l.posted, fn)
	return true
}

func (l *fakeLoop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{at: l.now.Add(d), d: d, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

func (l *fakeLoop) Async(work func() func()) {
	if l.deferAsync {
		l.async = append(l.async, work)
		return
	}
	if then := work(); then != nil {
		then()
	}
}

// runAsync completes deferred Async work in order.
func (l *fakeLoop) runAsync() {
	for len(l.async) > 0 {
		work := l.async[0]
		l.async = l.async[1:]
		if then := work(); then != nil {
			then()
		}
	}
}

// Advance moves the clock, firing due timers in order.
func (l *fakeLoop) Advance(d time.Duration) {
	target := l.now.Add(d)
	for {
		next := l.nextDue(target)
		if next == nil {
			break
		}
		l.now = next.at
		next.stopped = true
		next.fn()
	}
	l.now = target
}

func (l *fakeLoop) nextDue(limit time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range l.timers {
		if t.stopped || t.at.After(limit) {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

// fakeConn is an in-memory websocket.
type fakeConn struct {
	in   chan []byte
	done chan struct{}
	once sync.Once

	// echoClose makes the peer answer our close frame.
	echoClose bool

	mu        sync.Mutex
	written   [][]byte
	controls  [][]byte
	closed    bool
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:        make(chan []byte, 64),
		done:      make(chan struct{}),
		closeCode: websocket.CloseAbnormalClosure,
	}
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case <-c.done:
		c.mu.Lock()
		code := c.closeCode
		c.mu.Unlock()
		return 0, nil, &websocket.CloseError{Code: code}
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return websocket.ErrCloseSent
	}
	c.controls = append(c.controls, append([]byte(nil), data...))
	echo := c.echoClose
	if echo && len(data) >= 2 {
		c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	}
	c.mu.Unlock()

	if echo {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeCodes returns the codes of the close frames we sent.
func (c *fakeConn) closeCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var codes []int
	for _, ctrl := range c.controls {
		if len(ctrl) >= 2 {
			codes = append(codes, int(binary.BigEndian.Uint16(ctrl[:2])))
		}
	}
	return codes
}

type sentFrame struct {
	Op opcodes.Op      `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (c *fakeConn) sent(t *testing.T) []sentFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	frames := make([]sentFrame, 0, len(c.written))
	for _, raw := range c.written {
		var f sentFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		frames = append(frames, f)
	}
	return frames
}

func (c *fakeConn) ops(t *testing.T) []opcodes.Op {
	t.Helper()
	var ops []opcodes.Op
	for _, f := range c.sent(t) {
		ops = append(ops, f.Op)
	}
	return ops
}

func (c *fakeConn) lastOf(t *testing.T, op opcodes.Op) sentFrame {
	t.Helper()
	frames := c.sent(t)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Op == op {
			return frames[i]
		}
	}
	t.Fatalf("no %s frame sent", op)
	return sentFrame{}
}

func packet(t *testing.T, op opcodes.Op, typ string, seq *int64, d any) []byte {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	b, err := json.Marshal(Packet{Op: op, T: typ, S: seq, D: raw})
	require.NoError(t, err)
	return b
}

func seqPtr(n int64) *int64 { return &n }

// fakeLocker records identify lock traffic. Like a real lock set it takes
// nothing once ctx is done, unless granted says the answer was already sent.
type fakeLocker struct {
	mu        sync.Mutex
	err       error
	granted   bool
	acquired  int
	released  int
	cancelled int
}

func (l *fakeLocker) Acquire(ctx context.Context) (func(context.Context), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil && !l.granted {
		l.cancelled++
		return nil, err
	}
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func (l *fakeLocker) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

var errLockDown = errors.New("lock service down")

// runPosted runs tasks queued from other goroutines, such as the socket reader.
func (l *fakeLoop) runPosted() int {
	ran := 0
	for {
		l.mu.Lock()
		fns := l.posted
		l.posted = nil
		l.mu.Unlock()
		if len(fns) == 0 {
			return ran
		}
		for _, fn := range fns {
			fn()
			ran++
		}
	}
}
