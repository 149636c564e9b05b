package identifylock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback answers requests with a Server, without a NATS connection.
type loopback struct {
	server *Server
	err    error
	calls  []string
}

func (l *loopback) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	l.calls = append(l.calls, subj)
	if l.err != nil {
		return nil, l.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch subj {
	case acquireSubject(l.server.prefix):
		return &nats.Msg{Subject: subj, Data: l.server.handleAcquire(data)}, nil
	case releaseSubject(l.server.prefix):
		return &nats.Msg{Subject: subj, Data: l.server.handleRelease(data)}, nil
	}
	return nil, nats.ErrNoResponders
}

func TestClientAcquireRelease(t *testing.T) {
	server, _ := newTestServer()
	conn := &loopback{server: server}
	c := NewClient(conn, "", time.Second)

	token, ok, err := c.Acquire(context.Background(), "identify", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Acquire(context.Background(), "identify", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Release(context.Background(), "identify", token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Release(context.Background(), "identify", token)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{
		"gateway.identify.acquire",
		"gateway.identify.acquire",
		"gateway.identify.release",
		"gateway.identify.release",
	}, conn.calls)
}

func TestClientUnreachable(t *testing.T) {
	for _, cause := range []error{nats.ErrNoResponders, nats.ErrTimeout, nats.ErrConnectionClosed, context.DeadlineExceeded} {
		t.Run(cause.Error(), func(t *testing.T) {
			c := NewClient(&loopback{err: cause}, "", time.Second)

			_, _, err := c.Acquire(context.Background(), "identify", time.Minute)
			assert.ErrorIs(t, err, ErrUnreachable)
			assert.ErrorIs(t, err, cause)

			_, err = c.Release(context.Background(), "identify", "token")
			assert.ErrorIs(t, err, ErrUnreachable)
		})
	}
}

func TestClientOtherErrors(t *testing.T) {
	c := NewClient(&loopback{err: nats.ErrBadSubject}, "", time.Second)
	_, _, err := c.Acquire(context.Background(), "identify", time.Minute)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestClientCancelledContext(t *testing.T) {
	server, _ := newTestServer()
	c := NewClient(&loopback{server: server}, "", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Acquire(ctx, "identify", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestClientServerError(t *testing.T) {
	server, _ := newTestServer()
	c := NewClient(&loopback{server: server}, "", time.Second)

	_, _, err := c.Acquire(context.Background(), "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid acquire request")
}
