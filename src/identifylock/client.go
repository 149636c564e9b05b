package identifylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrUnreachable = errors.New("identify lock server unreachable")
	ErrNotAcquired = errors.New("identify lock not acquired")
)

// Requester is the request/reply half of *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client talks to a lock server.
type Client struct {
	conn    Requester
	prefix  string
	timeout time.Duration
}

func NewClient(conn Requester, prefix string, timeout time.Duration) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{conn: conn, prefix: prefix, timeout: timeout}
}

// Acquire tries to take name for ttl. A lock held by someone else is reported
// with ok=false and no error.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	var res acquireResponse
	req := acquireRequest{Name: name, TTLms: ttlMillis(ttl)}
	if err := c.request(ctx, acquireSubject(c.prefix), req, &res); err != nil {
		return "", false, err
	}
	if res.Error != "" {
		return "", false, fmt.Errorf("lock server rejected acquire of %q: %s", name, res.Error)
	}
	return res.Token, res.OK, nil
}

// Release gives name back. Releasing an expired or foreign lease reports
// ok=false and no error.
func (c *Client) Release(ctx context.Context, name, token string) (bool, error) {
	var res releaseResponse
	if err := c.request(ctx, releaseSubject(c.prefix), releaseRequest{Name: name, Token: token}, &res); err != nil {
		return false, err
	}
	if res.Error != "" {
		return false, fmt.Errorf("lock server rejected release of %q: %s", name, res.Error)
	}
	return res.OK, nil
}

func (c *Client) request(ctx context.Context, subject string, req, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("could not marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if unreachable(err) {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		return fmt.Errorf("error making request to %s: %w", subject, err)
	}

	if err := codec.Unmarshal(msg.Data, res); err != nil {
		return fmt.Errorf("could not unmarshal response from %s: %w", subject, err)
	}
	return nil
}

func unreachable(err error) bool {
	return errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, context.DeadlineExceeded)
}
