package client

import (
	"time"

	"go.uber.org/zap"

	"personal/discord_gateway/src/opcodes"
)

type heartbeatConfig struct {
	// offset is taken off the negotiated interval.
	offset time.Duration
	// grace is added to the interval while waiting for an ack.
	grace time.Duration
	// jitter is the upper bound of the random delay removed from every interval.
	jitter time.Duration
	// closeFlush is the flush window used when a heartbeat goes unanswered.
	closeFlush time.Duration
}

// heartbeater keeps one connection alive. A fresh one is made for every
// connection attempt because the interval comes from that attempt's HELLO.
type heartbeater struct {
	loop Loop
	log  *zap.Logger
	cfg  heartbeatConfig
	rand func(n int64) int64

	send  func() bool
	close func(code int, flushWait time.Duration)
	sent  func()
	acked func(latency time.Duration)

	started  bool
	ack      bool
	interval time.Duration
	lastSent time.Time
	nextAt   time.Time
	latency  time.Duration

	timer    Timer
	ackTimer Timer
}

func (h *heartbeater) start(interval time.Duration) {
	effective := interval - h.cfg.offset
	if effective <= 0 {
		effective = interval
	}

	h.interval = effective
	h.ack = true
	h.started = true
	h.log.Debug("starting heartbeat", zap.Duration("interval", effective))
	h.schedule()
}

func (h *heartbeater) schedule() {
	stopTimer(&h.timer)
	delay := h.interval - h.jitterDelay()
	h.nextAt = h.loop.Now().Add(delay)
	h.timer = h.loop.AfterFunc(delay, func() {
		h.timer = nil
		h.sendHeartbeat()
	})
}

func (h *heartbeater) jitterDelay() time.Duration {
	limit := h.cfg.jitter
	if limit >= h.interval {
		limit = h.interval / 2
	}
	if limit <= 0 {
		return 0
	}
	return time.Duration(h.rand(int64(limit)))
}

// check sends right away if the scheduled time has passed and the last beat
// was acknowledged. Under heavy load the timer can lag behind the frames
// being processed; this runs for every frame received.
func (h *heartbeater) check() {
	if !h.started || !h.ack {
		return
	}
	if !h.loop.Now().Before(h.nextAt) {
		h.sendHeartbeat()
	}
}

func (h *heartbeater) sendHeartbeat() {
	if !h.started {
		return
	}
	if !h.ack {
		h.log.Warn("last heartbeat was not acknowledged, closing")
		h.close(opcodes.CloseHeartbeatTimeout, h.cfg.closeFlush)
		return
	}

	if !h.send() {
		h.log.Warn("could not send heartbeat")
		h.schedule()
		return
	}

	h.ack = false
	h.lastSent = h.loop.Now()
	stopTimer(&h.ackTimer)
	h.ackTimer = h.loop.AfterFunc(h.interval+h.cfg.grace, h.ackTimedOut)
	h.sent()
	h.schedule()
}

func (h *heartbeater) ackTimedOut() {
	h.ackTimer = nil
	h.log.Warn("heartbeat ack timed out", zap.Duration("waited", h.interval+h.cfg.grace))
	h.close(opcodes.CloseHeartbeatTimeout, h.cfg.closeFlush)
}

func (h *heartbeater) acknowledge() {
	stopTimer(&h.ackTimer)
	h.ack = true
	if h.lastSent.IsZero() {
		return
	}
	h.latency = h.loop.Now().Sub(h.lastSent)
	h.acked(h.latency)
}

func (h *heartbeater) stop() {
	h.started = false
	stopTimer(&h.timer)
	stopTimer(&h.ackTimer)
}
