package rdnstap

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default time to wait between connection attempts to the collector.
const defaultReconnectInterval = 5 * time.Second

// ConnState is the state of the collector connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateStopping
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

var errNotConnected = errors.New("not connected")

// Connection to the collector. Everything except the connected flag is owned by
// the dispatcher goroutine.
type connection struct {
	network  string
	endpoint string
	dialer   Dialer
	format   Format
	interval time.Duration
	timeout  time.Duration // write deadline, 0 for none

	state ConnState
	conn  net.Conn
	w     frameWriter

	// Set while connected, read by other goroutines
	connected atomic.Bool

	metrics *TapMetrics
	log     *logrus.Entry
}

func newConnection(id, network, endpoint string, dialer Dialer, opt TapOptions, metrics *TapMetrics) *connection {
	interval := opt.ReconnectInterval
	if interval == 0 {
		interval = defaultReconnectInterval
	}
	return &connection{
		network:  network,
		endpoint: endpoint,
		dialer:   dialer,
		format:   opt.Format,
		interval: interval,
		timeout:  opt.WriteTimeout,
		metrics:  metrics,
		log:      logger(id).WithFields(logrus.Fields{"collector": endpoint, "network": network}),
	}
}

// Makes sure there's a connection to the collector, retrying at the reconnect
// interval. Returns false, without a connection, only when ctx is cancelled.
func (c *connection) ensureConnected(ctx context.Context) bool {
	if c.state == StateConnected {
		return true
	}
	for {
		if ctx.Err() != nil {
			c.state = StateStopping
			return false
		}
		c.state = StateConnecting
		err := c.connect()
		if err == nil {
			c.state = StateConnected
			c.connected.Store(true)
			c.metrics.connected.Set(1)
			c.log.Info("connected to collector")
			return true
		}
		c.state = StateDisconnected
		c.log.WithError(err).WithField("retry-in", c.interval).Warn("failed to connect to collector")

		t := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			c.state = StateStopping
			return false
		case <-t.C:
		}
	}
}

func (c *connection) connect() error {
	c.metrics.connectAttempt.Add(1)
	c.log.Debug("connecting to collector")
	conn, err := c.dialer.Dial(c.network, c.endpoint)
	if err != nil {
		return &ConnectError{Endpoint: c.endpoint, Err: err}
	}
	w, err := newFrameWriter(c.format, conn)
	if err != nil {
		conn.Close()
		return &ConnectError{Endpoint: c.endpoint, Err: err}
	}
	c.conn, c.w = conn, w
	return nil
}

// Writes a frame to the collector. Any error means the connection is broken and
// needs to be torn down.
func (c *connection) write(f Frame) error {
	if c.state != StateConnected {
		return &SendError{Endpoint: c.endpoint, Err: errNotConnected}
	}
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return &SendError{Endpoint: c.endpoint, Err: err}
		}
	}
	if err := c.w.WriteFrame(f); err != nil {
		return &SendError{Endpoint: c.endpoint, Err: err}
	}
	return nil
}

// Closes the connection. The next state is Stopping if ctx is cancelled,
// Disconnected otherwise.
func (c *connection) teardown(ctx context.Context) {
	if c.w != nil {
		_ = c.w.Close()
		c.w = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.connected.Swap(false) {
		c.log.Debug("closed collector connection")
	}
	c.metrics.connected.Set(0)
	if ctx.Err() != nil {
		c.state = StateStopping
	} else {
		c.state = StateDisconnected
	}
}
