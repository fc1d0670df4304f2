package rdnstap

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// CollectorHandler is called for every event received by a collector. It's
// called concurrently for events arriving on different connections.
type CollectorHandler func(Envelope)

// Collector receives dnstap events from taps. It accepts any number of
// connections and decodes the frames arriving on them.
type Collector struct {
	id      string
	network string
	addr    string
	opt     CollectorOptions
	handler CollectorHandler

	// Frames that could not be decoded
	Invalid atomic.Uint64

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

type CollectorOptions struct {
	// Framing expected on connections. Defaults to FormatLength16.
	Format Format

	// Accept TLS connections if set.
	TLSConfig *tls.Config
}

// NewCollector returns a collector listening on addr. network is "tcp" or "unix".
func NewCollector(id, network, addr string, opt CollectorOptions, handler CollectorHandler) *Collector {
	return &Collector{
		id:      id,
		network: network,
		addr:    addr,
		opt:     opt,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start opens the listening socket and accepts connections in the background.
func (c *Collector) Start() error {
	l, err := net.Listen(c.network, c.addr)
	if err != nil {
		return err
	}
	if c.opt.TLSConfig != nil {
		l = tls.NewListener(l, c.opt.TLSConfig)
	}
	c.listener = l
	Log.WithFields(logrus.Fields{"id": c.id, "network": c.network, "addr": l.Addr(), "format": c.opt.Format}).Info("starting collector")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				// Stop() closes the listener which ends up here
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				return
			}
			c.mu.Lock()
			c.conns[conn] = struct{}{}
			c.mu.Unlock()
			c.wg.Add(1)
			go c.handleConn(conn)
		}
	}()
	return nil
}

// Addr returns the address the collector is listening on.
func (c *Collector) Addr() net.Addr {
	return c.listener.Addr()
}

// Stop closes the listener and all open connections and waits for the handlers
// to finish.
func (c *Collector) Stop() {
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.mu.Lock()
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Collector) String() string {
	return c.id
}

func (c *Collector) handleConn(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()
	log := Log.WithFields(logrus.Fields{"id": c.id, "sender": conn.RemoteAddr()})
	log.Debug("accepted connection")

	r, err := newFrameReader(c.opt.Format, conn)
	if err != nil {
		log.WithError(err).Warn("failed to start reading frames")
		return
	}
	for {
		b, err := r.ReadPayload()
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("connection terminated")
			}
			return
		}
		env, err := DecodeEnvelope(b)
		if err != nil {
			c.Invalid.Add(1)
			log.WithError(err).Warn("failed to decode event")
			continue
		}
		c.handler(env)
	}
}
