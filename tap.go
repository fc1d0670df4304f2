package rdnstap

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Tap sends dnstap events to a collector. Events are submitted through producers,
// queued and written to the collector by a single background worker, so
// producers never wait on network I/O. Delivery is at-least-once while the tap
// is running, events still queued when it's shut down and the collector is
// unreachable are lost.
type Tap struct {
	id       string
	endpoint string
	env      environment
	queue    *queue
	conn     *connection
	worker   *dispatcher
	own      *Producer
	stop     context.CancelFunc
	metrics  *TapMetrics
	log      *logrus.Entry

	shutdownOnce sync.Once
	shutdownErr  error
}

// TapOptions contain the settings of the collector connection.
type TapOptions struct {
	// Network used to reach the collector, "tcp", "tcp4", "tcp6", "unix" or "tls".
	// Defaults to "tcp".
	Network string

	// Framing of events on the connection. Defaults to FormatLength16.
	Format Format

	// Optional dialer to open collector connections, for example a SOCKS5
	// proxy. With network "tls", the TLS client runs over connections from
	// this dialer.
	Dialer Dialer

	// TLS client configuration for network "tls".
	TLSConfig *tls.Config

	// Time to wait between connection attempts. Defaults to 5 seconds.
	ReconnectInterval time.Duration

	// Timeout for opening a connection and for writing a frame. 0 means no
	// timeout.
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// Maximum number of queued events. Events are dropped when the queue is
	// full. 0 means unbounded.
	QueueSize int
}

// Config holds what's sent and how events are labelled. It's applied once with
// ApplyConfig before any producer is created.
type Config struct {
	// Identity and version of the server, left out of events if empty.
	Identity string
	Version  string

	MessageTypes MessageTypes
}

// MessageTypes selects which kinds of events are sent. Events of disabled types
// are not built at all.
type MessageTypes struct {
	ClientQuery       bool
	ClientResponse    bool
	ResolverQuery     bool
	ResolverResponse  bool
	ForwarderQuery    bool
	ForwarderResponse bool
}

// AllMessageTypes enables every message type.
var AllMessageTypes = MessageTypes{
	ClientQuery:       true,
	ClientResponse:    true,
	ResolverQuery:     true,
	ResolverResponse:  true,
	ForwarderQuery:    true,
	ForwarderResponse: true,
}

func (m MessageTypes) enabled(t MessageType) bool {
	switch t {
	case TypeClientQuery:
		return m.ClientQuery
	case TypeClientResponse:
		return m.ClientResponse
	case TypeResolverQuery:
		return m.ResolverQuery
	case TypeResolverResponse:
		return m.ResolverResponse
	case TypeForwarderQuery:
		return m.ForwarderQuery
	case TypeForwarderResponse:
		return m.ForwarderResponse
	}
	return false
}

// Shared, read-only once ApplyConfig has returned. Producers created afterwards
// read it without locking.
type environment struct {
	types   MessageTypes
	encoder *Encoder
}

// New creates a tap sending to the collector at endpoint and starts its worker.
// Nothing is sent until ApplyConfig enabled some message types and producers
// were created with NewProducer.
func New(id, endpoint string, opt TapOptions) (*Tap, error) {
	dialer, network, err := collectorDialer(opt)
	if err != nil {
		return nil, &InitError{Endpoint: endpoint, Err: err}
	}
	if err := validateEndpoint(network, endpoint); err != nil {
		return nil, &InitError{Endpoint: endpoint, Err: err}
	}
	if opt.Format != FormatLength16 && opt.Format != FormatFrameStream {
		return nil, &InitError{Endpoint: endpoint, Err: errors.Errorf("unsupported frame format %d", opt.Format)}
	}
	if opt.QueueSize < 0 {
		return nil, &InitError{Endpoint: endpoint, Err: errors.New("queue size can not be negative")}
	}

	metrics := NewTapMetrics(id)
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tap{
		id:       id,
		endpoint: endpoint,
		env:      environment{encoder: NewEncoder("", "")},
		queue:    newQueue(opt.QueueSize, metrics),
		stop:     cancel,
		metrics:  metrics,
		log:      logger(id),
	}
	t.conn = newConnection(id, network, endpoint, dialer, opt, metrics)
	t.worker = newDispatcher(id, t.queue, t.conn, metrics)

	// The tap holds a producer of its own until shutdown so the worker doesn't
	// see a closed queue before the first resolver producer is created.
	t.own = t.NewProducer()
	go t.worker.run(ctx)
	return t, nil
}

func validateEndpoint(network, endpoint string) error {
	if endpoint == "" {
		return errors.New("no collector endpoint")
	}
	if network == "unix" {
		return nil
	}
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		return errors.Wrap(err, "invalid collector endpoint")
	}
	return nil
}

// ApplyConfig sets identity, version and the enabled message types. It must be
// called before any producer is created and not concurrently with itself.
func (t *Tap) ApplyConfig(cfg Config) {
	t.env = environment{
		types:   cfg.MessageTypes,
		encoder: NewEncoder(cfg.Identity, cfg.Version),
	}
	if cfg.Identity != "" {
		t.log.WithField("identity", cfg.Identity).Info("dnstap identity set")
	}
	if cfg.Version != "" {
		t.log.WithField("version", cfg.Version).Info("dnstap version set")
	}
	for typ := TypeClientQuery; typ <= TypeForwarderResponse; typ++ {
		if cfg.MessageTypes.enabled(typ) {
			t.log.WithField("type", typ).Info("dnstap message type enabled")
		}
	}
}

// NewProducer returns a producer to submit events. Each resolver goroutine group
// should use its own and close it when it's done.
func (t *Tap) NewProducer() *Producer {
	t.queue.addProducer()
	return &Producer{
		env:     &t.env,
		queue:   t.queue,
		metrics: t.metrics,
		log:     t.log,
	}
}

// Connected returns true while there is an established collector connection.
func (t *Tap) Connected() bool {
	return t.conn.connected.Load()
}

// Shutdown stops the tap. Events queued by producers that are still open are
// sent while the connection stays up. Shutdown returns when the worker has
// exited, which requires all producers to be closed. If ctx expires first, all
// queued events are dropped and ctx's error is returned.
func (t *Tap) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		t.log.Info("shutting down dnstap")
		t.stop()
		t.own.Close()
		select {
		case <-t.worker.done:
		case <-ctx.Done():
			n := t.queue.abort()
			t.log.WithField("dropped", n).Warn("dnstap shutdown timed out, dropping queued events")
			<-t.worker.done
			t.shutdownErr = ctx.Err()
		}
	})
	return t.shutdownErr
}

func (t *Tap) String() string {
	return t.id
}
