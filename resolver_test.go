package rdnstap

import (
	"errors"
	"expvar"
	"net"
	"sync"

	"github.com/miekg/dns"
)

type TestResolver func(*dns.Msg, ClientInfo) (*dns.Msg, error)

func (r TestResolver) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if r == nil {
		return nil, errors.New("no function defined in TestResolver")
	}
	return r(q, ci)
}

func (r TestResolver) String() string {
	return "TestResolver()"
}

type testDialer func(network, address string) (net.Conn, error)

func (d testDialer) Dial(network, address string) (net.Conn, error) {
	return d(network, address)
}

// Producer feeding a queue directly, without tap or connection.
func newTestProducer(id string, types MessageTypes) (*Producer, *queue) {
	metrics := NewTapMetrics(id)
	q := newQueue(0, metrics)
	q.addProducer()
	return &Producer{
		env:     &environment{types: types, encoder: NewEncoder("", "")},
		queue:   q,
		metrics: metrics,
		log:     logger(id),
	}, q
}

// Pops and decodes everything currently in the queue.
func drainQueue(q *queue) ([]Envelope, error) {
	var envs []Envelope
	for q.len() > 0 {
		f, ok := q.pop()
		if !ok {
			break
		}
		env, err := DecodeFrame(f)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Collects envelopes received by a collector.
type testSink struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *testSink) handle(env Envelope) {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
}

func (s *testSink) events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envs...)
}

func (s *testSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func droppedCount(m *TapMetrics, reason string) int64 {
	v := m.dropped.Get(reason)
	if v == nil {
		return 0
	}
	return v.(*expvar.Int).Value()
}
