package rdnstap

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Producer submits events to a tap. Emitting never blocks on the collector and
// never fails from the caller's point of view, events that can't be encoded or
// queued are dropped and counted. Message buffers are copied during encoding and
// can be reused once an Emit function returns.
//
// A producer is safe for concurrent use, events are delivered in order for any
// sequence of calls made by a single goroutine.
type Producer struct {
	env     *environment
	queue   *queue
	metrics *TapMetrics
	log     *logrus.Entry
	closed  atomic.Bool
}

// Enabled returns true if events of the given type are sent. Callers can use it to
// skip work like packing a message when the type isn't monitored.
func (p *Producer) Enabled(t MessageType) bool {
	return p.env.types.enabled(t)
}

// EmitClientQuery sends a CLIENT_QUERY event for a query received from peer.
func (p *Producer) EmitClientQuery(peer netip.AddrPort, transport Transport, query []byte) {
	if !p.Enabled(TypeClientQuery) {
		return
	}
	p.emit(ClientQuery{
		Peer:      peer,
		Transport: transport,
		QueryTime: p.env.encoder.now(),
		Query:     query,
	})
}

// EmitClientResponse sends a CLIENT_RESPONSE event for a response sent to peer.
func (p *Producer) EmitClientResponse(peer netip.AddrPort, transport Transport, response []byte) {
	if !p.Enabled(TypeClientResponse) {
		return
	}
	p.emit(ClientResponse{
		Peer:         peer,
		Transport:    transport,
		ResponseTime: p.env.encoder.now(),
		Response:     response,
	})
}

// EmitOutsideQuery sends a RESOLVER_QUERY or FORWARDER_QUERY event, depending on
// the RD bit of the query, for a query sent to upstream server peer.
func (p *Producer) EmitOutsideQuery(peer netip.AddrPort, transport Transport, zone, query []byte) {
	p.emitOutsideQuery(UpstreamKindOf(query), peer, transport, zone, p.env.encoder.now(), query)
}

// EmitOutsideResponse sends a RESOLVER_RESPONSE or FORWARDER_RESPONSE event for a
// response received from upstream server peer. The type is selected by the RD bit
// in queryHeader, the header of the query that was sent.
func (p *Producer) EmitOutsideResponse(peer netip.AddrPort, transport Transport, zone, queryHeader []byte, queryTime, responseTime time.Time, response []byte) {
	p.emitOutsideResponse(UpstreamKindOf(queryHeader), peer, transport, zone, queryTime, responseTime, response)
}

func (p *Producer) emitOutsideQuery(kind UpstreamKind, peer netip.AddrPort, transport Transport, zone []byte, queryTime time.Time, query []byte) {
	if !p.Enabled(kind.QueryType()) {
		return
	}
	p.emit(OutsideQuery{
		Kind:      kind,
		Peer:      peer,
		Transport: transport,
		Zone:      zone,
		QueryTime: queryTime,
		Query:     query,
	})
}

func (p *Producer) emitOutsideResponse(kind UpstreamKind, peer netip.AddrPort, transport Transport, zone []byte, queryTime, responseTime time.Time, response []byte) {
	if !p.Enabled(kind.ResponseType()) {
		return
	}
	p.emit(OutsideResponse{
		Kind:         kind,
		Peer:         peer,
		Transport:    transport,
		Zone:         zone,
		QueryTime:    queryTime,
		ResponseTime: responseTime,
		Response:     response,
	})
}

func (p *Producer) emit(ev Event) {
	if p.closed.Load() {
		return
	}
	f, err := p.env.encoder.Encode(ev)
	if err != nil {
		p.metrics.dropped.Add("encode", 1)
		p.log.WithError(err).Error("dropping dnstap event")
		return
	}
	if p.queue.push(f) && Log.IsLevelEnabled(logrus.DebugLevel) {
		p.log.WithFields(logrus.Fields{"type": ev.Type(), "length": f.Len()}).Debug("queued dnstap event")
	}
}

// Close retires the producer. Events emitted afterwards are ignored. Once all
// producers of a tap are closed its worker sends what's left in the queue and
// exits.
func (p *Producer) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.queue.removeProducer()
	}
}
