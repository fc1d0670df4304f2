package rdnstap

import (
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// TapUpstream wraps the client of an upstream server and sends outside query and
// response events for every exchange with it. Queries with the RD bit set are
// reported as FORWARDER_QUERY/FORWARDER_RESPONSE, others as
// RESOLVER_QUERY/RESOLVER_RESPONSE.
type TapUpstream struct {
	id       string
	resolver Resolver
	producer *Producer
	opt      TapUpstreamOptions
	zone     []byte
}

var _ Resolver = &TapUpstream{}

type TapUpstreamOptions struct {
	// Address of the upstream server. Events carry no peer address if unset.
	Peer netip.AddrPort

	// Transport used to reach the upstream server.
	Transport Transport

	// Zone the upstream server is queried for. Defaults to the root zone.
	Zone string
}

// NewTapUpstream returns a resolver that reports upstream transactions of
// resolver to the tap behind producer.
func NewTapUpstream(id string, resolver Resolver, producer *Producer, opt TapUpstreamOptions) *TapUpstream {
	if opt.Zone == "" {
		opt.Zone = "."
	}
	return &TapUpstream{
		id:       id,
		resolver: resolver,
		producer: producer,
		opt:      opt,
		zone:     packZone(opt.Zone),
	}
}

// Resolve forwards the query upstream and emits events for query and response.
func (r *TapUpstream) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	// Determined once so query and response are reported as the same kind
	kind := UpstreamResolver
	if q.RecursionDesired {
		kind = UpstreamForwarder
	}

	queryTime := time.Now()
	if r.producer.Enabled(kind.QueryType()) {
		if b, err := q.Pack(); err == nil {
			r.producer.emitOutsideQuery(kind, r.opt.Peer, r.opt.Transport, r.zone, queryTime, b)
		} else {
			logger(r.id).WithError(err).WithField("qname", qName(q)).Debug("failed to pack query")
		}
	}

	a, err := r.resolver.Resolve(q, ci)
	if err != nil || a == nil {
		return a, err
	}
	responseTime := time.Now()

	if r.producer.Enabled(kind.ResponseType()) {
		if b, err := a.Pack(); err == nil {
			r.producer.emitOutsideResponse(kind, r.opt.Peer, r.opt.Transport, r.zone, queryTime, responseTime, b)
		} else {
			logger(r.id).WithError(err).WithField("qname", qName(q)).Debug("failed to pack response")
		}
	}
	return a, nil
}

func (r *TapUpstream) String() string {
	return r.id
}
