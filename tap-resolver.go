package rdnstap

import (
	"github.com/miekg/dns"
)

// TapResolver sends CLIENT_QUERY and CLIENT_RESPONSE events for every query it
// passes on to the next resolver. The query and response are not modified.
type TapResolver struct {
	id       string
	resolver Resolver
	producer *Producer
}

var _ Resolver = &TapResolver{}

// NewTapResolver returns a resolver that reports client transactions to the tap
// behind producer.
func NewTapResolver(id string, resolver Resolver, producer *Producer) *TapResolver {
	return &TapResolver{
		id:       id,
		resolver: resolver,
		producer: producer,
	}
}

// Resolve emits the client query, resolves it and emits the response.
func (r *TapResolver) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if r.producer.Enabled(TypeClientQuery) {
		if b, err := q.Pack(); err == nil {
			r.producer.EmitClientQuery(ci.Addr, ci.Transport, b)
		} else {
			logger(r.id).WithError(err).WithField("qname", qName(q)).Debug("failed to pack query")
		}
	}

	a, err := r.resolver.Resolve(q, ci)
	if err != nil || a == nil {
		return a, err
	}

	if r.producer.Enabled(TypeClientResponse) {
		if b, err := a.Pack(); err == nil {
			r.producer.EmitClientResponse(ci.Addr, ci.Transport, b)
		} else {
			logger(r.id).WithError(err).WithField("qname", qName(q)).Debug("failed to pack response")
		}
	}
	return a, nil
}

func (r *TapResolver) String() string {
	return r.id
}
