package rdnstap

import (
	"net"
	"net/netip"
	"strings"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"google.golang.org/protobuf/proto"
)

// MessageType identifies the kind of transaction an event describes.
type MessageType int

const (
	TypeClientQuery MessageType = iota
	TypeClientResponse
	TypeResolverQuery
	TypeResolverResponse
	TypeForwarderQuery
	TypeForwarderResponse
)

var messageTypeNames = map[MessageType]string{
	TypeClientQuery:       "CLIENT_QUERY",
	TypeClientResponse:    "CLIENT_RESPONSE",
	TypeResolverQuery:     "RESOLVER_QUERY",
	TypeResolverResponse:  "RESOLVER_RESPONSE",
	TypeForwarderQuery:    "FORWARDER_QUERY",
	TypeForwarderResponse: "FORWARDER_RESPONSE",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

func (t MessageType) dnstap() dnstap.Message_Type {
	switch t {
	case TypeClientQuery:
		return dnstap.Message_CLIENT_QUERY
	case TypeClientResponse:
		return dnstap.Message_CLIENT_RESPONSE
	case TypeResolverQuery:
		return dnstap.Message_RESOLVER_QUERY
	case TypeResolverResponse:
		return dnstap.Message_RESOLVER_RESPONSE
	case TypeForwarderQuery:
		return dnstap.Message_FORWARDER_QUERY
	default:
		return dnstap.Message_FORWARDER_RESPONSE
	}
}

// Transport is the protocol a DNS message was carried over. It's supplied by the
// caller and never derived from the message.
type Transport uint8

const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "udp"
}

// TransportFromNet maps a network name as used by the net package or miekg/dns
// ("udp", "tcp4", "tcp-tls", ..) to a Transport.
func TransportFromNet(network string) Transport {
	if strings.HasPrefix(network, "tcp") {
		return TransportTCP
	}
	return TransportUDP
}

// AddrPortFromNetAddr converts the remote address of a connection into the peer
// endpoint used by events. Unsupported address types return the zero value which
// results in events without socket family or address.
func AddrPortFromNetAddr(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case *net.TCPAddr:
		ap = a.AddrPort()
	default:
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// UpstreamKind distinguishes forwarder-style from resolver-style upstream
// transactions.
type UpstreamKind uint8

const (
	UpstreamResolver UpstreamKind = iota
	UpstreamForwarder
)

// UpstreamKindOf inspects the recursion-desired bit of a query header. Queries
// with RD set are forwarded, others are iterative resolver queries. Headers too
// short to hold the flags are treated as resolver queries.
func UpstreamKindOf(header []byte) UpstreamKind {
	if len(header) < 4 {
		return UpstreamResolver
	}
	if header[2]&0x01 != 0 {
		return UpstreamForwarder
	}
	return UpstreamResolver
}

// QueryType returns the message type of the upstream query.
func (k UpstreamKind) QueryType() MessageType {
	if k == UpstreamForwarder {
		return TypeForwarderQuery
	}
	return TypeResolverQuery
}

// ResponseType returns the message type of the upstream response.
func (k UpstreamKind) ResponseType() MessageType {
	if k == UpstreamForwarder {
		return TypeForwarderResponse
	}
	return TypeResolverResponse
}

// Event is one observed transaction. The concrete types only hold the fields that
// are meaningful for their message type.
type Event interface {
	Type() MessageType
	fill(m *dnstap.Message)
}

// ClientQuery is a query received from a client.
type ClientQuery struct {
	Peer      netip.AddrPort
	Transport Transport
	QueryTime time.Time
	Query     []byte
}

var _ Event = ClientQuery{}

func (e ClientQuery) Type() MessageType { return TypeClientQuery }

func (e ClientQuery) fill(m *dnstap.Message) {
	m.QueryTimeSec, m.QueryTimeNsec = timestamp(e.QueryTime)
	m.QueryMessage = e.Query
	fillSocket(m, e.Peer, e.Transport, false)
}

// ClientResponse is a response sent to a client.
type ClientResponse struct {
	Peer         netip.AddrPort
	Transport    Transport
	ResponseTime time.Time
	Response     []byte
}

var _ Event = ClientResponse{}

func (e ClientResponse) Type() MessageType { return TypeClientResponse }

func (e ClientResponse) fill(m *dnstap.Message) {
	m.ResponseTimeSec, m.ResponseTimeNsec = timestamp(e.ResponseTime)
	m.ResponseMessage = e.Response
	fillSocket(m, e.Peer, e.Transport, false)
}

// OutsideQuery is a query sent to an upstream server.
type OutsideQuery struct {
	Kind      UpstreamKind
	Peer      netip.AddrPort
	Transport Transport
	Zone      []byte
	QueryTime time.Time
	Query     []byte
}

var _ Event = OutsideQuery{}

func (e OutsideQuery) Type() MessageType { return e.Kind.QueryType() }

func (e OutsideQuery) fill(m *dnstap.Message) {
	m.QueryZone = e.Zone
	m.QueryTimeSec, m.QueryTimeNsec = timestamp(e.QueryTime)
	m.QueryMessage = e.Query
	fillSocket(m, e.Peer, e.Transport, true)
}

// OutsideResponse is a response received from an upstream server. It carries the
// time the matching query was sent as well.
type OutsideResponse struct {
	Kind         UpstreamKind
	Peer         netip.AddrPort
	Transport    Transport
	Zone         []byte
	QueryTime    time.Time
	ResponseTime time.Time
	Response     []byte
}

var _ Event = OutsideResponse{}

func (e OutsideResponse) Type() MessageType { return e.Kind.ResponseType() }

func (e OutsideResponse) fill(m *dnstap.Message) {
	m.QueryZone = e.Zone
	m.QueryTimeSec, m.QueryTimeNsec = timestamp(e.QueryTime)
	m.ResponseTimeSec, m.ResponseTimeNsec = timestamp(e.ResponseTime)
	m.ResponseMessage = e.Response
	fillSocket(m, e.Peer, e.Transport, true)
}

// Envelope is a decoded event together with the identity and version of the
// server that produced it.
type Envelope struct {
	Identity string
	Version  string
	Event    Event
}

func timestamp(t time.Time) (*uint64, *uint32) {
	return proto.Uint64(uint64(t.Unix())), proto.Uint32(uint32(t.Nanosecond()))
}

// Client events describe the peer in the query address fields, upstream events in
// the response address fields.
func fillSocket(m *dnstap.Message, peer netip.AddrPort, t Transport, upstream bool) {
	protocol := dnstap.SocketProtocol_UDP
	if t == TransportTCP {
		protocol = dnstap.SocketProtocol_TCP
	}
	m.SocketProtocol = protocol.Enum()

	if !peer.IsValid() {
		return
	}
	ip := peer.Addr().Unmap()
	family := dnstap.SocketFamily_INET6
	if ip.Is4() {
		family = dnstap.SocketFamily_INET
	}
	m.SocketFamily = family.Enum()

	addr := ip.AsSlice()
	port := proto.Uint32(uint32(peer.Port()))
	if upstream {
		m.ResponseAddress, m.ResponsePort = addr, port
	} else {
		m.QueryAddress, m.QueryPort = addr, port
	}
}
