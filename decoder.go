package rdnstap

import (
	"net/netip"
	"time"

	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// DecodeFrame decodes the envelope carried in a length-prefixed frame.
func DecodeFrame(f Frame) (Envelope, error) {
	return DecodeEnvelope(f.Payload())
}

// DecodeEnvelope decodes a serialized dnstap envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var d dnstap.Dnstap
	if err := proto.Unmarshal(b, &d); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to unmarshal envelope")
	}
	if d.GetType() != dnstap.Dnstap_MESSAGE || d.Message == nil {
		return Envelope{}, errors.New("envelope does not contain a message")
	}
	env := Envelope{
		Identity: string(d.Identity),
		Version:  string(d.Version),
	}

	m := d.Message
	transport := TransportUDP
	if m.GetSocketProtocol() == dnstap.SocketProtocol_TCP {
		transport = TransportTCP
	}
	queryTime := decodeTime(m.QueryTimeSec, m.QueryTimeNsec)
	responseTime := decodeTime(m.ResponseTimeSec, m.ResponseTimeNsec)

	switch m.GetType() {
	case dnstap.Message_CLIENT_QUERY:
		env.Event = ClientQuery{
			Peer:      decodePeer(m, m.QueryAddress, m.GetQueryPort()),
			Transport: transport,
			QueryTime: queryTime,
			Query:     m.QueryMessage,
		}
	case dnstap.Message_CLIENT_RESPONSE:
		env.Event = ClientResponse{
			Peer:         decodePeer(m, m.QueryAddress, m.GetQueryPort()),
			Transport:    transport,
			ResponseTime: responseTime,
			Response:     m.ResponseMessage,
		}
	case dnstap.Message_RESOLVER_QUERY, dnstap.Message_FORWARDER_QUERY:
		kind := UpstreamResolver
		if m.GetType() == dnstap.Message_FORWARDER_QUERY {
			kind = UpstreamForwarder
		}
		env.Event = OutsideQuery{
			Kind:      kind,
			Peer:      decodePeer(m, m.ResponseAddress, m.GetResponsePort()),
			Transport: transport,
			Zone:      m.QueryZone,
			QueryTime: queryTime,
			Query:     m.QueryMessage,
		}
	case dnstap.Message_RESOLVER_RESPONSE, dnstap.Message_FORWARDER_RESPONSE:
		kind := UpstreamResolver
		if m.GetType() == dnstap.Message_FORWARDER_RESPONSE {
			kind = UpstreamForwarder
		}
		env.Event = OutsideResponse{
			Kind:         kind,
			Peer:         decodePeer(m, m.ResponseAddress, m.GetResponsePort()),
			Transport:    transport,
			Zone:         m.QueryZone,
			QueryTime:    queryTime,
			ResponseTime: responseTime,
			Response:     m.ResponseMessage,
		}
	default:
		return Envelope{}, errors.Errorf("unsupported message type %s", m.GetType())
	}
	return env, nil
}

func decodeTime(sec *uint64, nsec *uint32) time.Time {
	if sec == nil {
		return time.Time{}
	}
	var ns int64
	if nsec != nil {
		ns = int64(*nsec)
	}
	return time.Unix(int64(*sec), ns)
}

func decodePeer(m *dnstap.Message, addr []byte, port uint32) netip.AddrPort {
	if m.SocketFamily == nil {
		return netip.AddrPort{}
	}
	ip, ok := netip.AddrFromSlice(addr)
	if !ok {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ip, uint16(port))
}
