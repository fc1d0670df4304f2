package rdnstap

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeClientQuery(t *testing.T) {
	p, q := newTestProducer(t.Name(), AllMessageTypes)
	peer := netip.MustParseAddrPort("192.0.2.1:53530")

	before := time.Now()
	p.EmitClientQuery(peer, TransportUDP, []byte("QBYTES"))

	envs, err := drainQueue(q)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	env := envs[0]
	require.Empty(t, env.Identity)
	require.Empty(t, env.Version)

	cq, ok := env.Event.(ClientQuery)
	require.True(t, ok, "expected ClientQuery, got %T", env.Event)
	require.Equal(t, TypeClientQuery, cq.Type())
	require.Equal(t, TransportUDP, cq.Transport)
	require.True(t, cq.Peer.Addr().Is4())
	require.Equal(t, []byte{192, 0, 2, 1}, cq.Peer.Addr().AsSlice())
	require.Equal(t, uint16(53530), cq.Peer.Port())
	require.Equal(t, []byte("QBYTES"), cq.Query)
	require.WithinDuration(t, before, cq.QueryTime, time.Second)
}

func TestEncodeFrameLength(t *testing.T) {
	e := NewEncoder("ns1", "1.0")
	f, err := e.Encode(ClientResponse{
		Peer:         netip.MustParseAddrPort("[2001:db8::1]:53"),
		Transport:    TransportTCP,
		ResponseTime: time.Unix(1700000000, 123456789),
		Response:     []byte("RBYTES"),
	})
	require.NoError(t, err)

	b := f.Bytes()
	require.Equal(t, len(b)-2, int(binary.BigEndian.Uint16(b[:2])))
	require.Equal(t, b[2:], f.Payload())

	env, err := DecodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, "ns1", env.Identity)
	require.Equal(t, "1.0", env.Version)
	cr := env.Event.(ClientResponse)
	require.True(t, cr.Peer.Addr().Is6())
	require.Equal(t, TransportTCP, cr.Transport)
	require.Equal(t, int64(1700000000), cr.ResponseTime.Unix())
	require.Equal(t, 123456789, cr.ResponseTime.Nanosecond())
}

func TestEncodeMappedIPv4(t *testing.T) {
	e := NewEncoder("", "")
	f, err := e.Encode(ClientQuery{
		Peer:  netip.MustParseAddrPort("[::ffff:192.0.2.1]:53"),
		Query: []byte("Q"),
	})
	require.NoError(t, err)
	env, err := DecodeFrame(f)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("192.0.2.1:53"), env.Event.(ClientQuery).Peer)
}

func TestEncodeWithoutPeer(t *testing.T) {
	e := NewEncoder("", "")
	f, err := e.Encode(ClientQuery{Transport: TransportTCP, Query: []byte("Q")})
	require.NoError(t, err)
	env, err := DecodeFrame(f)
	require.NoError(t, err)
	cq := env.Event.(ClientQuery)
	require.False(t, cq.Peer.IsValid())
	require.Equal(t, TransportTCP, cq.Transport)
}

func TestEncodeTooLarge(t *testing.T) {
	e := NewEncoder("", "")
	_, err := e.Encode(ClientQuery{Query: make([]byte, MaxPayloadSize+1)})
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	require.Equal(t, TypeClientQuery, encErr.Type)

	// The producer drops it without queueing anything
	p, q := newTestProducer(t.Name(), AllMessageTypes)
	p.EmitClientQuery(netip.AddrPort{}, TransportUDP, make([]byte, MaxPayloadSize+1))
	require.Equal(t, 0, q.len())
	require.Equal(t, int64(1), droppedCount(p.metrics, "encode"))
}

func TestUpstreamKindOf(t *testing.T) {
	require.Equal(t, UpstreamForwarder, UpstreamKindOf([]byte{0x12, 0x34, 0x01, 0x00}))
	require.Equal(t, UpstreamResolver, UpstreamKindOf([]byte{0x12, 0x34, 0x00, 0x00}))
	require.Equal(t, UpstreamResolver, UpstreamKindOf([]byte{0x12, 0x34, 0xfe, 0xff}))
	require.Equal(t, UpstreamResolver, UpstreamKindOf([]byte{0x12}))
}

func TestOutsideQueryGating(t *testing.T) {
	rd := []byte{0x00, 0x01, 0x01, 0x00, 0, 1, 0, 0, 0, 0, 0, 0}
	peer := netip.MustParseAddrPort("198.51.100.7:53")

	// Forwarder queries disabled, nothing is produced
	types := AllMessageTypes
	types.ForwarderQuery = false
	p, q := newTestProducer(t.Name()+"-disabled", types)
	p.EmitOutsideQuery(peer, TransportUDP, []byte{0}, rd)
	require.Equal(t, 0, q.len())

	// Enabled, always produces a forwarder query
	p, q = newTestProducer(t.Name()+"-enabled", MessageTypes{ForwarderQuery: true})
	p.EmitOutsideQuery(peer, TransportUDP, []byte{0}, rd)
	envs, err := drainQueue(q)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	oq := envs[0].Event.(OutsideQuery)
	require.Equal(t, TypeForwarderQuery, oq.Type())
	require.Equal(t, peer, oq.Peer)
	require.Equal(t, []byte{0}, oq.Zone)
	require.Equal(t, rd, oq.Query)
}

func TestOutsideResponseGating(t *testing.T) {
	noRD := []byte{0x00, 0x01, 0x00, 0x00}
	peer := netip.MustParseAddrPort("198.51.100.7:53")
	qtime := time.Unix(1700000000, 1000)
	rtime := time.Unix(1700000000, 5000)

	// Resolver responses are gated on the resolver response flag
	p, q := newTestProducer(t.Name()+"-query-only", MessageTypes{ResolverQuery: true})
	p.EmitOutsideResponse(peer, TransportTCP, []byte{0}, noRD, qtime, rtime, []byte("R"))
	require.Equal(t, 0, q.len())

	p, q = newTestProducer(t.Name()+"-response", MessageTypes{ResolverResponse: true})
	p.EmitOutsideResponse(peer, TransportTCP, []byte{0}, noRD, qtime, rtime, []byte("R"))
	envs, err := drainQueue(q)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	or := envs[0].Event.(OutsideResponse)
	require.Equal(t, TypeResolverResponse, or.Type())
	require.Equal(t, qtime, or.QueryTime)
	require.Equal(t, rtime, or.ResponseTime)
	require.Equal(t, []byte("R"), or.Response)
	require.Equal(t, TransportTCP, or.Transport)
}

func TestClosedProducerEmitsNothing(t *testing.T) {
	p, q := newTestProducer(t.Name(), AllMessageTypes)
	p.Close()
	p.Close()
	p.EmitClientResponse(netip.AddrPort{}, TransportUDP, []byte("R"))
	require.Equal(t, 0, q.len())
}

func drawTime(t *rapid.T, label string) time.Time {
	sec := rapid.Int64Range(0, 1<<40).Draw(t, label+"-sec")
	nsec := rapid.Int64Range(0, 999999999).Draw(t, label+"-nsec")
	return time.Unix(sec, nsec)
}

func drawPeer(t *rapid.T) netip.AddrPort {
	if !rapid.Bool().Draw(t, "has-peer") {
		return netip.AddrPort{}
	}
	port := rapid.Uint16().Draw(t, "port")
	if rapid.Bool().Draw(t, "ipv4") {
		b := rapid.SliceOfN(rapid.Byte(), 4, 4).Draw(t, "addr4")
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(b)), port)
	}
	b := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "addr16")
	// Mapped addresses come back as IPv4
	return netip.AddrPortFrom(netip.AddrFrom16([16]byte(b)).Unmap(), port)
}

func drawEvent(t *rapid.T) Event {
	peer := drawPeer(t)
	transport := rapid.SampledFrom([]Transport{TransportUDP, TransportTCP}).Draw(t, "transport")
	kind := rapid.SampledFrom([]UpstreamKind{UpstreamResolver, UpstreamForwarder}).Draw(t, "kind")
	msg := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "msg")
	zone := rapid.SliceOfN(rapid.Byte(), 1, 255).Draw(t, "zone")

	switch rapid.IntRange(0, 3).Draw(t, "variant") {
	case 0:
		return ClientQuery{Peer: peer, Transport: transport, QueryTime: drawTime(t, "qtime"), Query: msg}
	case 1:
		return ClientResponse{Peer: peer, Transport: transport, ResponseTime: drawTime(t, "rtime"), Response: msg}
	case 2:
		return OutsideQuery{Kind: kind, Peer: peer, Transport: transport, Zone: zone, QueryTime: drawTime(t, "qtime"), Query: msg}
	default:
		return OutsideResponse{
			Kind:         kind,
			Peer:         peer,
			Transport:    transport,
			Zone:         zone,
			QueryTime:    drawTime(t, "qtime"),
			ResponseTime: drawTime(t, "rtime"),
			Response:     msg,
		}
	}
}

func TestEncodeDecodeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		identity := rapid.StringN(0, 32, -1).Draw(t, "identity")
		version := rapid.StringN(0, 32, -1).Draw(t, "version")
		ev := drawEvent(t)

		f, err := NewEncoder(identity, version).Encode(ev)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if int(binary.BigEndian.Uint16(f.Bytes())) != len(f.Payload()) {
			t.Fatalf("length prefix doesn't match payload")
		}
		env, err := DecodeFrame(f)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		require.Equal(t, Envelope{Identity: identity, Version: version, Event: ev}, env)
	})
}
