package rdnstap

import (
	"fmt"
	"net/netip"
)

// Listener is an interface for a DNS listener.
type Listener interface {
	Start() error
	fmt.Stringer
}

// ClientInfo carries information about the client making the request. It's what
// client events report as the peer.
type ClientInfo struct {
	Addr      netip.AddrPort
	Transport Transport
	Listener  string
}
