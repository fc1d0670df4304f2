package rdnstap

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

// Socks5Dialer reaches the collector through a SOCKS5 proxy.
type Socks5Dialer struct {
	dialer proxy.Dialer
	opt    Socks5DialerOptions

	once sync.Once
	addr string
}

type Socks5DialerOptions struct {
	Username string
	Password string

	// Timeout for the connection to the proxy
	Timeout time.Duration

	LocalAddr net.IP

	// When the collector is configured with a name, not an IP, this setting
	// resolves the name locally rather than on the SOCKS proxy.
	ResolveLocal bool
}

var _ Dialer = (*Socks5Dialer)(nil)

// NewSocks5Dialer returns a dialer that connects via the SOCKS5 proxy at addr.
func NewSocks5Dialer(addr string, opt Socks5DialerOptions) (*Socks5Dialer, error) {
	var auth *proxy.Auth
	if opt.Username != "" {
		auth = &proxy.Auth{User: opt.Username, Password: opt.Password}
	}
	forward := &net.Dialer{Timeout: opt.Timeout}
	if opt.LocalAddr != nil {
		forward.LocalAddr = &net.TCPAddr{IP: opt.LocalAddr}
	}
	d, err := proxy.SOCKS5("tcp", addr, auth, forward)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create socks5 dialer")
	}
	return &Socks5Dialer{dialer: d, opt: opt}, nil
}

// Dial opens a connection to address through the proxy.
func (d *Socks5Dialer) Dial(network string, address string) (net.Conn, error) {
	d.once.Do(func() {
		d.addr = address
		if !d.opt.ResolveLocal {
			return
		}
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			Log.WithError(err).Error("failed to parse collector address")
			return
		}
		if net.ParseIP(host) != nil {
			return
		}
		Log.WithField("addr", host).Debug("resolving collector address locally")
		timeout := d.opt.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil || len(ips) == 0 {
			Log.WithError(err).WithField("host", host).Error("failed to resolve collector locally, forwarding name to socks5 proxy")
			return
		}
		d.addr = net.JoinHostPort(ips[0].String(), port)
	})
	return d.dialer.Dial(network, d.addr)
}
