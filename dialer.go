package rdnstap

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dialer opens connections to the collector. *net.Dialer, *tls.Dialer and
// Socks5Dialer implement it.
type Dialer interface {
	Dial(network string, address string) (net.Conn, error)
}

// Returns the dialer and the network name to pass to it for the configured
// collector network. A custom dialer from the options is used as-is for plain
// networks and wrapped in a TLS client for "tls".
func collectorDialer(opt TapOptions) (Dialer, string, error) {
	switch opt.Network {
	case "", "tcp", "tcp4", "tcp6", "unix":
		network := opt.Network
		if network == "" {
			network = "tcp"
		}
		if opt.Dialer != nil {
			return opt.Dialer, network, nil
		}
		return &net.Dialer{Timeout: opt.ConnectTimeout}, network, nil
	case "tls":
		config := opt.TLSConfig
		if config == nil {
			config = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if opt.Dialer != nil {
			return tlsOverDialer{dialer: opt.Dialer, config: config, timeout: opt.ConnectTimeout}, "tcp", nil
		}
		return &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: opt.ConnectTimeout},
			Config:    config,
		}, "tcp", nil
	}
	return nil, "", errors.Errorf("unsupported collector network '%s'", opt.Network)
}

// Runs a TLS client over connections opened by another dialer, for example a
// SOCKS5 proxy.
type tlsOverDialer struct {
	dialer  Dialer
	config  *tls.Config
	timeout time.Duration
}

func (d tlsOverDialer) Dial(network, address string) (net.Conn, error) {
	conn, err := d.dialer.Dial(network, address)
	if err != nil {
		return nil, err
	}
	config := d.config
	if config.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			config = config.Clone()
			config.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, config)
	if d.timeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(d.timeout))
	}
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
