package main

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	rdnstap "github.com/folbricht/rdnstap"
	"github.com/pkg/errors"
)

type config struct {
	Title     string
	Log       logConfig
	Admin     adminConfig
	Dnstap    dnstapConfig
	Listeners map[string]listener
	Upstream  upstream
	Collector collector
}

type logConfig struct {
	Level string // "trace", "debug", "info", "warn", "error"
}

type adminConfig struct {
	Address string
}

type dnstapConfig struct {
	Address string
	Network string // "tcp", "unix", "tls"
	Format  string // "length16" or "fstrm"

	SendIdentity bool   `toml:"send-identity"`
	Identity     string // defaults to the hostname
	SendVersion  bool   `toml:"send-version"`
	Version      string // defaults to the version of this program

	ReconnectInterval int `toml:"reconnect-interval"` // seconds
	ConnectTimeout    int `toml:"connect-timeout"`    // seconds
	WriteTimeout      int `toml:"write-timeout"`      // seconds
	QueueSize         int `toml:"queue-size"`

	LogClientQueryMessages       bool `toml:"log-client-query-messages"`
	LogClientResponseMessages    bool `toml:"log-client-response-messages"`
	LogResolverQueryMessages     bool `toml:"log-resolver-query-messages"`
	LogResolverResponseMessages  bool `toml:"log-resolver-response-messages"`
	LogForwarderQueryMessages    bool `toml:"log-forwarder-query-messages"`
	LogForwarderResponseMessages bool `toml:"log-forwarder-response-messages"`

	// TLS options for network "tls"
	CA         string
	ClientCrt  string `toml:"client-crt"`
	ClientKey  string `toml:"client-key"`
	ServerName string `toml:"server-name"`

	Socks5 socks5Config
}

type socks5Config struct {
	Address      string
	Username     string
	Password     string
	ResolveLocal bool `toml:"resolve-local"`
}

type listener struct {
	Address  string
	Protocol string // "udp" or "tcp"
}

type upstream struct {
	Address  string
	Protocol string // "udp" or "tcp"
	Zone     string
}

type collector struct {
	Address      string
	Network      string // "tcp" or "unix"
	Format       string
	OutputFile   string `toml:"output-file"`
	OutputFormat string `toml:"output-format"`

	CA        string
	ServerCrt string `toml:"server-crt"`
	ServerKey string `toml:"server-key"`
	MutualTLS bool   `toml:"mutual-tls"`

	Syslog *syslogConfig
}

type syslogConfig struct {
	Network    string
	Address    string
	Priority   int
	Tag        string
	LogAnswers bool `toml:"log-answers"`
}

// loadConfig reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	if _, err = toml.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "failed to parse %s", name)
	}
	return c, nil
}

// Tap settings from the dnstap section.
func (c dnstapConfig) tapOptions() (rdnstap.TapOptions, error) {
	format, err := rdnstap.ParseFormat(c.Format)
	if err != nil {
		return rdnstap.TapOptions{}, err
	}
	opt := rdnstap.TapOptions{
		Network:           c.Network,
		Format:            format,
		ReconnectInterval: time.Duration(c.ReconnectInterval) * time.Second,
		ConnectTimeout:    time.Duration(c.ConnectTimeout) * time.Second,
		WriteTimeout:      time.Duration(c.WriteTimeout) * time.Second,
		QueueSize:         c.QueueSize,
	}
	if c.Network == "tls" {
		opt.TLSConfig, err = rdnstap.TLSClientConfig(c.CA, c.ClientCrt, c.ClientKey, c.ServerName)
		if err != nil {
			return opt, err
		}
	}
	if c.Socks5.Address != "" {
		opt.Dialer, err = rdnstap.NewSocks5Dialer(c.Socks5.Address, rdnstap.Socks5DialerOptions{
			Username:     c.Socks5.Username,
			Password:     c.Socks5.Password,
			Timeout:      opt.ConnectTimeout,
			ResolveLocal: c.Socks5.ResolveLocal,
		})
		if err != nil {
			return opt, err
		}
	}
	return opt, nil
}

// Identity, version and message types from the dnstap section. Identity and
// version are only sent if enabled, with the hostname and program version as
// defaults.
func (c dnstapConfig) tapConfig() rdnstap.Config {
	cfg := rdnstap.Config{
		MessageTypes: rdnstap.MessageTypes{
			ClientQuery:       c.LogClientQueryMessages,
			ClientResponse:    c.LogClientResponseMessages,
			ResolverQuery:     c.LogResolverQueryMessages,
			ResolverResponse:  c.LogResolverResponseMessages,
			ForwarderQuery:    c.LogForwarderQueryMessages,
			ForwarderResponse: c.LogForwarderResponseMessages,
		},
	}
	if c.SendIdentity {
		cfg.Identity = c.Identity
		if cfg.Identity == "" {
			cfg.Identity, _ = os.Hostname()
		}
	}
	if c.SendVersion {
		cfg.Version = c.Version
		if cfg.Version == "" {
			cfg.Version = "rdnstap " + version
		}
	}
	return cfg
}
