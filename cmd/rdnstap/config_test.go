package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	rdnstap "github.com/folbricht/rdnstap"
	"github.com/stretchr/testify/require"
)

const testConfig = `
title = "rdnstap test"

[log]
level = "debug"

[dnstap]
address = "192.0.2.10:6000"
format = "fstrm"
send-identity = true
identity = "ns1.example"
send-version = true
reconnect-interval = 2
write-timeout = 3
queue-size = 1000
log-client-query-messages = true
log-forwarder-response-messages = true

[listeners.local-udp]
address = "127.0.0.1:53"
protocol = "udp"

[listeners.local-tcp]
address = "127.0.0.1:53"
protocol = "tcp"

[upstream]
address = "192.0.2.53:53"
protocol = "tcp"
zone = "example.com"

[collector]
address = "127.0.0.1:6000"
output-format = "json"

[collector.syslog]
network = "udp"
address = "127.0.0.1:514"
log-answers = true
`

func writeConfig(t *testing.T, content string) string {
	name := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
	return name
}

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	require.Equal(t, "rdnstap test", c.Title)
	require.Equal(t, "debug", c.Log.Level)
	require.Len(t, c.Listeners, 2)
	require.Equal(t, "udp", c.Listeners["local-udp"].Protocol)
	require.Equal(t, "example.com", c.Upstream.Zone)
	require.Equal(t, "json", c.Collector.OutputFormat)
	require.NotNil(t, c.Collector.Syslog)
	require.True(t, c.Collector.Syslog.LogAnswers)

	opt, err := c.Dnstap.tapOptions()
	require.NoError(t, err)
	require.Equal(t, rdnstap.FormatFrameStream, opt.Format)
	require.Equal(t, 2*time.Second, opt.ReconnectInterval)
	require.Equal(t, time.Duration(0), opt.ConnectTimeout)
	require.Equal(t, 3*time.Second, opt.WriteTimeout)
	require.Equal(t, 1000, opt.QueueSize)
	require.Nil(t, opt.Dialer)
	require.Nil(t, opt.TLSConfig)

	cfg := c.Dnstap.tapConfig()
	require.Equal(t, "ns1.example", cfg.Identity)
	require.Equal(t, "rdnstap "+version, cfg.Version)
	require.Equal(t, rdnstap.MessageTypes{ClientQuery: true, ForwarderResponse: true}, cfg.MessageTypes)
}

func TestTapConfigDefaults(t *testing.T) {
	cfg := dnstapConfig{}.tapConfig()
	require.Empty(t, cfg.Identity)
	require.Empty(t, cfg.Version)

	hostname, err := os.Hostname()
	require.NoError(t, err)
	cfg = dnstapConfig{SendIdentity: true}.tapConfig()
	require.Equal(t, hostname, cfg.Identity)
}

func TestTapOptionsSocks5(t *testing.T) {
	opt, err := dnstapConfig{
		Address: "collector.example:6000",
		Socks5:  socks5Config{Address: "127.0.0.1:1080", Username: "user", Password: "pass"},
	}.tapOptions()
	require.NoError(t, err)
	require.IsType(t, &rdnstap.Socks5Dialer{}, opt.Dialer)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = loadConfig(writeConfig(t, "[dnstap\naddress = 1"))
	require.Error(t, err)

	c, err := loadConfig(writeConfig(t, "[dnstap]\nformat = \"xml\"\n"))
	require.NoError(t, err)
	_, err = c.Dnstap.tapOptions()
	require.Error(t, err)
}
