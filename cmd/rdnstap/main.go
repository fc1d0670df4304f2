package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	rdnstap "github.com/folbricht/rdnstap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// How long to wait for queued events to be sent on shutdown
const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:   "rdnstap",
		Short: "dnstap forwarding DNS proxy and collector",
		Long: `dnstap forwarding DNS proxy and collector.

The forward command listens for DNS queries, forwards
them to an upstream resolver and reports client and
upstream transactions to a dnstap collector.

The collect command runs a collector that receives
dnstap events and logs them.
`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "forward <config>",
			Short:   "Run a forwarding DNS proxy reporting to a dnstap collector",
			Example: `  rdnstap forward config.toml`,
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return forward(args[0])
			},
		},
		&cobra.Command{
			Use:     "collect <config>",
			Short:   "Receive and log dnstap events",
			Example: `  rdnstap collect config.toml`,
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return collect(args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(configFile string) (config, error) {
	config, err := loadConfig(configFile)
	if err != nil {
		return config, err
	}
	if config.Log.Level != "" {
		level, err := logrus.ParseLevel(config.Log.Level)
		if err != nil {
			return config, err
		}
		rdnstap.Log.SetLevel(level)
	}
	return config, nil
}

func forward(configFile string) error {
	config, err := setup(configFile)
	if err != nil {
		return err
	}
	if len(config.Listeners) == 0 {
		return errors.New("no listeners defined")
	}
	if config.Upstream.Address == "" {
		return errors.New("no upstream defined")
	}

	opt, err := config.Dnstap.tapOptions()
	if err != nil {
		return err
	}
	tap, err := rdnstap.New("dnstap", config.Dnstap.Address, opt)
	if err != nil {
		return err
	}
	tap.ApplyConfig(config.Dnstap.tapConfig())

	upstreamProtocol := config.Upstream.Protocol
	if upstreamProtocol == "" {
		upstreamProtocol = "udp"
	}
	client := rdnstap.NewDNSClient("upstream", config.Upstream.Address, upstreamProtocol)
	peer, _ := netip.ParseAddrPort(config.Upstream.Address)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// One producer per listener, closed once the listener is done
	var (
		listeners []*rdnstap.DNSListener
		producers []*rdnstap.Producer
	)
	for id, l := range config.Listeners {
		switch l.Protocol {
		case "udp", "tcp":
		default:
			return fmt.Errorf("unsupported protocol '%s' for listener '%s'", l.Protocol, id)
		}
		producer := tap.NewProducer()
		producers = append(producers, producer)
		upstream := rdnstap.NewTapUpstream(id+"-upstream", client, producer, rdnstap.TapUpstreamOptions{
			Peer:      peer,
			Transport: client.Transport(),
			Zone:      config.Upstream.Zone,
		})
		resolver := rdnstap.NewTapResolver(id, upstream, producer)
		listeners = append(listeners, rdnstap.NewDNSListener(id, l.Address, l.Protocol, resolver))
	}
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := l.Start(); err != nil {
				return errors.Wrapf(err, "listener '%s' failed", l)
			}
			return nil
		})
	}

	var admin *rdnstap.AdminListener
	if config.Admin.Address != "" {
		admin = rdnstap.NewAdminListener("admin", config.Admin.Address, rdnstap.AdminListenerOptions{})
		g.Go(admin.Start)
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, l := range listeners {
			_ = l.Stop()
		}
		if admin != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = admin.Stop(stopCtx)
		}
		return nil
	})
	err = g.Wait()

	for _, p := range producers {
		p.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := tap.Shutdown(shutdownCtx); serr != nil {
		rdnstap.Log.WithError(serr).Warn("dnstap shutdown incomplete")
	}
	return err
}

func collect(configFile string) error {
	config, err := setup(configFile)
	if err != nil {
		return err
	}
	c := config.Collector
	if c.Address == "" {
		return errors.New("no collector address defined")
	}
	format, err := rdnstap.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	network := c.Network
	if network == "" {
		network = "tcp"
	}
	opt := rdnstap.CollectorOptions{Format: format}
	if c.ServerCrt != "" {
		opt.TLSConfig, err = rdnstap.TLSServerConfig(c.CA, c.ServerCrt, c.ServerKey, c.MutualTLS)
		if err != nil {
			return err
		}
	}

	eventLog, err := rdnstap.NewEventLog("event-log", rdnstap.EventLogOptions{
		OutputFile:   c.OutputFile,
		OutputFormat: c.OutputFormat,
	})
	if err != nil {
		return err
	}
	handler := eventLog.Handle
	if c.Syslog != nil {
		syslog := rdnstap.NewSyslog("syslog", rdnstap.SyslogOptions{
			Network:    c.Syslog.Network,
			Address:    c.Syslog.Address,
			Priority:   c.Syslog.Priority,
			Tag:        c.Syslog.Tag,
			LogAnswers: c.Syslog.LogAnswers,
		})
		handler = func(env rdnstap.Envelope) {
			eventLog.Handle(env)
			syslog.Handle(env)
		}
	}

	collector := rdnstap.NewCollector("collector", network, c.Address, opt, handler)
	if err := collector.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	if config.Admin.Address != "" {
		admin := rdnstap.NewAdminListener("admin", config.Admin.Address, rdnstap.AdminListenerOptions{})
		g.Go(admin.Start)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return admin.Stop(stopCtx)
		})
	}
	<-ctx.Done()
	collector.Stop()
	return g.Wait()
}
