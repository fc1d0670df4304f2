/*
Package rdnstap sends dnstap telemetry from a DNS resolver to a collector without
slowing down resolution. It describes client-facing and upstream (resolver or
forwarder) query/response transactions and ships them over a single persistent
connection that's re-established whenever it breaks.

Taps

A Tap owns the collector connection and a background worker that performs all
network I/O. It's created with New, configured once with ApplyConfig and stopped
with Shutdown.

Producers

Resolver goroutines submit events through a Producer obtained from the Tap.
Emitting an event only serializes it and hands it to an in-memory queue, it never
waits for the collector. Producers need to be closed when they're no longer used.

Framing

Every event is a dnstap protobuf envelope written with a 2-byte big-endian length
prefix. Frame Streams framing is available as an alternative.

Resolvers

TapResolver and TapUpstream wrap resolvers to report client and upstream
transactions. DNSListener and DNSClient provide a minimal forwarding proxy to
run them in.

Collectors

Collector receives and decodes events, EventLog and Syslog print them.
*/
package rdnstap
