package rdnstap

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"time"

	"github.com/miekg/dns"
)

// EventLog writes a line for every event received by a collector to STDOUT or a
// file.
type EventLog struct {
	id     string
	opt    EventLogOptions
	logger *slog.Logger
}

type EventLogOptions struct {
	OutputFile   string // Output filename, leave blank for STDOUT
	OutputFormat string // "text" or "json", defaults to "text"
}

// NewEventLog returns a new instance of an EventLog.
func NewEventLog(id string, opt EventLogOptions) (*EventLog, error) {
	var w io.Writer = os.Stdout
	if opt.OutputFile != "" {
		f, err := os.OpenFile(opt.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	handlerOpts := &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "msg" || a.Key == "level" {
				return slog.Attr{}
			}
			return a
		},
	}
	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if opt.OutputFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return &EventLog{
		id:     id,
		opt:    opt,
		logger: slog.New(handler),
	}, nil
}

// Handle logs the details of an event. It can be used as CollectorHandler.
func (l *EventLog) Handle(env Envelope) {
	s := summarize(env)
	attrs := []slog.Attr{
		slog.String("type", s.typ.String()),
		slog.Time("event-time", s.time),
		slog.String("transport", s.transport.String()),
	}
	if s.peer.IsValid() {
		attrs = append(attrs, slog.String("peer", s.peer.String()))
	}
	if env.Identity != "" {
		attrs = append(attrs, slog.String("identity", env.Identity))
	}
	if env.Version != "" {
		attrs = append(attrs, slog.String("version", env.Version))
	}
	if s.zone != "" {
		attrs = append(attrs, slog.String("zone", s.zone))
	}
	if s.msg != nil {
		attrs = append(attrs,
			slog.Int("message-id", int(s.msg.Id)),
			slog.String("question-name", qName(s.msg)),
			slog.String("question-type", qType(s.msg)),
		)
		if s.msg.Response {
			attrs = append(attrs,
				slog.String("rcode", rCode(s.msg)),
				slog.Int("answers", len(s.msg.Answer)),
			)
		}
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "", attrs...)
}

func (l *EventLog) String() string {
	return l.id
}

// Fields common to all event types, used to log events.
type eventSummary struct {
	typ       MessageType
	time      time.Time
	peer      netip.AddrPort
	transport Transport
	zone      string
	msg       *dns.Msg // nil if the message could not be unpacked
}

func summarize(env Envelope) eventSummary {
	s := eventSummary{typ: env.Event.Type()}
	var raw []byte
	switch e := env.Event.(type) {
	case ClientQuery:
		s.time, s.peer, s.transport, raw = e.QueryTime, e.Peer, e.Transport, e.Query
	case ClientResponse:
		s.time, s.peer, s.transport, raw = e.ResponseTime, e.Peer, e.Transport, e.Response
	case OutsideQuery:
		s.time, s.peer, s.transport, raw = e.QueryTime, e.Peer, e.Transport, e.Query
		s.zone = unpackZone(e.Zone)
	case OutsideResponse:
		s.time, s.peer, s.transport, raw = e.ResponseTime, e.Peer, e.Transport, e.Response
		s.zone = unpackZone(e.Zone)
	}
	if len(raw) > 0 {
		msg := new(dns.Msg)
		if err := msg.Unpack(raw); err == nil {
			s.msg = msg
		}
	}
	return s
}
