package rdnstap

import (
	"fmt"
	"strings"

	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// Syslog forwards a summary of every event received by a collector to syslog.
type Syslog struct {
	id     string
	writer *syslog.Writer
	opt    SyslogOptions
}

type SyslogOptions struct {
	// "udp", "tcp", "unix". Defaults to "udp"
	Network string

	// Remote address, defaults to local syslog server
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority
	Priority int

	// Syslog tag
	Tag string

	// Include the answer records of response events
	LogAnswers bool
}

// NewSyslog returns a new instance of a Syslog event handler.
func NewSyslog(id string, opt SyslogOptions) *Syslog {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		// Log any error but don't block if this fails
		Log.WithError(err).WithField("id", id).Error("failed to initialize syslog")
	}
	return &Syslog{
		id:     id,
		writer: writer,
		opt:    opt,
	}
}

// Handle sends the event to syslog. It can be used as CollectorHandler.
func (r *Syslog) Handle(env Envelope) {
	if r.writer == nil {
		return
	}
	s := summarize(env)
	msg := fmt.Sprintf("id=%s type=%s peer=%s transport=%s", r.id, s.typ, s.peer, s.transport)
	if s.zone != "" {
		msg += " zone=" + s.zone
	}
	if s.msg != nil {
		msg += fmt.Sprintf(" qid=%d qtype=%s qname=%s", s.msg.Id, qType(s.msg), qName(s.msg))
		if s.msg.Response {
			msg += " rcode=" + rCode(s.msg)
			if r.opt.LogAnswers {
				for _, rr := range s.msg.Answer {
					msg += fmt.Sprintf(" answer=%q", strings.ReplaceAll(rr.String(), "\t", " "))
				}
			}
		}
	}
	if _, err := r.writer.Write([]byte(msg)); err != nil {
		Log.WithFields(logrus.Fields{"id": r.id, "type": s.typ}).WithError(err).Error("failed to send syslog")
	}
}

func (r *Syslog) String() string {
	return r.id
}
