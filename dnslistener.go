package rdnstap

import (
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSListener is a standard DNS listener for UDP or TCP.
type DNSListener struct {
	*dns.Server
	id string
}

var _ Listener = &DNSListener{}

// NewDNSListener returns an instance of either a UDP or TCP DNS listener.
func NewDNSListener(id, addr, net string, resolver Resolver) *DNSListener {
	return &DNSListener{
		id: id,
		Server: &dns.Server{
			Addr:    addr,
			Net:     net,
			Handler: listenHandler(id, net, resolver),
		},
	}
}

// Start the DNS listener.
func (s DNSListener) Start() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": s.Net, "addr": s.Addr}).Info("starting listener")
	return s.ListenAndServe()
}

// Stop the DNS listener.
func (s DNSListener) Stop() error {
	return s.Shutdown()
}

func (s DNSListener) String() string {
	return s.id
}

// DNS handler to forward all incoming requests to a given resolver.
func listenHandler(id, protocol string, r Resolver) dns.HandlerFunc {
	transport := TransportFromNet(protocol)
	return func(w dns.ResponseWriter, req *dns.Msg) {
		ci := ClientInfo{
			Addr:      AddrPortFromNetAddr(w.RemoteAddr()),
			Transport: transport,
			Listener:  id,
		}
		log := Log.WithFields(logrus.Fields{
			"id":       id,
			"client":   ci.Addr,
			"qname":    qName(req),
			"qtype":    qType(req),
			"protocol": protocol,
		})
		log.Debug("received query")

		a, err := r.Resolve(req, ci)
		if err != nil {
			log.WithError(err).Error("failed to resolve")
			a = servfail(req)
		}

		// A nil response from the resolvers means "drop", close the connection
		if a == nil {
			w.Close()
			return
		}

		// Check the response actually fits if the query was sent over UDP. If not, respond with TC flag.
		if transport == TransportUDP {
			maxSize := dns.MinMsgSize
			if edns0 := req.IsEdns0(); edns0 != nil {
				maxSize = int(edns0.UDPSize())
			}
			a.Truncate(maxSize)
		}

		log.WithField("rcode", rCode(a)).Debug("sending response")
		_ = w.WriteMsg(a)
	}
}
