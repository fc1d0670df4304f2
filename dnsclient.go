package rdnstap

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Defines how long to wait for a response from the upstream server
const queryTimeout = 2 * time.Second

// DNSClient represents a simple DNS resolver for UDP or TCP.
type DNSClient struct {
	id       string
	endpoint string
	net      string
	client   *dns.Client
}

var _ Resolver = &DNSClient{}

// NewDNSClient returns a new instance of DNSClient which is a plain DNS resolver
// sending queries to endpoint over net, "udp" or "tcp".
func NewDNSClient(id, endpoint, net string) *DNSClient {
	return &DNSClient{
		id:       id,
		net:      net,
		endpoint: endpoint,
		client: &dns.Client{
			Net:     net,
			Timeout: queryTimeout,
		},
	}
}

// Resolve a DNS query.
func (d *DNSClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	logger(d.id).WithField("qname", qName(q)).Debugf("sending query to %s/%s", d.endpoint, d.net)
	a, _, err := d.client.Exchange(q, d.endpoint)
	if err != nil {
		return nil, QueryError{Endpoint: d.endpoint, Err: err}
	}
	return a, nil
}

// Transport returns the transport used to reach the upstream server.
func (d *DNSClient) Transport() Transport {
	return TransportFromNet(d.net)
}

func (d *DNSClient) String() string {
	return fmt.Sprintf("DNS(%s)", d.endpoint)
}
