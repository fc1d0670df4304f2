package rdnstap

import (
	"strconv"

	"github.com/miekg/dns"
)

// Return the query name from a DNS query.
func qName(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// Returns the string representation of the query type.
func qType(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return dns.TypeToString[q.Question[0].Qtype]
}

// Return the result code name from a DNS response.
func rCode(r *dns.Msg) string {
	if result, ok := dns.RcodeToString[r.Rcode]; ok {
		return result
	}
	return strconv.Itoa(r.Rcode)
}

// Returns a SERVFAIL answer for a query.
func servfail(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, dns.RcodeServerFailure)
	return a
}

// Returns the zone in wire format as carried in upstream events. Invalid names
// result in the root zone.
func packZone(zone string) []byte {
	b := make([]byte, 256)
	n, err := dns.PackDomainName(dns.Fqdn(zone), b, 0, nil, false)
	if err != nil {
		return []byte{0}
	}
	return b[:n]
}

// Returns the zone name from its wire format.
func unpackZone(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	name, _, err := dns.UnpackDomainName(b, 0)
	if err != nil {
		return ""
	}
	return name
}
