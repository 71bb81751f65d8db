package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// DNS result codes reported per query. Values follow the wire rcodes;
// a transport timeout shares value 2 with SERVFAIL.
const (
	rcodeNoError  = "NOERROR"
	rcodeNXDomain = "NXDOMAIN"
	rcodeTimeout  = "TIMEOUT"
	rcodeRefused  = "REFUSED"
	rcodeFormErr  = "FORMERR"
	rcodeServFail = "SERVFAIL"
)

// DNSQueryResult is the outcome of one (domain, record type) query
// against one server. Instances are never mutated after creation.
type DNSQueryResult struct {
	Domain      string   `json:"domain"`
	Server      string   `json:"server"`
	RecordType  string   `json:"record_type"`
	QueryTimeMs int64    `json:"query_time_ms"`
	ResultCode  string   `json:"result_code"`
	RcodeValue  int      `json:"rcode_value"`
	Answers     []string `json:"answers,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// DNSProber issues one query per configured domain against a resolver
// pinned to the target server
type DNSProber struct {
	log zerolog.Logger

	// Domains to query; empty means the reverse-lookup name of the
	// probed address
	Domains []string
	// RecordType defaults to PTR
	RecordType uint16
	// Transport is "udp" or "tcp"
	Transport string
	// QueryTimeout bounds each individual query
	QueryTimeout time.Duration
}

// NewDNSProber creates a DNS prober with default settings
func NewDNSProber(log zerolog.Logger) *DNSProber {
	return &DNSProber{
		log:          log.With().Str("prober", "dns").Logger(),
		RecordType:   dns.TypePTR,
		Transport:    "udp",
		QueryTimeout: 2000 * time.Millisecond,
	}
}

// SetRecordType configures the query type from its textual name, e.g.
// "PTR" or "MX"; unknown names leave the current type in place
func (d *DNSProber) SetRecordType(name string) {
	if qtype, ok := dns.StringToType[strings.ToUpper(name)]; ok {
		d.RecordType = qtype
	}
}

// Name returns the prober identifier
func (d *DNSProber) Name() string { return "dns" }

// DefaultPort returns the standard DNS port
func (d *DNSProber) DefaultPort() int { return 53 }

// ServiceTag classifies positive results
func (d *DNSProber) ServiceTag() string { return "dns" }

// Discover tests whether the target answers DNS. Found iff at least one
// configured query resolves with rcode value 0. Per-query results
// gathered before the deadline are reported either way.
func (d *DNSProber) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)
	server := target.Addr(d.DefaultPort())

	domains := d.Domains
	if len(domains) == 0 {
		rev, err := dns.ReverseAddr(target.Address)
		if err != nil {
			d.log.Debug().Err(err).Str("address", target.Address).Msg("no reverse name for target")
			return NotFound()
		}
		domains = []string{rev}
	}

	qtype := d.RecordType
	if qtype == 0 {
		qtype = dns.TypePTR
	}

	client := &dns.Client{Net: d.transport()}

	found := false
	queries := make([]map[string]any, 0, len(domains))
	for _, domain := range domains {
		// Every query shares one overall deadline; a silent server
		// must not cost the per-query timeout once per domain
		budget := timeLeft(deadline)
		if budget <= 0 {
			break
		}
		client.Timeout = min(d.perQueryTimeout(), budget)

		qr := d.query(ctx, client, server, domain, qtype)
		if qr.RcodeValue == 0 {
			found = true
		}
		queries = append(queries, qr.asMap())
	}

	return Result{
		Found: found,
		Details: map[string]any{
			"server":  server,
			"queries": queries,
		},
	}
}

// query runs a single exchange and maps the outcome to a result code
func (d *DNSProber) query(ctx context.Context, client *dns.Client, server, domain string, qtype uint16) DNSQueryResult {
	qr := DNSQueryResult{
		Domain:     strings.TrimSuffix(dns.Fqdn(domain), "."),
		Server:     server,
		RecordType: dns.TypeToString[qtype],
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	start := time.Now()
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	qr.QueryTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		qr.ResultCode, qr.RcodeValue = mapExchangeError(err)
		qr.Error = err.Error()
		d.log.Debug().Err(err).Str("domain", qr.Domain).Str("server", server).Msg("exchange failed")
		return qr
	}

	for _, rr := range resp.Answer {
		qr.Answers = append(qr.Answers, extractAnswer(rr))
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		if len(qr.Answers) == 0 {
			// No data is reported as name-not-found
			qr.ResultCode, qr.RcodeValue = rcodeNXDomain, 3
		} else {
			qr.ResultCode, qr.RcodeValue = rcodeNoError, 0
		}
	case dns.RcodeNameError:
		qr.ResultCode, qr.RcodeValue = rcodeNXDomain, 3
	case dns.RcodeRefused:
		qr.ResultCode, qr.RcodeValue = rcodeRefused, 5
	case dns.RcodeFormatError:
		qr.ResultCode, qr.RcodeValue = rcodeFormErr, 1
	default:
		qr.ResultCode, qr.RcodeValue = rcodeServFail, 2
	}
	return qr
}

// mapExchangeError folds transport errors into the result-code space
func mapExchangeError(err error) (string, int) {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return rcodeTimeout, 2
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return rcodeTimeout, 2
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "refused"):
		return rcodeRefused, 5
	case strings.Contains(msg, "bad"), strings.Contains(msg, "malformed"):
		return rcodeFormErr, 1
	default:
		return rcodeServFail, 2
	}
}

// extractAnswer serializes one resource record the way each type is
// conventionally reported. Names lose their trailing root dot.
func extractAnswer(rr dns.RR) string {
	switch rec := rr.(type) {
	case *dns.A:
		return rec.A.String()
	case *dns.AAAA:
		return rec.AAAA.String()
	case *dns.CNAME:
		return trimRoot(rec.Target)
	case *dns.NS:
		return trimRoot(rec.Ns)
	case *dns.PTR:
		return trimRoot(rec.Ptr)
	case *dns.MX:
		return fmt.Sprintf("%d %s", rec.Preference, trimRoot(rec.Mx))
	case *dns.TXT:
		return strings.Join(rec.Txt, " ")
	case *dns.SRV:
		return fmt.Sprintf("%d %d %d %s", rec.Priority, rec.Weight, rec.Port, trimRoot(rec.Target))
	default:
		// Generic fallback: the presentation form without its header
		s := rr.String()
		if h := rr.Header().String(); strings.HasPrefix(s, h) {
			return strings.TrimSpace(s[len(h):])
		}
		return s
	}
}

func trimRoot(name string) string {
	return strings.TrimSuffix(name, ".")
}

func (d *DNSProber) transport() string {
	if d.Transport == "tcp" {
		return "tcp"
	}
	return "udp"
}

func (d *DNSProber) perQueryTimeout() time.Duration {
	if d.QueryTimeout > 0 {
		return d.QueryTimeout
	}
	return 2000 * time.Millisecond
}

// asMap renders the query result for the details map so the telemetry
// mapping stays lossless
func (q DNSQueryResult) asMap() map[string]any {
	m := map[string]any{
		"domain":        q.Domain,
		"server":        q.Server,
		"record_type":   q.RecordType,
		"query_time_ms": q.QueryTimeMs,
		"result_code":   q.ResultCode,
		"rcode_value":   q.RcodeValue,
	}
	if len(q.Answers) > 0 {
		m["answers"] = q.Answers
	}
	if q.Error != "" {
		m["error"] = q.Error
	}
	return m
}
