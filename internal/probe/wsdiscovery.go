package probe

import (
	"context"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// probeEnvelope is the WS-Discovery probe; %s carries the MessageID so
// replies can be correlated through RelatesTo
const probeEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
	<s:Envelope
		xmlns:s="http://www.w3.org/2003/05/soap-envelope"
		xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing">
		<s:Header>
			<a:Action s:mustUnderstand="1">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
			<a:MessageID>%MESSAGE_ID%</a:MessageID>
			<a:ReplyTo><a:Address>http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous</a:Address></a:ReplyTo>
			<a:To s:mustUnderstand="1">urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
		</s:Header>
		<s:Body>
			<Probe xmlns="http://schemas.xmlsoap.org/ws/2005/04/discovery">
				<d:Types xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery" xmlns:dp0="http://www.onvif.org/ver10/network/wsdl">dp0:NetworkVideoTransmitter</d:Types>
			</Probe>
		</s:Body>
	</s:Envelope>`

var collapseXML = regexp.MustCompile(`>\s+<`)
var collapseSpace = regexp.MustCompile(`\s+`)

// probeMatch is one WS-Discovery reply worth following up
type probeMatch struct {
	Endpoint   string
	InstanceID string
	Types      []string
	Scopes     []string
}

// ONVIFProber drives two-phase SOAP discovery: a UDP probe to find the
// device service endpoint, then unicast introspection calls against it
type ONVIFProber struct {
	log zerolog.Logger

	// SubTimeout bounds each phase-2 introspection call independently
	// of the phase-1 window
	SubTimeout time.Duration
}

// NewONVIFProber creates a WS-Discovery/SOAP prober
func NewONVIFProber(log zerolog.Logger) *ONVIFProber {
	return &ONVIFProber{
		log:        log.With().Str("prober", "onvif").Logger(),
		SubTimeout: 3 * time.Second,
	}
}

// Name returns the prober identifier
func (o *ONVIFProber) Name() string { return "onvif" }

// DefaultPort returns the WS-Discovery port
func (o *ONVIFProber) DefaultPort() int { return 3702 }

// ServiceTag classifies positive results
func (o *ONVIFProber) ServiceTag() string { return "onvif" }

// Discover probes the target and, on a match, enriches the result with
// unicast introspection. Only a phase-1 miss is non-discovery; a
// phase-2 call failure just leaves its fields absent.
func (o *ONVIFProber) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)

	match, err := o.probePhase(target, deadline)
	if err != nil {
		o.log.Debug().Err(err).Str("address", target.Address).Msg("no discovery match")
		return NotFound()
	}

	details := map[string]any{
		"endpoint":    match.Endpoint,
		"instance_id": match.InstanceID,
	}
	if len(match.Types) > 0 {
		details["types"] = match.Types
	}
	if category := categorize(match.Types); category != "" {
		details["device_category"] = category
	}

	scope := parseScopes(match.Scopes)
	if scope.Name != "" {
		details["device_name"] = scope.Name
	}
	if scope.Hardware != "" {
		details["hardware"] = scope.Hardware
	}
	if scope.Location != "" {
		details["location"] = scope.Location
	}
	if scope.MAC != "" {
		details["mac_address"] = scope.MAC
	}

	o.introspect(ctx, match.Endpoint, details)

	return Result{Found: true, Details: details}
}

// probePhase sends the probe envelope and collects the first reply that
// relates to our MessageID
func (o *ONVIFProber) probePhase(target Target, deadline time.Time) (probeMatch, error) {
	messageID := "uuid:" + uuid.New().String()
	request := strings.Replace(probeEnvelope, "%MESSAGE_ID%", messageID, 1)
	request = collapseXML.ReplaceAllString(request, "><")
	request = collapseSpace.ReplaceAllString(request, " ")

	dst, err := net.ResolveUDPAddr("udp4", target.Addr(o.DefaultPort()))
	if err != nil {
		return probeMatch{}, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return probeMatch{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return probeMatch{}, err
	}
	if _, err := conn.WriteToUDP([]byte(request), dst); err != nil {
		return probeMatch{}, err
	}

	buf := make([]byte, 10*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return probeMatch{}, err
		}
		match, ok := parseProbeMatch(messageID, buf[:n])
		if ok {
			return match, nil
		}
	}
}

// parseProbeMatch extracts the first ProbeMatch from a reply that
// relates to the given message id
func parseProbeMatch(messageID string, reply []byte) (probeMatch, bool) {
	doc, err := mxj.NewMapXml(reply)
	if err != nil {
		return probeMatch{}, false
	}

	relates, err := doc.ValueForPath("Envelope.Header.RelatesTo")
	if err != nil {
		return probeMatch{}, false
	}
	// Some devices attach attributes, which turns the value into a map
	if m, ok := relates.(map[string]interface{}); ok {
		relates = m["#text"]
	}
	if relates != messageID {
		return probeMatch{}, false
	}

	match := probeMatch{}
	instance, _ := doc.ValueForPathString("Envelope.Body.ProbeMatches.ProbeMatch.EndpointReference.Address")
	instance = strings.Replace(instance, "urn:uuid:", "", 1)
	match.InstanceID = strings.Replace(instance, "uuid:", "", 1)

	xaddrs, _ := doc.ValueForPathString("Envelope.Body.ProbeMatches.ProbeMatch.XAddrs")
	if fields := strings.Fields(xaddrs); len(fields) > 0 {
		match.Endpoint = fields[0]
	}
	if match.Endpoint == "" {
		return probeMatch{}, false
	}

	if types, _ := doc.ValueForPathString("Envelope.Body.ProbeMatches.ProbeMatch.Types"); types != "" {
		match.Types = strings.Fields(types)
	}
	if scopes, _ := doc.ValueForPathString("Envelope.Body.ProbeMatches.ProbeMatch.Scopes"); scopes != "" {
		match.Scopes = strings.Fields(scopes)
	}
	return match, true
}

// scopeInfo is what devices advertise through their discovery scopes
type scopeInfo struct {
	Name     string
	Hardware string
	Location string
	MAC      string
}

// parseScopes reads the onvif scope URIs devices publish alongside a
// probe match
func parseScopes(scopes []string) scopeInfo {
	var info scopeInfo
	for _, s := range scopes {
		const prefix = "onvif://www.onvif.org/"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := strings.TrimPrefix(s, prefix)
		key, value, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if decoded := urlUnescape(value); decoded != "" {
			value = decoded
		}
		switch strings.ToLower(key) {
		case "name":
			info.Name = firstNonEmpty(info.Name, value)
		case "hardware":
			info.Hardware = firstNonEmpty(info.Hardware, value)
		case "location":
			// location scopes may nest, e.g. location/city/shanghai
			info.Location = firstNonEmpty(info.Location, strings.ReplaceAll(value, "/", " "))
		case "mac", "macaddress":
			info.MAC = firstNonEmpty(info.MAC, value)
		}
	}
	return info
}

// categorize derives a coarse device category from advertised types
func categorize(types []string) string {
	for _, t := range types {
		lower := strings.ToLower(t)
		switch {
		case strings.Contains(lower, "networkvideotransmitter"):
			return "camera"
		case strings.Contains(lower, "printer"):
			return "printer"
		case strings.Contains(lower, "device"):
			return "device"
		}
	}
	return ""
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}
