package probe

import (
	"context"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const maxDatagramSize = 4096

// ssdpSearch is sent verbatim to the probed address. The HOST header
// keeps the standard multicast group even though the datagram goes
// unicast; devices in the field answer it that way, so it stays.
const ssdpSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 3\r\n" +
	"ST: ssdp:all\r\n" +
	"USER-AGENT: UNICAST\r\n" +
	"\r\n"

// SSDPProber sends one unicast M-SEARCH and collects LOCATION URLs from
// replies until the timeout window closes
type SSDPProber struct {
	log zerolog.Logger
}

// NewSSDPProber creates an SSDP broadcast/collect prober
func NewSSDPProber(log zerolog.Logger) *SSDPProber {
	return &SSDPProber{log: log.With().Str("prober", "ssdp").Logger()}
}

// Name returns the prober identifier
func (s *SSDPProber) Name() string { return "ssdp" }

// DefaultPort returns the standard SSDP port
func (s *SSDPProber) DefaultPort() int { return 1900 }

// ServiceTag classifies positive results
func (s *SSDPProber) ServiceTag() string { return "upnp" }

// Discover probes the target for UPnP-style SSDP replies. Timeout expiry
// is normal termination; whatever was collected by then is the result.
func (s *SSDPProber) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)

	dst, err := net.ResolveUDPAddr("udp4", target.Addr(s.DefaultPort()))
	if err != nil {
		s.log.Debug().Err(err).Str("address", target.Address).Msg("resolve failed")
		return NotFound()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		s.log.Debug().Err(err).Msg("udp listen failed")
		return NotFound()
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(ssdpSearch), dst); err != nil {
		s.log.Debug().Err(err).Str("target", dst.String()).Msg("send failed")
		return NotFound()
	}

	locations := make(map[string]struct{})
	buf := make([]byte, maxDatagramSize)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Deadline expiry ends the collect window
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			s.log.Debug().Err(err).Msg("read failed")
			break
		}

		// Only the probed host may answer; drop cross-talk
		if !sameHost(src.IP, target.Address) {
			s.log.Debug().Str("src", src.String()).Msg("ignoring reply from foreign source")
			continue
		}

		loc := extractLocation(buf[:n])
		if loc == "" {
			continue
		}
		locations[rewriteLocation(loc, target.Address)] = struct{}{}
	}

	if len(locations) == 0 {
		return NotFound()
	}

	urls := make([]string, 0, len(locations))
	for u := range locations {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	s.log.Debug().Int("locations", len(urls)).Str("address", target.Address).Msg("ssdp replies collected")

	return Result{
		Found: true,
		Details: map[string]any{
			"locations":      urls,
			"location_count": len(urls),
		},
	}
}

// sameHost reports whether a reply source matches the probed address
func sameHost(src net.IP, address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return src.String() == address
	}
	return src.Equal(ip)
}

// extractLocation pulls the LOCATION header value from a reply datagram.
// Header-name matching is case-insensitive per HTTP rules.
func extractLocation(datagram []byte) string {
	for _, line := range strings.Split(string(datagram), "\r\n") {
		if len(line) < 9 {
			continue
		}
		if strings.EqualFold(line[:9], "location:") {
			return strings.TrimSpace(line[9:])
		}
	}
	return ""
}

// rewriteLocation replaces the advertised host with the probed address,
// keeping scheme, port, path, and query. Devices behind NAT advertise
// internal addresses that are unusable from here. A location that does
// not parse is kept as-is rather than dropped.
func rewriteLocation(location, address string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return location
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(address, port)
	} else {
		u.Host = address
	}
	return u.String()
}
