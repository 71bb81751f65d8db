package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"
)

// PortScanProber runs a single-target nmap scan with service detection.
// It complements the protocol probers: a positive result only says that
// TCP services answered, not what the device is.
type PortScanProber struct {
	log zerolog.Logger

	// Ports is the nmap port specification to scan
	Ports string
}

// defaultScanPorts covers the services the other probers care about
// plus the usual management ports
const defaultScanPorts = "22,53,80,102,443,554,1900,3389,3702,8080,8443,9100"

// NewPortScanProber creates an nmap-backed port scan prober
func NewPortScanProber(log zerolog.Logger) *PortScanProber {
	return &PortScanProber{
		log:   log.With().Str("prober", "portscan").Logger(),
		Ports: defaultScanPorts,
	}
}

// Name returns the prober identifier
func (p *PortScanProber) Name() string { return "portscan" }

// DefaultPort is zero: the port list comes from configuration
func (p *PortScanProber) DefaultPort() int { return 0 }

// ServiceTag classifies positive results
func (p *PortScanProber) ServiceTag() string { return "tcp" }

// Discover scans the target's ports. A missing nmap binary or a failed
// run folds to Found=false like any other transport failure.
func (p *PortScanProber) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)
	scanCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ports := p.Ports
	if target.Port != 0 {
		ports = fmt.Sprintf("%d", target.Port)
	}

	scanner, err := nmap.NewScanner(
		scanCtx,
		nmap.WithTargets(target.Address),
		nmap.WithPorts(ports),
		nmap.WithServiceInfo(),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		p.log.Debug().Err(err).Msg("scanner unavailable")
		return NotFound()
	}

	run, warnings, err := scanner.Run()
	if err != nil {
		p.log.Debug().Err(err).Str("address", target.Address).Msg("scan failed")
		return NotFound()
	}
	if warnings != nil && len(*warnings) > 0 {
		p.log.Debug().Strs("warnings", *warnings).Msg("scan warnings")
	}

	openPorts := make([]int, 0)
	services := make(map[string]any)
	for _, host := range run.Hosts {
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			id := int(port.ID)
			openPorts = append(openPorts, id)
			name := port.Service.Name
			if port.Service.Product != "" {
				name = strings.TrimSpace(name + " " + port.Service.Product)
			}
			if name != "" {
				services[fmt.Sprintf("%d", id)] = name
			}
		}
	}
	if len(openPorts) == 0 {
		return NotFound()
	}
	sort.Ints(openPorts)

	details := map[string]any{
		"open_ports":      openPorts,
		"open_port_count": len(openPorts),
	}
	if len(services) > 0 {
		details["services"] = services
	}
	return Result{Found: true, Details: details}
}
