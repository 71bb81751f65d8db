// Package probe implements protocol probers for Fleetscan.
//
// Probers are pluggable components that test a single target address for
// the presence of one protocol and extract identifying metadata from it.
// Each prober implements the Prober interface and registers with the
// central registry.
//
// # Discovery Contract
//
// Discover takes one (address, port, timeout) target, owns exactly one
// socket or connection for its lifetime, and returns a Result rather than
// an error: every transport, protocol, or parse failure folds into
// Found=false. This fail-open contract lets a battery of probers run
// across a large address space without aborting on an unreachable or
// non-conforming host. A failed probe is indistinguishable from "protocol
// absent"; callers that need diagnosability read the prober's log output.
//
// # Core Probers
//
// S7Prober drives the three-stage S7comm handshake (COTP connect, setup
// communication, SZL diagnostic query) over TCP port 102 and identifies
// PLC modules from the diagnostic payload.
//
// ONVIFProber performs two-phase WS-Discovery: a UDP probe envelope,
// then unicast SOAP introspection of the discovered service endpoint.
//
// DNSProber queries a resolver pinned to the target server and maps
// responses to DNS-style result codes.
//
// SSDPProber sends a unicast M-SEARCH datagram and collects LOCATION
// URLs from replies, rewriting advertised hosts to the probed address.
//
// SSHProber and PortScanProber round out fleet identification with an
// SSH host-key capture and a single-target nmap service scan.
//
// # Registry
//
// Registry manages registered probers by protocol name. DefaultRegistry
// builds one with all built-in probers wired from configuration.
package probe
