package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Target identifies one host to probe
type Target struct {
	// Address is the IP or hostname to probe
	Address string
	// Port overrides the prober's default port when non-zero
	Port int
	// Timeout bounds the whole exchange, socket setup included
	Timeout time.Duration
}

// Addr returns the dialable host:port for this target, falling back to
// the given default port when none is set
func (t Target) Addr(defaultPort int) string {
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Address, fmt.Sprintf("%d", port))
}

// Result is the outcome of one Discover call. Details is owned by the
// caller once returned and is never retained by the prober.
type Result struct {
	Found   bool           `json:"found"`
	Details map[string]any `json:"details,omitempty"`
}

// NotFound is the zero outcome every failure path resolves to
func NotFound() Result {
	return Result{}
}

// Prober is the discovery contract shared by all protocol probers.
//
// Discover must release every socket before returning on all paths and
// resolve within the target timeout plus bounded I/O slack. It never
// returns an error: failures of any kind yield Found=false.
type Prober interface {
	// Name returns the unique protocol identifier for this prober
	Name() string

	// DefaultPort returns the port probed when the target sets none
	DefaultPort() int

	// ServiceTag classifies what a positive result identifies
	ServiceTag() string

	// Discover probes the target for this prober's protocol
	Discover(ctx context.Context, target Target) Result
}

// deadlineFor resolves the effective deadline for one Discover call:
// the target timeout, tightened by the context deadline if sooner.
func deadlineFor(ctx context.Context, t Target) time.Time {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// timeLeft clamps the remaining budget before deadline to zero
func timeLeft(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
