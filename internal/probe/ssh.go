package probe

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SSHProber identifies SSH endpoints without authenticating: the
// handshake runs far enough to capture the host key, which is proof
// enough that a real SSH server answered
type SSHProber struct {
	log zerolog.Logger

	// User presented during the (expected-to-fail) auth step
	User string
}

// NewSSHProber creates an SSH identification prober
func NewSSHProber(log zerolog.Logger) *SSHProber {
	return &SSHProber{
		log:  log.With().Str("prober", "ssh").Logger(),
		User: "fleetscan",
	}
}

// Name returns the prober identifier
func (s *SSHProber) Name() string { return "ssh" }

// DefaultPort returns the standard SSH port
func (s *SSHProber) DefaultPort() int { return 22 }

// ServiceTag classifies positive results
func (s *SSHProber) ServiceTag() string { return "ssh" }

// Discover dials the target and runs an anonymous handshake. A captured
// host key means Found even though authentication is refused.
func (s *SSHProber) Discover(ctx context.Context, target Target) Result {
	deadline := deadlineFor(ctx, target)
	addr := target.Addr(s.DefaultPort())

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("connect failed")
		return NotFound()
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	var hostKey ssh.PublicKey
	config := &ssh.ClientConfig{
		User: s.User,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKey = key
			return nil
		},
		Timeout: timeLeft(deadline),
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err == nil {
		// Unusual: the server accepted an auth-less connection
		client := ssh.NewClient(sshConn, chans, reqs)
		defer client.Close()
	}
	if hostKey == nil {
		s.log.Debug().Err(err).Str("target", addr).Msg("no key exchange")
		return NotFound()
	}

	return Result{
		Found: true,
		Details: map[string]any{
			"host_key_type":        hostKey.Type(),
			"host_key_fingerprint": ssh.FingerprintSHA256(hostKey),
		},
	}
}
